package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"apk-portal/internal/apperr"
	"apk-portal/internal/audit"
	"apk-portal/internal/auth"
	"apk-portal/internal/ledger"
	"apk-portal/internal/models"
	"apk-portal/internal/registry"
)

// AdminHandler serves session, catalog and history endpoints for admins
type AdminHandler struct {
	auth     *auth.Service
	registry *registry.Registry
	ledger   *ledger.Ledger
	recorder *audit.Recorder
	secure   bool
	log      *slog.Logger
}

// NewAdminHandler creates a new admin handler. secure marks the session
// cookie as HTTPS only.
func NewAdminHandler(svc *auth.Service, reg *registry.Registry, l *ledger.Ledger, recorder *audit.Recorder, secure bool, log *slog.Logger) *AdminHandler {
	return &AdminHandler{
		auth:     svc,
		registry: reg,
		ledger:   l,
		recorder: recorder,
		secure:   secure,
		log:      log.With("component", "handlers.admin"),
	}
}

// LoginResponse is returned by POST /admin/login
type LoginResponse struct {
	Token string            `json:"token"`
	Admin *models.AdminUser `json:"admin"`
}

// HandleLogin handles POST /admin/login
func (h *AdminHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	err := decodeBody(r, &body, func(get func(string) string) {
		body.Username = get("username")
		body.Password = get("password")
	})
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	token, admin, err := h.auth.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		h.log.Info("login rejected", "username", body.Username, "ip", clientIP(r))
		respondAppError(w, h.log, err)
		return
	}

	setSessionCookie(w, token, h.auth.MaxAge(), h.secure)

	h.recorder.Record(r.Context(), audit.Event{
		ActorType:  audit.ActorAdmin,
		ActorID:    audit.ID(admin.ID),
		Action:     "admin_login",
		TargetType: "admin_user",
		TargetID:   audit.ID(admin.ID),
		IP:         clientIP(r),
		UserAgent:  r.UserAgent(),
	})

	respondJSON(w, http.StatusOK, LoginResponse{Token: token, Admin: admin})
}

// HandleLogout handles POST /admin/logout
func (h *AdminHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if err := h.auth.Logout(r.Context(), p.SessionID); err != nil {
		respondAppError(w, h.log, err)
		return
	}

	setSessionCookie(w, "", -1, h.secure)

	h.recorder.Record(r.Context(), audit.Event{
		ActorType:  audit.ActorAdmin,
		ActorID:    audit.ID(p.Admin.ID),
		Action:     "admin_logout",
		TargetType: "admin_user",
		TargetID:   audit.ID(p.Admin.ID),
		IP:         clientIP(r),
		UserAgent:  r.UserAgent(),
	})

	w.WriteHeader(http.StatusNoContent)
}

// HandleMe handles GET /admin/me
func (h *AdminHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, principalFrom(r).Admin)
}

// HandleStats handles GET /admin/stats
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.Stats(r.Context())
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// HandleAudit handles GET /admin/audit
func (h *AdminHandler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	logs, err := h.recorder.Recent(r.Context(), parseLimit(r, 100))
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

// HandleListApps handles GET /admin/apps, inactive applications included
func (h *AdminHandler) HandleListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := h.registry.List(r.Context(), false)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, apps)
}

type appRequest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Active      *bool  `json:"is_active"`
}

func (h *AdminHandler) decodeApp(r *http.Request) (registry.AppInput, error) {
	var body appRequest
	err := decodeBody(r, &body, func(get func(string) string) {
		body.Name = get("name")
		body.Slug = get("slug")
		body.Description = get("description")
		body.Active = formBool(get("is_active"))
	})
	if err != nil {
		return registry.AppInput{}, err
	}

	in := registry.AppInput{
		Name:        body.Name,
		Slug:        body.Slug,
		Description: body.Description,
		Active:      true,
	}
	if body.Active != nil {
		in.Active = *body.Active
	}
	return in, nil
}

// HandleCreateApp handles POST /admin/apps
func (h *AdminHandler) HandleCreateApp(w http.ResponseWriter, r *http.Request) {
	in, err := h.decodeApp(r)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	app, err := h.registry.Create(r.Context(), in)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	h.recordApp(r, "create_app_type", app.ID)
	respondJSON(w, http.StatusCreated, app)
}

// HandleUpdateApp handles PUT /admin/apps/{id}
func (h *AdminHandler) HandleUpdateApp(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid application id", nil)
		return
	}

	in, err := h.decodeApp(r)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	app, err := h.registry.Update(r.Context(), id, in)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	h.recordApp(r, "update_app_type", app.ID)
	respondJSON(w, http.StatusOK, app)
}

func (h *AdminHandler) recordApp(r *http.Request, action string, appID uint) {
	actor := actorFrom(r)
	h.recorder.Record(r.Context(), audit.Event{
		ActorType:  audit.ActorAdmin,
		ActorID:    actor.AdminID,
		Action:     action,
		TargetType: "application_type",
		TargetID:   audit.ID(appID),
		IP:         actor.IP,
		UserAgent:  actor.UserAgent,
	})
}

// HandleListVersions handles GET /admin/versions
func (h *AdminHandler) HandleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.ledger.RecentVersions(r.Context(), parseLimit(r, 50))
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, versions)
}

// RevisionHistory is a version with every revision it has had
type RevisionHistory struct {
	Version   *models.Version   `json:"version"`
	Revisions []models.Revision `json:"revisions"`
}

// HandleListRevisions handles GET /admin/versions/{id}/revisions
func (h *AdminHandler) HandleListRevisions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		respondAppError(w, h.log, apperr.Validation("admin", "invalid version id"))
		return
	}

	v, err := h.ledger.GetVersion(r.Context(), id)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}
	revisions, err := h.ledger.ListRevisions(r.Context(), v.ID)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, RevisionHistory{Version: v, Revisions: revisions})
}
