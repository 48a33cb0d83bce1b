package handlers

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"

	"apk-portal/internal/apperr"
	"apk-portal/internal/audit"
	"apk-portal/internal/ledger"
	"apk-portal/internal/models"
	"apk-portal/internal/registry"
	"apk-portal/internal/storage"
)

const packageContentType = "application/vnd.android.package-archive"

// ConsumerHandler serves the public catalog and downloads
type ConsumerHandler struct {
	registry *registry.Registry
	ledger   *ledger.Ledger
	storage  storage.Storage
	recorder *audit.Recorder
	log      *slog.Logger
}

// NewConsumerHandler creates a new consumer handler
func NewConsumerHandler(reg *registry.Registry, l *ledger.Ledger, store storage.Storage, recorder *audit.Recorder, log *slog.Logger) *ConsumerHandler {
	return &ConsumerHandler{
		registry: reg,
		ledger:   l,
		storage:  store,
		recorder: recorder,
		log:      log.With("component", "handlers.consumer"),
	}
}

// AppListing is one application on the public index
type AppListing struct {
	models.ApplicationType
	Latest *ledger.VersionSummary `json:"latest_version,omitempty"`
}

// AppDetail is an application with all of its versions
type AppDetail struct {
	models.ApplicationType
	Versions []ledger.VersionSummary `json:"versions"`
}

// HandleHealth handles GET /health requests
func (h *ConsumerHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// HandleListApps handles GET /api/apps
func (h *ConsumerHandler) HandleListApps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	apps, err := h.registry.List(ctx, true)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	out := make([]AppListing, 0, len(apps))
	for _, app := range apps {
		latest, err := h.ledger.LatestVersion(ctx, app.ID)
		if err != nil {
			respondAppError(w, h.log, err)
			return
		}
		out = append(out, AppListing{ApplicationType: app, Latest: latest})
	}
	respondJSON(w, http.StatusOK, out)
}

// HandleGetApp handles GET /api/apps/{slug}
func (h *ConsumerHandler) HandleGetApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	app, err := h.registry.FindBySlug(ctx, mux.Vars(r)["slug"])
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}
	if !app.IsActive {
		respondAppError(w, h.log, apperr.NotFound("consumer", "application not found"))
		return
	}

	versions, err := h.ledger.ListVersions(ctx, app.ID)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, AppDetail{ApplicationType: *app, Versions: versions})
}

// HandleDownload handles GET /download/{revisionID}. A revision whose blob
// has vanished is reported as not found.
func (h *ConsumerHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := parseID(mux.Vars(r)["revisionID"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid revision id", nil)
		return
	}

	rev, err := h.ledger.GetRevision(ctx, id)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}
	v, err := h.ledger.GetVersion(ctx, rev.VersionID)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	blob, _, err := h.storage.Open(rev.Locator)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			h.log.Warn("revision blob missing", "revision_id", rev.ID, "locator", rev.Locator)
			respondAppError(w, h.log, apperr.NotFound("consumer", "stored file not found"))
			return
		}
		respondAppError(w, h.log, err)
		return
	}
	defer blob.Close()

	if r.Method != http.MethodHead {
		h.recorder.RecordDownload(ctx, audit.Download{
			RevisionID:    rev.ID,
			ApplicationID: v.ApplicationID,
			Version:       v.Version,
			IP:            clientIP(r),
			UserAgent:     r.UserAgent(),
		})
	}

	w.Header().Set("Content-Type", packageContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(rev.Filename)}))
	w.Header().Set("X-File-Version", v.Version)
	w.Header().Set("X-File-Revision", fmt.Sprintf("%d", rev.RevisionNo))
	w.Header().Set("X-File-Checksum", rev.SHA256)

	http.ServeContent(w, r, "", rev.CreatedAt, blob)
}
