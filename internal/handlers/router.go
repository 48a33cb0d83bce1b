package handlers

import (
	"log/slog"
	"net/http"
	"net/http/pprof"

	"github.com/gorilla/mux"

	"apk-portal/internal/auth"
)

// RouterConfig collects the handlers mounted by NewRouter
type RouterConfig struct {
	Consumer *ConsumerHandler
	Admin    *AdminHandler
	Upload   *UploadHandler
	Notices  *NoticeHandler
	Auth     *auth.Service
	Log      *slog.Logger

	// Profiling mounts /debug/pprof behind the admin session
	Profiling bool
}

// NewRouter wires the public and admin routes
func NewRouter(cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()
	r.Use(LogRequests(cfg.Log.With("component", "http")))

	r.HandleFunc("/health", cfg.Consumer.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/apps", cfg.Consumer.HandleListApps).Methods(http.MethodGet)
	r.HandleFunc("/api/apps/{slug}", cfg.Consumer.HandleGetApp).Methods(http.MethodGet)
	r.HandleFunc("/api/notices", cfg.Notices.HandlePublic).Methods(http.MethodGet)
	r.HandleFunc("/download/{revisionID:[0-9]+}", cfg.Consumer.HandleDownload).Methods(http.MethodGet, http.MethodHead)

	r.HandleFunc("/admin/login", cfg.Admin.HandleLogin).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(RequireAdmin(cfg.Auth, cfg.Admin.secure, cfg.Log))

	admin.HandleFunc("/logout", cfg.Admin.HandleLogout).Methods(http.MethodPost)
	admin.HandleFunc("/me", cfg.Admin.HandleMe).Methods(http.MethodGet)
	admin.HandleFunc("/stats", cfg.Admin.HandleStats).Methods(http.MethodGet)
	admin.HandleFunc("/audit", cfg.Admin.HandleAudit).Methods(http.MethodGet)

	admin.HandleFunc("/apps", cfg.Admin.HandleListApps).Methods(http.MethodGet)
	admin.HandleFunc("/apps", cfg.Admin.HandleCreateApp).Methods(http.MethodPost)
	admin.HandleFunc("/apps/{id:[0-9]+}", cfg.Admin.HandleUpdateApp).Methods(http.MethodPut)

	admin.HandleFunc("/notices", cfg.Notices.HandleList).Methods(http.MethodGet)
	admin.HandleFunc("/notices", cfg.Notices.HandleCreate).Methods(http.MethodPost)
	admin.HandleFunc("/notices/{id:[0-9]+}", cfg.Notices.HandleUpdate).Methods(http.MethodPut)
	admin.HandleFunc("/notices/{id:[0-9]+}/toggle", cfg.Notices.HandleToggle).Methods(http.MethodPost)

	admin.HandleFunc("/packages", cfg.Upload.HandleSubmit).Methods(http.MethodPost)
	admin.HandleFunc("/packages/pending", cfg.Upload.HandlePending).Methods(http.MethodGet)
	admin.HandleFunc("/packages/pending", cfg.Upload.HandleAbandon).Methods(http.MethodDelete)
	admin.HandleFunc("/packages/confirm", cfg.Upload.HandleConfirm).Methods(http.MethodPost)

	admin.HandleFunc("/versions", cfg.Admin.HandleListVersions).Methods(http.MethodGet)
	admin.HandleFunc("/versions/{id:[0-9]+}/revisions", cfg.Admin.HandleListRevisions).Methods(http.MethodGet)
	admin.HandleFunc("/versions/{id:[0-9]+}", cfg.Upload.HandleDeleteVersion).Methods(http.MethodDelete)

	if cfg.Profiling {
		admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
		admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
		admin.HandleFunc("/debug/pprof/", pprof.Index)
		admin.HandleFunc("/debug/pprof/{profile}", func(w http.ResponseWriter, r *http.Request) {
			pprof.Handler(mux.Vars(r)["profile"]).ServeHTTP(w, r)
		})
	}

	return r
}
