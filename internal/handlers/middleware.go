package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"apk-portal/internal/auth"
	"apk-portal/internal/upload"
)

type principalKey struct{}

// RequireAdmin rejects requests without a valid admin session. A token
// past half of its lifetime is replaced by a fresh session cookie.
func RequireAdmin(svc *auth.Service, secure bool, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := svc.Authenticate(r.Context(), sessionToken(r))
			if err != nil {
				respondAppError(w, log, err)
				return
			}

			token, renewed, err := svc.Renew(p)
			if err != nil {
				log.Warn("failed to renew session token", "admin_id", p.Admin.ID, "error", err)
			} else if renewed {
				setSessionCookie(w, token, svc.MaxAge(), secure)
			}

			ctx := context.WithValue(r.Context(), principalKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// setSessionCookie sets the session cookie; a negative maxAge clears it
func setSessionCookie(w http.ResponseWriter, token string, maxAge time.Duration, secure bool) {
	c := &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge < 0 {
		c.MaxAge = -1
	}
	http.SetCookie(w, c)
}

// principalFrom returns the admin set by RequireAdmin
func principalFrom(r *http.Request) *auth.Principal {
	p, _ := r.Context().Value(principalKey{}).(*auth.Principal)
	return p
}

func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(auth.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// actorFrom describes the caller for audit records
func actorFrom(r *http.Request) upload.Actor {
	actor := upload.Actor{IP: clientIP(r), UserAgent: r.UserAgent()}
	if p := principalFrom(r); p != nil {
		id := p.Admin.ID
		actor.AdminID = &id
	}
	return actor
}

// LogRequests logs one line per request
func LogRequests(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
				"ip", clientIP(r),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
