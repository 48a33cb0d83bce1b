package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"apk-portal/internal/apperr"
	"apk-portal/internal/models"
)

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		jsonData, _ := json.Marshal(data)
		w.Write(jsonData)
	}
}

func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errorMsg := message
	if err != nil {
		errorMsg = fmt.Sprintf("%s: %v", message, err)
	}

	response := models.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: errorMsg,
	}

	respondJSON(w, statusCode, response)
}

// respondAppError maps an error's kind to a status code. Internal failures
// are logged and reported without detail.
func respondAppError(w http.ResponseWriter, log *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	message := apperr.Reason(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed", "error", err)
		message = "internal error"
	}

	respondJSON(w, status, models.ErrorResponse{
		Error:   http.StatusText(status),
		Kind:    kind.String(),
		Message: message,
	})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// clientIP prefers the first X-Forwarded-For hop
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseID(raw string) (uint, bool) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func parseLimit(r *http.Request, def int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}

// decodeBody reads a JSON body, or form values when the request is not JSON
func decodeBody(r *http.Request, dst interface{}, formFields func(get func(string) string)) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			return apperr.Validation("request", "invalid JSON body")
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return apperr.Validation("request", "invalid form body")
	}
	formFields(r.FormValue)
	return nil
}
