package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"apk-portal/internal/apperr"
	"apk-portal/internal/models"
	"apk-portal/internal/upload"
)

// formOverhead is allowed on top of the package size for the other fields
const formOverhead = 1 << 20

// UploadHandler handles package uploads and the overwrite confirmation
type UploadHandler struct {
	arbitrator *upload.Arbitrator
	maxBytes   int64
	log        *slog.Logger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(arbitrator *upload.Arbitrator, maxBytes int64, log *slog.Logger) *UploadHandler {
	return &UploadHandler{
		arbitrator: arbitrator,
		maxBytes:   maxBytes,
		log:        log.With("component", "handlers.upload"),
	}
}

// SubmitResponse is returned by POST /admin/packages and confirm
type SubmitResponse struct {
	Status      string           `json:"status"`
	Message     string           `json:"message"`
	Application string           `json:"application"`
	Version     *models.Version  `json:"version,omitempty"`
	Revision    *models.Revision `json:"revision,omitempty"`
	Pending     *PendingResponse `json:"pending,omitempty"`
}

// PendingResponse describes a staged overwrite awaiting confirmation
type PendingResponse struct {
	Token            string `json:"token"`
	ApplicationID    uint   `json:"application_id"`
	ApplicationName  string `json:"application_name"`
	Version          string `json:"version"`
	ReleaseNote      string `json:"release_note,omitempty"`
	OriginalFilename string `json:"original_filename"`
	CreatedAt        string `json:"created_at"`
}

func pendingResponse(p *models.StagedUpload) *PendingResponse {
	if p == nil {
		return nil
	}
	return &PendingResponse{
		Token:            p.Token,
		ApplicationID:    p.ApplicationID,
		ApplicationName:  p.ApplicationName,
		Version:          p.Version,
		ReleaseNote:      p.ReleaseNote,
		OriginalFilename: p.OriginalFilename,
		CreatedAt:        p.CreatedAt.Format(time.RFC3339),
	}
}

// HandleSubmit handles POST /admin/packages
func (h *UploadHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	sub, err := h.parseSubmission(w, r)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	out, err := h.arbitrator.Submit(r.Context(), *sub)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	if out.Kind == upload.Staged {
		respondJSON(w, http.StatusAccepted, SubmitResponse{
			Status:      out.Kind.String(),
			Message:     "version already exists; confirm to replace the current file",
			Application: out.Application.Name,
			Version:     out.Version,
			Pending:     pendingResponse(out.Pending),
		})
		return
	}

	respondJSON(w, http.StatusCreated, SubmitResponse{
		Status:      out.Kind.String(),
		Message:     "package uploaded",
		Application: out.Application.Name,
		Version:     out.Version,
		Revision:    out.Revision,
	})
}

// parseSubmission reads the multipart form into a Submission
func (h *UploadHandler) parseSubmission(w http.ResponseWriter, r *http.Request) (*upload.Submission, error) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+formOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.Validation("upload", "invalid package: file exceeds the upload limit")
		}
		return nil, apperr.Validation("upload", "failed to parse form")
	}

	appID, ok := parseID(r.FormValue("app_id"))
	if !ok {
		return nil, apperr.Validation("upload", "invalid application")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, apperr.Validation("upload", "file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, apperr.Validation("upload", "failed to read file")
	}

	p := principalFrom(r)
	return &upload.Submission{
		SessionID:     p.SessionID,
		ApplicationID: appID,
		Version:       r.FormValue("version"),
		ReleaseNote:   strings.TrimSpace(r.FormValue("release_note")),
		Filename:      header.Filename,
		ContentType:   header.Header.Get("Content-Type"),
		Data:          data,
		Actor:         actorFrom(r),
	}, nil
}

// HandlePending handles GET /admin/packages/pending
func (h *UploadHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.arbitrator.Pending(r.Context(), principalFrom(r).SessionID)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"pending": pendingResponse(pending)})
}

// HandleConfirm handles POST /admin/packages/confirm
func (h *UploadHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	err := decodeBody(r, &body, func(get func(string) string) {
		body.Token = get("token")
	})
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	out, err := h.arbitrator.Confirm(r.Context(), principalFrom(r).SessionID, strings.TrimSpace(body.Token), actorFrom(r))
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, SubmitResponse{
		Status:      out.Kind.String(),
		Message:     "current file replaced",
		Application: out.Application.Name,
		Version:     out.Version,
		Revision:    out.Revision,
	})
}

// HandleAbandon handles DELETE /admin/packages/pending
func (h *UploadHandler) HandleAbandon(w http.ResponseWriter, r *http.Request) {
	if err := h.arbitrator.Abandon(r.Context(), principalFrom(r).SessionID); err != nil {
		respondAppError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteVersion handles DELETE /admin/versions/{id}
func (h *UploadHandler) HandleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid version id", nil)
		return
	}

	result, err := h.arbitrator.DeleteVersion(r.Context(), id, actorFrom(r))
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
