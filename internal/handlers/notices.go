package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"apk-portal/internal/audit"
	"apk-portal/internal/notices"
)

// NoticeHandler serves the public notice list and its admin editor
type NoticeHandler struct {
	board    *notices.Board
	recorder *audit.Recorder
	log      *slog.Logger
}

// NewNoticeHandler creates a new notice handler
func NewNoticeHandler(board *notices.Board, recorder *audit.Recorder, log *slog.Logger) *NoticeHandler {
	return &NoticeHandler{
		board:    board,
		recorder: recorder,
		log:      log.With("component", "handlers.notices"),
	}
}

// HandlePublic handles GET /api/notices
func (h *NoticeHandler) HandlePublic(w http.ResponseWriter, r *http.Request) {
	out, err := h.board.Visible(r.Context())
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// HandleList handles GET /admin/notices, hidden notices included
func (h *NoticeHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	out, err := h.board.List(r.Context())
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

type noticeRequest struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Pinned  *bool  `json:"is_pinned"`
	Visible *bool  `json:"is_visible"`
}

// decodeNotice reads a notice from JSON or a form. Notices are unpinned
// and visible unless the request says otherwise.
func decodeNotice(r *http.Request) (notices.Input, error) {
	var body noticeRequest
	err := decodeBody(r, &body, func(get func(string) string) {
		body.Title = get("title")
		body.Body = get("body")
		body.Pinned = formBool(get("is_pinned"))
		body.Visible = formBool(get("is_visible"))
	})
	if err != nil {
		return notices.Input{}, err
	}

	in := notices.Input{Title: body.Title, Body: body.Body, Visible: true}
	if body.Pinned != nil {
		in.Pinned = *body.Pinned
	}
	if body.Visible != nil {
		in.Visible = *body.Visible
	}
	return in, nil
}

func formBool(raw string) *bool {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return nil
	}
	v := raw == "1" || raw == "true" || raw == "on"
	return &v
}

// HandleCreate handles POST /admin/notices
func (h *NoticeHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	in, err := decodeNotice(r)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	n, err := h.board.Create(r.Context(), in, actorFrom(r).AdminID)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	h.record(r, "create_notice", n.ID)
	respondJSON(w, http.StatusCreated, n)
}

// HandleUpdate handles PUT /admin/notices/{id}
func (h *NoticeHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid notice id", nil)
		return
	}

	in, err := decodeNotice(r)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	n, err := h.board.Update(r.Context(), id, in)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	h.record(r, "update_notice", n.ID)
	respondJSON(w, http.StatusOK, n)
}

// HandleToggle handles POST /admin/notices/{id}/toggle
func (h *NoticeHandler) HandleToggle(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid notice id", nil)
		return
	}

	n, err := h.board.ToggleVisibility(r.Context(), id)
	if err != nil {
		respondAppError(w, h.log, err)
		return
	}

	h.record(r, "toggle_notice_visibility", n.ID)
	respondJSON(w, http.StatusOK, n)
}

func (h *NoticeHandler) record(r *http.Request, action string, noticeID uint) {
	actor := actorFrom(r)
	h.recorder.Record(r.Context(), audit.Event{
		ActorType:  audit.ActorAdmin,
		ActorID:    actor.AdminID,
		Action:     action,
		TargetType: "notice",
		TargetID:   audit.ID(noticeID),
		IP:         actor.IP,
		UserAgent:  actor.UserAgent,
	})
}
