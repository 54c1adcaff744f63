package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type sendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage handles POST /api/messages/{roomID} (spec §4.4,
// scenario 3). Content is sanitized at the edge before it reaches the
// service, per the DOMAIN STACK's content-sanitization binding.
func (rt *Router) SendMessage(w http.ResponseWriter, req *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(req, "roomID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid room id"})
		return
	}
	var in sendMessageRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid request body"})
		return
	}

	msg, err := rt.messages.Send(req.Context(), roomID, currentUser(req).ID, rt.sanitizer.Sanitize(in.Content))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, msg)
}

// GetRecentMessages handles GET /api/messages/{roomID}?limit=&before=
// (spec §4.4). limit is clamped to [1, 200] inside the service.
func (rt *Router) GetRecentMessages(w http.ResponseWriter, req *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(req, "roomID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid room id"})
		return
	}

	limit := parseLimit(req, rt.cfg.RecentMessagesDefaultLimit, rt.cfg.RecentMessagesMaxLimit)

	var before *time.Time
	if v := req.URL.Query().Get("before"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			before = &t
		}
	}

	recent, err := rt.messages.GetRecent(req.Context(), roomID, currentUser(req).ID, limit, before)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, recent)
}

type editMessageRequest struct {
	Content string `json:"content"`
}

// EditMessage handles PATCH /api/messages/id/{messageID}.
func (rt *Router) EditMessage(w http.ResponseWriter, req *http.Request) {
	messageID, err := uuid.Parse(chi.URLParam(req, "messageID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid message id"})
		return
	}
	var in editMessageRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid request body"})
		return
	}

	msg, err := rt.messages.Edit(req.Context(), messageID, currentUser(req).ID, rt.sanitizer.Sanitize(in.Content))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, msg)
}

// DeleteMessage handles DELETE /api/messages/id/{messageID}.
func (rt *Router) DeleteMessage(w http.ResponseWriter, req *http.Request) {
	messageID, err := uuid.Parse(chi.URLParam(req, "messageID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid message id"})
		return
	}
	if err := rt.messages.Delete(req.Context(), messageID, currentUser(req).ID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
