package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type createRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPublic    bool   `json:"is_public"`
}

// CreateRoom handles POST /api/rooms (spec §4.3).
func (rt *Router) CreateRoom(w http.ResponseWriter, req *http.Request) {
	var in createRoomRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid request body"})
		return
	}

	room, err := rt.rooms.Create(req.Context(), in.Name, rt.sanitizer.Sanitize(in.Description), in.IsPublic, currentUser(req).ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, room)
}

type updateRoomRequest struct {
	Description *string `json:"description"`
	IsPublic    *bool   `json:"is_public"`
}

// UpdateRoom handles PATCH /api/rooms/{roomID}.
func (rt *Router) UpdateRoom(w http.ResponseWriter, req *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(req, "roomID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid room id"})
		return
	}

	var in updateRoomRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid request body"})
		return
	}
	if in.Description != nil {
		sanitized := rt.sanitizer.Sanitize(*in.Description)
		in.Description = &sanitized
	}

	room, err := rt.rooms.Update(req.Context(), roomID, in.Description, in.IsPublic)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, room)
}

// GetRoom handles GET /api/rooms/{roomID}. It looks the room up among
// the caller's own rooms (ListForUser) only; a room the caller does not
// participate in answers 404 whether or not it exists.
func (rt *Router) GetRoom(w http.ResponseWriter, req *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(req, "roomID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid room id"})
		return
	}
	rooms, err := rt.rooms.ListForUser(req.Context(), currentUser(req).ID)
	if err != nil {
		respondError(w, err)
		return
	}
	for _, room := range rooms {
		if room.ID == roomID {
			respondJSON(w, http.StatusOK, room)
			return
		}
	}
	respondJSON(w, http.StatusNotFound, errorBody{Detail: "room not found"})
}

// DeleteRoom handles DELETE /api/rooms/{roomID}: owner-only, per §9's
// resolved delete_room authorization.
func (rt *Router) DeleteRoom(w http.ResponseWriter, req *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(req, "roomID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid room id"})
		return
	}
	if err := rt.rooms.Delete(req.Context(), roomID, currentUser(req).ID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ListMyRooms handles GET /api/rooms/mine.
func (rt *Router) ListMyRooms(w http.ResponseWriter, req *http.Request) {
	rooms, err := rt.rooms.ListForUser(req.Context(), currentUser(req).ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rooms)
}

// ListTopRooms handles GET /api/rooms/top?limit=.
func (rt *Router) ListTopRooms(w http.ResponseWriter, req *http.Request) {
	limit := parseLimit(req, 20, 100)
	rooms, err := rt.rooms.ListTopPublic(req.Context(), limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rooms)
}

// SearchRooms handles GET /api/rooms/search?q=&limit=.
func (rt *Router) SearchRooms(w http.ResponseWriter, req *http.Request) {
	limit := parseLimit(req, 20, 100)
	rooms, err := rt.rooms.Search(req.Context(), req.URL.Query().Get("q"), limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rooms)
}

// RequestJoin handles POST /api/rooms/{roomID}/join-request (spec
// §4.3, scenario 4).
func (rt *Router) RequestJoin(w http.ResponseWriter, req *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(req, "roomID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid room id"})
		return
	}
	if err := rt.rooms.RequestJoin(req.Context(), roomID, currentUser(req).ID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "requested"})
}

// ListJoinRequests handles GET /api/rooms/{roomID}/join-requests, the
// owner-facing admin view.
func (rt *Router) ListJoinRequests(w http.ResponseWriter, req *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(req, "roomID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid room id"})
		return
	}
	reqs, err := rt.rooms.ListJoinRequests(req.Context(), roomID, currentUser(req).ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reqs)
}

type handleJoinRequestRequest struct {
	Accept bool `json:"accept"`
}

// HandleJoinRequest handles POST /api/rooms/join-requests/{requestID}/handle.
func (rt *Router) HandleJoinRequest(w http.ResponseWriter, req *http.Request) {
	requestID, err := uuid.Parse(chi.URLParam(req, "requestID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid request id"})
		return
	}
	var in handleJoinRequestRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid request body"})
		return
	}
	if err := rt.rooms.HandleJoinRequest(req.Context(), requestID, in.Accept, currentUser(req).ID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "handled"})
}

// RemoveParticipant handles DELETE /api/rooms/{roomID}/participants/{userID},
// the owner-facing member removal action.
func (rt *Router) RemoveParticipant(w http.ResponseWriter, req *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(req, "roomID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid room id"})
		return
	}
	userID, err := uuid.Parse(chi.URLParam(req, "userID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid user id"})
		return
	}
	if err := rt.rooms.RemoveParticipant(req.Context(), roomID, userID, currentUser(req).ID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// LeaveRoom handles POST /api/rooms/{roomID}/leave: the caller removes
// themselves, which is RemoveParticipant(room, self, self) — the
// canonical deletion path when the caller is the room's creator (§9).
func (rt *Router) LeaveRoom(w http.ResponseWriter, req *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(req, "roomID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid room id"})
		return
	}
	userID := currentUser(req).ID
	if err := rt.rooms.RemoveParticipant(req.Context(), roomID, userID, userID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

func parseLimit(req *http.Request, def, max int) int {
	limit := def
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > max {
		limit = max
	}
	return limit
}
