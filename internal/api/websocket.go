package api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chatforge/realtime/internal/models"
	"github.com/chatforge/realtime/internal/wsloop"
)

// WebSocketStream handles GET /api/ws/stream?room_id=... (spec §4.5,
// §6). The session cookie is required on the upgrade request itself
// (§9's cookie-bound-WS-authorization note) — AuthMiddleware already
// rejected the request if it was missing or invalid before this
// handler runs.
func (rt *Router) WebSocketStream(w http.ResponseWriter, req *http.Request) {
	roomID, err := uuid.Parse(req.URL.Query().Get("room_id"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid room_id"})
		return
	}

	cookie, err := req.Cookie(SessionCookieName)
	if err != nil {
		respondJSON(w, http.StatusUnauthorized, errorBody{Detail: "no session cookie"})
		return
	}
	userSessionID, err := uuid.Parse(cookie.Value)
	if err != nil {
		respondJSON(w, http.StatusUnauthorized, errorBody{Detail: "invalid session"})
		return
	}

	user := currentUser(req)
	sess := &models.WSSession{
		ID:            uuid.New(),
		UserID:        user.ID,
		RoomID:        roomID,
		UserSessionID: userSessionID,
		ConnectedAt:   time.Now().UTC(),
		IPAddress:     clientIP(req),
	}

	channels, err := rt.ws.ConnectToRoom(req.Context(), sess)
	if err != nil {
		respondError(w, err)
		return
	}

	sub, err := rt.bus.Subscribe(req.Context(), channels...)
	if err != nil {
		rt.logger.Error(req.Context(), "failed to subscribe to %v: %v", channels, err)
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return
	}

	conn, err := rt.upgrader.Upgrade(w, req, nil)
	if err != nil {
		rt.logger.Error(req.Context(), "websocket upgrade failed: %v", err)
		sub.Close()
		return
	}

	wsloop.New(conn, sess, rt.ws, sub, rt.logger).Run(req.Context())
}

func clientIP(req *http.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

// ActiveUsersInRoom handles GET /api/ws/active-users/{roomID} (spec
// §4.5).
func (rt *Router) ActiveUsersInRoom(w http.ResponseWriter, req *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(req, "roomID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid room id"})
		return
	}
	users, err := rt.ws.ActiveUsersInRoom(req.Context(), roomID, currentUser(req).ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

// DisconnectUserFromRoom handles POST /api/ws/disconnect-user/{roomID}/{userID}
// (spec §4.5): room-owner only.
func (rt *Router) DisconnectUserFromRoom(w http.ResponseWriter, req *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(req, "roomID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid room id"})
		return
	}
	targetUser, err := uuid.Parse(chi.URLParam(req, "userID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid user id"})
		return
	}
	if err := rt.ws.DisconnectUserFromRoom(req.Context(), targetUser, roomID, currentUser(req).ID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}
