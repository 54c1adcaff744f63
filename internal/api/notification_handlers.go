package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ListNotifications handles GET /api/notifications?limit=.
func (rt *Router) ListNotifications(w http.ResponseWriter, req *http.Request) {
	limit := parseLimit(req, 50, 200)
	notifs, err := rt.notifs.List(req.Context(), currentUser(req).ID, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, notifs)
}

// CountUnreadNotifications handles GET /api/notifications/count.
func (rt *Router) CountUnreadNotifications(w http.ResponseWriter, req *http.Request) {
	count, err := rt.notifs.CountUnread(req.Context(), currentUser(req).ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"unread": count})
}

// MarkNotificationRead handles POST /api/notifications/{notificationID}/read.
func (rt *Router) MarkNotificationRead(w http.ResponseWriter, req *http.Request) {
	id, err := uuid.Parse(chi.URLParam(req, "notificationID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid notification id"})
		return
	}
	if err := rt.notifs.MarkRead(req.Context(), id, currentUser(req).ID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// MarkAllNotificationsRead handles POST /api/notifications/read-all.
func (rt *Router) MarkAllNotificationsRead(w http.ResponseWriter, req *http.Request) {
	if err := rt.notifs.MarkAllRead(req.Context(), currentUser(req).ID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// DeleteNotification handles DELETE /api/notifications/{notificationID}.
func (rt *Router) DeleteNotification(w http.ResponseWriter, req *http.Request) {
	id, err := uuid.Parse(chi.URLParam(req, "notificationID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid notification id"})
		return
	}
	if err := rt.notifs.Delete(req.Context(), id, currentUser(req).ID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
