package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID         uuid.UUID `json:"id"`
	Username   string    `json:"username"`
	LastActive string    `json:"last_active"`
	LastLogin  string    `json:"last_login"`
}

// Register handles POST /api/users/register (spec §4.2, scenario 1).
func (rt *Router) Register(w http.ResponseWriter, req *http.Request) {
	var in registerRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid request body"})
		return
	}

	user, err := rt.users.Register(req.Context(), in.Username, in.Password)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, userResponse{
		ID:         user.ID,
		Username:   user.Username,
		LastActive: user.LastActive.Format(http.TimeFormat),
		LastLogin:  user.LastLogin.Format(http.TimeFormat),
	})
}

// Login handles POST /api/users/login, setting the HttpOnly session
// cookie the rest of the edge authenticates with (spec §4.2,
// scenario 1).
func (rt *Router) Login(w http.ResponseWriter, req *http.Request) {
	var in loginRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid request body"})
		return
	}

	sessionID, err := rt.users.Login(req.Context(), in.Username, in.Password)
	if err != nil {
		respondError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID.String(),
		Path:     "/",
		HttpOnly: true,
		MaxAge:   int(rt.cfg.UserSessionTTL.Seconds()),
	})
	respondJSON(w, http.StatusOK, map[string]string{"session_id": sessionID.String()})
}

// Logout handles POST /api/users/logout.
func (rt *Router) Logout(w http.ResponseWriter, req *http.Request) {
	cookie, err := req.Cookie(SessionCookieName)
	if err != nil {
		respondJSON(w, http.StatusUnauthorized, errorBody{Detail: "no session cookie"})
		return
	}
	sessionID, err := uuid.Parse(cookie.Value)
	if err != nil {
		respondJSON(w, http.StatusUnauthorized, errorBody{Detail: "invalid session"})
		return
	}

	if err := rt.users.Logout(req.Context(), sessionID); err != nil {
		respondError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: SessionCookieName, Value: "", Path: "/", MaxAge: -1})
	respondJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// Me handles GET /api/users/me (spec §4.2, scenario 1).
func (rt *Router) Me(w http.ResponseWriter, req *http.Request) {
	user := currentUser(req)
	respondJSON(w, http.StatusOK, userResponse{
		ID:         user.ID,
		Username:   user.Username,
		LastActive: user.LastActive.Format(http.TimeFormat),
		LastLogin:  user.LastLogin.Format(http.TimeFormat),
	})
}
