// Package api implements the HTTP/WebSocket edge described in spec §6:
// thin request/response plumbing over the domain services, with no
// business logic of its own. Grounded on the teacher's internal/api
// package for handler shape (decode, call, respond) and on
// internal/middleware for the ambient request-id/tracing/rate-limit
// stack, retargeted at this domain's services instead of a raw db/jwt
// pair.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/chatforge/realtime/internal/errs"
)

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

type errorBody struct {
	Detail string `json:"detail"`
}

// respondError maps a domain error's Kind to the HTTP status spec §6
// names (400 conflict/validation, 401 unauth/no-session, 403
// permission, 404 not found) and writes a {"detail": ...} body, the
// same envelope shape the original service used.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindConflict, errs.KindInvalid:
		status = http.StatusBadRequest
	case errs.KindAuth:
		status = http.StatusUnauthorized
	case errs.KindPermission:
		status = http.StatusForbidden
	case errs.KindTransient:
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, errorBody{Detail: err.Error()})
}
