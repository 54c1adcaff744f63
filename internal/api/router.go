package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/gorilla/websocket"

	"github.com/chatforge/realtime/internal/config"
	"github.com/chatforge/realtime/internal/contextkey"
	"github.com/chatforge/realtime/internal/logging"
	apimw "github.com/chatforge/realtime/internal/middleware"
	"github.com/chatforge/realtime/internal/models"
	"github.com/chatforge/realtime/internal/service/messageservice"
	"github.com/chatforge/realtime/internal/service/notifyservice"
	"github.com/chatforge/realtime/internal/service/roomservice"
	"github.com/chatforge/realtime/internal/service/userservice"
	"github.com/chatforge/realtime/internal/service/wsservice"
	"github.com/chatforge/realtime/internal/store"
)

// SessionCookieName is the HttpOnly cookie carrying the opaque
// UserSession id, per spec §6 ("Auth is by session_id HttpOnly
// cookie").
const SessionCookieName = "session_id"

// Router wires the HTTP/WebSocket edge to the domain services. It
// holds no business logic: every handler decodes its request,
// delegates to a service, and maps the result (or *errs.Error) to an
// HTTP response.
type Router struct {
	users     *userservice.Service
	rooms     *roomservice.Service
	messages  *messageservice.Service
	notifs    *notifyservice.Service
	ws        *wsservice.Service
	bus       store.PubSubBus
	cfg       *config.Config
	logger    *logging.Logger
	sanitizer *bluemonday.Policy
	upgrader  websocket.Upgrader
}

// Services bundles every domain service the edge depends on, grouped
// to keep NewRouter's signature from sprawling across the spec's five
// service packages.
type Services struct {
	Users    *userservice.Service
	Rooms    *roomservice.Service
	Messages *messageservice.Service
	Notifs   *notifyservice.Service
	WS       *wsservice.Service
	Bus      store.PubSubBus
}

// NewRouter builds the chi-based HTTP handler for every resource named
// in spec §6.
func NewRouter(svc Services, cfg *config.Config, logger *logging.Logger, rdb *apimw.RateLimiter) http.Handler {
	rt := &Router{
		users:     svc.Users,
		rooms:     svc.Rooms,
		messages:  svc.Messages,
		notifs:    svc.Notifs,
		ws:        svc.WS,
		bus:       svc.Bus,
		cfg:       cfg,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(apimw.RequestIDMiddleware)
	r.Use(apimw.TracingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", rt.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Post("/users/register", rt.Register)
		api.Post("/users/login", rt.Login)

		api.Group(func(auth chi.Router) {
			auth.Use(rt.AuthMiddleware)
			if rdb != nil {
				auth.Use(rdb.Middleware)
			}

			auth.Post("/users/logout", rt.Logout)
			auth.Get("/users/me", rt.Me)

			auth.Post("/rooms", rt.CreateRoom)
			auth.Get("/rooms/mine", rt.ListMyRooms)
			auth.Get("/rooms/top", rt.ListTopRooms)
			auth.Get("/rooms/search", rt.SearchRooms)
			auth.Get("/rooms/{roomID}", rt.GetRoom)
			auth.Patch("/rooms/{roomID}", rt.UpdateRoom)
			auth.Delete("/rooms/{roomID}", rt.DeleteRoom)
			auth.Post("/rooms/{roomID}/join-request", rt.RequestJoin)
			auth.Get("/rooms/{roomID}/join-requests", rt.ListJoinRequests)
			auth.Post("/rooms/join-requests/{requestID}/handle", rt.HandleJoinRequest)
			auth.Delete("/rooms/{roomID}/participants/{userID}", rt.RemoveParticipant)
			auth.Post("/rooms/{roomID}/leave", rt.LeaveRoom)

			auth.Post("/messages/{roomID}", rt.SendMessage)
			auth.Get("/messages/{roomID}", rt.GetRecentMessages)
			auth.Patch("/messages/id/{messageID}", rt.EditMessage)
			auth.Delete("/messages/id/{messageID}", rt.DeleteMessage)

			auth.Get("/notifications", rt.ListNotifications)
			auth.Get("/notifications/count", rt.CountUnreadNotifications)
			auth.Post("/notifications/{notificationID}/read", rt.MarkNotificationRead)
			auth.Post("/notifications/read-all", rt.MarkAllNotificationsRead)
			auth.Delete("/notifications/{notificationID}", rt.DeleteNotification)

			auth.Get("/ws/stream", rt.WebSocketStream)
			auth.Get("/ws/active-users/{roomID}", rt.ActiveUsersInRoom)
			auth.Post("/ws/disconnect-user/{roomID}/{userID}", rt.DisconnectUserFromRoom)
		})
	})

	return r
}

// Healthz provides a simple liveness check endpoint.
func (rt *Router) Healthz(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userContextKey struct{}

// AuthMiddleware resolves the session_id cookie into a *models.User
// via userservice.ResolveSession (sliding-TTL refresh happens inside
// that call), failing 401 if the cookie is missing or the session has
// expired (spec §4.2, §9's cookie-bound-WS-authorization note applies
// to /ws/stream the same way).
func (rt *Router) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		cookie, err := req.Cookie(SessionCookieName)
		if err != nil {
			respondJSON(w, http.StatusUnauthorized, errorBody{Detail: "no session cookie"})
			return
		}

		user, err := rt.users.ResolveSession(req.Context(), cookie.Value)
		if err != nil {
			respondError(w, err)
			return
		}

		ctx := context.WithValue(req.Context(), contextkey.ContextKeyUserID, user.ID)
		ctx = context.WithValue(ctx, userContextKey{}, user)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// currentUser returns the authenticated user stashed by AuthMiddleware.
func currentUser(req *http.Request) *models.User {
	u, _ := req.Context().Value(userContextKey{}).(*models.User)
	return u
}
