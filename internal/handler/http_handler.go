package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/weiawesome/melo-live/internal/domain"
	"github.com/weiawesome/melo-live/internal/hub"
	"github.com/weiawesome/melo-live/internal/service"
	"github.com/weiawesome/melo-live/pkg/middleware"
	"github.com/weiawesome/melo-live/pkg/response"
)

// HTTPHandler serves the read-side REST endpoints next to the WebSocket
// surface.
type HTTPHandler struct {
	service service.RealtimeService
	metrics *hub.Metrics
}

func NewHTTPHandler(svc service.RealtimeService, metrics *hub.Metrics) *HTTPHandler {
	return &HTTPHandler{
		service: svc,
		metrics: metrics,
	}
}

func (h *HTTPHandler) RegisterRoutes(router *mux.Router, authMW *middleware.AuthMiddleware) {
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/metrics", h.GetMetrics).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(authMW.RequireAuth)
	api.HandleFunc("/rooms/{room_id}/presence", h.GetRoomPresence).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{room_id}/messages", h.GetRoomMessages).Methods(http.MethodGet)
	api.HandleFunc("/users/{user_id}/presence", h.GetUserPresence).Methods(http.MethodGet)
	api.HandleFunc("/users/{user_id}/unread", h.GetUnreadCount).Methods(http.MethodGet)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.Success(w, map[string]string{"status": "healthy"})
}

func (h *HTTPHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.metrics.Snapshot())
}

// GetRoomPresence lists the room's live participants and the count of
// distinct users behind them.
func (h *HTTPHandler) GetRoomPresence(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room_id"]

	participants, err := h.service.RoomParticipants(r.Context(), roomID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	users := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		users[p.UserID] = struct{}{}
	}
	response.Success(w, map[string]interface{}{
		"room_id":      roomID,
		"participants": participants,
		"user_count":   len(users),
	})
}

func (h *HTTPHandler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room_id"]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	before := r.URL.Query().Get("before")

	messages, err := h.service.RoomMessages(r.Context(), roomID, limit, before)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.Success(w, map[string]interface{}{
		"room_id":  roomID,
		"messages": messages,
		"count":    len(messages),
	})
}

func (h *HTTPHandler) GetUserPresence(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	presence, err := h.service.UserPresence(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.Success(w, presence)
}

// GetUnreadCount reports the caller's own unread total. Reading another
// user's counter is not allowed.
func (h *HTTPHandler) GetUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	if userID != middleware.GetUserID(r.Context()) {
		response.Forbidden(w, "cannot read another user's unread count")
		return
	}

	count, err := h.service.UnreadCount(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.Success(w, map[string]interface{}{
		"user_id": userID,
		"unread":  count,
	})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		response.BadRequest(w, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(w, err.Error())
	default:
		response.InternalError(w, "internal server error")
	}
}
