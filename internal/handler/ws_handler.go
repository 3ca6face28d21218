package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/melo-live/internal/audit"
	"github.com/weiawesome/melo-live/internal/auth"
	"github.com/weiawesome/melo-live/internal/config"
	"github.com/weiawesome/melo-live/internal/domain"
	"github.com/weiawesome/melo-live/internal/hub"
	"github.com/weiawesome/melo-live/internal/ratelimit"
	"github.com/weiawesome/melo-live/internal/service"
	pkglog "github.com/weiawesome/melo-live/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// CredentialVerifier checks the credential presented at connection time.
type CredentialVerifier interface {
	Verify(ctx context.Context, credential string) (domain.Identity, error)
}

// AdmissionLimiter admits events per (connection, event kind) and releases
// the window state when the connection goes away.
type AdmissionLimiter interface {
	Allow(ctx context.Context, connectionID, eventKind string) (ratelimit.Result, error)
	Reset(ctx context.Context, connectionID, eventKind string) error
}

// route declares what the dispatcher checks before invoking a handler.
type route struct {
	requiresAuth bool
	rateLimited  bool
	handle       func(ctx context.Context, c *hub.Client, ev domain.Inbound) error
}

// WSHandler upgrades connections, authenticates them, and dispatches decoded
// events through the route table.
type WSHandler struct {
	hub      *hub.Hub
	service  service.RealtimeService
	verifier CredentialVerifier
	limiter  AdmissionLimiter
	metrics  *hub.Metrics
	wsCfg    config.WebSocketConfig
	routes   map[string]route
}

func NewWSHandler(
	h *hub.Hub,
	svc service.RealtimeService,
	verifier CredentialVerifier,
	limiter AdmissionLimiter,
	metrics *hub.Metrics,
	wsCfg config.WebSocketConfig,
) *WSHandler {
	wh := &WSHandler{
		hub:      h,
		service:  svc,
		verifier: verifier,
		limiter:  limiter,
		metrics:  metrics,
		wsCfg:    wsCfg,
	}
	wh.routes = map[string]route{
		domain.EventJoinRoom: {requiresAuth: true, rateLimited: true, handle: func(ctx context.Context, c *hub.Client, ev domain.Inbound) error {
			return wh.service.HandleJoinRoom(ctx, c, ev.(*domain.JoinRoomEvent))
		}},
		domain.EventLeaveRoom: {requiresAuth: true, rateLimited: true, handle: func(ctx context.Context, c *hub.Client, ev domain.Inbound) error {
			return wh.service.HandleLeaveRoom(ctx, c, ev.(*domain.LeaveRoomEvent))
		}},
		domain.EventSendMessage: {requiresAuth: true, rateLimited: true, handle: func(ctx context.Context, c *hub.Client, ev domain.Inbound) error {
			return wh.service.HandleSendMessage(ctx, c, ev.(*domain.SendMessageEvent))
		}},
		domain.EventTypingStart: {requiresAuth: true, rateLimited: true, handle: func(ctx context.Context, c *hub.Client, ev domain.Inbound) error {
			return wh.service.HandleTypingStart(ctx, c, ev.(*domain.TypingStartEvent))
		}},
		domain.EventTypingStop: {requiresAuth: true, rateLimited: true, handle: func(ctx context.Context, c *hub.Client, ev domain.Inbound) error {
			return wh.service.HandleTypingStop(ctx, c, ev.(*domain.TypingStopEvent))
		}},
		domain.EventMessageDelivered: {requiresAuth: true, rateLimited: true, handle: func(ctx context.Context, c *hub.Client, ev domain.Inbound) error {
			return wh.service.HandleMessageDelivered(ctx, c, ev.(*domain.MessageDeliveredEvent))
		}},
		domain.EventMessageRead: {requiresAuth: true, rateLimited: true, handle: func(ctx context.Context, c *hub.Client, ev domain.Inbound) error {
			return wh.service.HandleMessageRead(ctx, c, ev.(*domain.MessageReadEvent))
		}},
	}
	return wh
}

// HandleWebSocket accepts the connection first and only then verifies the
// credential. A failed verification sends auth_error and closes with a
// policy-violation code before any hub or registry state exists.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		pkglog.L().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, h.wsCfg)
	client.Session.BeginAuth()

	ctx := r.Context()
	identity, err := h.verifier.Verify(ctx, auth.ExtractCredential(r))
	if err != nil {
		pkglog.L().Info().Err(err).Str(pkglog.FieldConnectionID, client.ID).Msg("connection rejected")
		audit.Log(ctx, audit.ActionAuthFailed, "", "credential verification failed")
		h.rejectConnection(conn)
		return
	}

	h.hub.Register(client)
	go client.WritePump()

	if err := h.service.HandleConnect(context.Background(), client, identity); err != nil {
		pkglog.L().Error().Err(err).Str(pkglog.FieldConnectionID, client.ID).Msg("connection setup failed")
		client.SendEvent(domain.NewServerErrorEvent(domain.EventConnect, time.Now()))
		h.hub.Unregister(client)
		return
	}

	go func() {
		client.ReadPump(h.Dispatch)
		h.onDisconnect(client)
	}()
}

// rejectConnection is the terminal path for a failed credential check. The
// connection was never registered, so there is nothing to tear down beyond
// the socket itself.
func (h *WSHandler) rejectConnection(conn *websocket.Conn) {
	deadline := time.Now().Add(h.wsCfg.WriteWait)
	conn.SetWriteDeadline(deadline)
	if data, err := json.Marshal(domain.NewAuthErrorEvent("authentication failed")); err == nil {
		conn.WriteMessage(websocket.TextMessage, data)
	}
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"),
		deadline,
	)
	conn.Close()
}

// Dispatch decodes one inbound frame and routes it through the table. The
// read pump calls this for every frame the connection produces.
func (h *WSHandler) Dispatch(c *hub.Client, data []byte) {
	ctx := context.Background()

	ev, err := domain.DecodeInbound(data)
	if err != nil {
		c.SendEvent(domain.NewErrorEvent(domain.CodeForError(err), err.Error()))
		return
	}
	kind := ev.Kind()

	rt, ok := h.routes[kind]
	if !ok {
		c.SendEvent(domain.NewErrorEvent(domain.ErrCodeBadRequest, "unknown event type "+kind))
		return
	}

	if rt.requiresAuth && !c.Session.IsAuthenticated() {
		c.SendEvent(domain.NewErrorEvent(domain.ErrCodeUnauthorized, "not authenticated"))
		return
	}

	h.service.Touch(ctx, c)

	if rt.rateLimited {
		result, err := h.limiter.Allow(ctx, c.ID, kind)
		if err != nil {
			pkglog.L().Warn().Err(err).Str(pkglog.FieldConnectionID, c.ID).Str(pkglog.FieldEvent, kind).Msg("rate limiter check failed")
		} else if !result.Allowed {
			c.SendEvent(domain.NewRateLimitErrorEvent(kind, int(result.RetryAfter.Seconds())))
			return
		}
	}

	start := time.Now()
	err = h.invoke(ctx, rt, c, ev)
	h.metrics.Observe(kind, time.Since(start), err)
	if err != nil {
		pkglog.L().Error().Err(err).
			Str(pkglog.FieldConnectionID, c.ID).
			Str(pkglog.FieldEvent, kind).
			Msg("event handler failed")
		c.SendEvent(domain.NewServerErrorEvent(kind, time.Now()))
	}
}

// invoke runs one handler with panic isolation: a panic in one invocation is
// converted into an error and never reaches the connection's read loop.
func (h *WSHandler) invoke(ctx context.Context, rt route, c *hub.Client, ev domain.Inbound) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pkglog.L().Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str(pkglog.FieldConnectionID, c.ID).
				Str(pkglog.FieldEvent, ev.Kind()).
				Msg("event handler panicked")
			err = fmt.Errorf("%w: handler panic", domain.ErrInternal)
		}
	}()
	return rt.handle(ctx, c, ev)
}

// onDisconnect runs after the read pump exits: the disconnect cascade plus
// release of the connection's rate-limit windows.
func (h *WSHandler) onDisconnect(c *hub.Client) {
	ctx := context.Background()

	if err := h.service.HandleDisconnect(ctx, c); err != nil {
		pkglog.L().Error().Err(err).Str(pkglog.FieldConnectionID, c.ID).Msg("disconnect cleanup failed")
	}

	for kind, rt := range h.routes {
		if !rt.rateLimited {
			continue
		}
		if err := h.limiter.Reset(ctx, c.ID, kind); err != nil {
			pkglog.L().Debug().Err(err).Str(pkglog.FieldConnectionID, c.ID).Str(pkglog.FieldEvent, kind).Msg("failed to release rate-limit window")
		}
	}
}

func (h *WSHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", h.HandleWebSocket)
}
