package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/melo-live/internal/audit"
	"github.com/weiawesome/melo-live/internal/domain"
	"github.com/weiawesome/melo-live/internal/hub"
	"github.com/weiawesome/melo-live/internal/ident"
	"github.com/weiawesome/melo-live/internal/message"
	"github.com/weiawesome/melo-live/internal/mirror"
	"github.com/weiawesome/melo-live/internal/registry"
	"github.com/weiawesome/melo-live/internal/relay"
	"github.com/weiawesome/melo-live/internal/room"
	pkglog "github.com/weiawesome/melo-live/pkg/log"
)

type realtimeService struct {
	hub        *hub.Hub
	registry   registry.SessionRegistry
	rooms      room.Manager
	messages   message.Tracker
	authorizer RoomAuthorizer
	relay      *relay.Publisher
	mirror     mirror.Mirror
	messageIDs ident.Generator
}

func NewRealtimeService(
	h *hub.Hub,
	reg registry.SessionRegistry,
	rooms room.Manager,
	messages message.Tracker,
	authorizer RoomAuthorizer,
	rel *relay.Publisher,
	mir mirror.Mirror,
	messageIDs ident.Generator,
) RealtimeService {
	return &realtimeService{
		hub:        h,
		registry:   reg,
		rooms:      rooms,
		messages:   messages,
		authorizer: authorizer,
		relay:      rel,
		mirror:     mir,
		messageIDs: messageIDs,
	}
}

// broadcast fans an event out to the room's local connections and relays it
// to the other instances.
func (s *realtimeService) broadcast(ctx context.Context, roomID, eventType string, payload interface{}, exclude string) {
	if err := s.hub.BroadcastToRoom(roomID, payload, exclude); err != nil {
		pkglog.L().Warn().Err(err).Str(pkglog.FieldRoomID, roomID).Str(pkglog.FieldEvent, eventType).Msg("local broadcast failed")
	}
	if err := s.relay.Publish(ctx, eventType, roomID, payload, exclude); err != nil {
		pkglog.L().Warn().Err(err).Str(pkglog.FieldRoomID, roomID).Str(pkglog.FieldEvent, eventType).Msg("broadcast relay failed")
	}
}

func (s *realtimeService) HandleConnect(ctx context.Context, c *hub.Client, identity domain.Identity) error {
	c.Session.Authenticate(identity)

	conn := domain.Connection{
		ID:            c.ID,
		UserID:        identity.UserID,
		Authenticated: true,
		ConnectedAt:   time.Now().UTC(),
	}
	if err := s.registry.Register(ctx, conn); err != nil {
		return fmt.Errorf("failed to register connection %s: %w", c.ID, err)
	}

	audit.Log(ctx, audit.ActionConnect, identity.UserID, "connection established")

	return c.SendEvent(domain.NewConnectedEvent(identity.UserID))
}

func (s *realtimeService) HandleJoinRoom(ctx context.Context, c *hub.Client, ev *domain.JoinRoomEvent) error {
	userID := c.Session.UserID()

	allowed, err := s.authorizer.CheckRoomAccess(ctx, userID, ev.RoomID)
	if err != nil {
		return fmt.Errorf("room access check for %s failed: %w", ev.RoomID, err)
	}
	if !allowed {
		audit.LogWithTarget(ctx, audit.ActionJoinRoom, userID, ev.RoomID, "room access denied")
		return c.SendEvent(domain.NewJoinErrorEvent(ev.RoomID, domain.ErrCodePermissionDenied, "access to room denied"))
	}

	joined, created, err := s.rooms.Join(ctx, c.ID, userID, ev.RoomID)
	if err != nil {
		return fmt.Errorf("failed to join room %s: %w", ev.RoomID, err)
	}

	s.hub.JoinRoom(c, ev.RoomID)
	c.Session.JoinRoom(ev.RoomID)

	if created {
		pkglog.L().Debug().Str(pkglog.FieldRoomID, ev.RoomID).Msg("room created on first join")
	}
	audit.LogWithTarget(ctx, audit.ActionJoinRoom, userID, ev.RoomID, "joined room")

	if err := c.SendEvent(domain.NewJoinedSessionEvent(ev.RoomID)); err != nil {
		pkglog.L().Warn().Err(err).Str(pkglog.FieldConnectionID, c.ID).Msg("failed to send joined_session")
	}

	// Re-joining an already-joined room is a no-op for everyone else.
	if joined {
		s.broadcast(ctx, ev.RoomID, domain.EventUserJoined, domain.NewUserJoinedEvent(userID, ev.RoomID), c.ID)
	}

	s.deliverPending(ctx, c, ev.RoomID)
	return nil
}

// deliverPending replays the room's unacknowledged messages to a freshly
// joined connection, oldest first. Redelivery to a client that already has
// one of them is resolved client-side by message id.
func (s *realtimeService) deliverPending(ctx context.Context, c *hub.Client, roomID string) {
	pending, err := s.messages.Pending(ctx, roomID)
	if err != nil {
		pkglog.L().Warn().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("failed to load pending messages for catch-up")
		return
	}
	for i := len(pending) - 1; i >= 0; i-- {
		if err := c.SendEvent(domain.NewNewMessageEvent(&pending[i])); err != nil {
			pkglog.L().Warn().Err(err).Str(pkglog.FieldConnectionID, c.ID).Msg("pending catch-up delivery failed")
			return
		}
	}
}

func (s *realtimeService) HandleLeaveRoom(ctx context.Context, c *hub.Client, ev *domain.LeaveRoomEvent) error {
	userID := c.Session.UserID()

	left, err := s.rooms.Leave(ctx, c.ID, userID, ev.RoomID)
	if err != nil {
		return fmt.Errorf("failed to leave room %s: %w", ev.RoomID, err)
	}

	s.hub.LeaveRoom(c, ev.RoomID)
	c.Session.LeaveRoom(ev.RoomID)

	// Leaving a room the connection never joined still acknowledges.
	if err := c.SendEvent(domain.NewLeftSessionEvent(ev.RoomID)); err != nil {
		pkglog.L().Warn().Err(err).Str(pkglog.FieldConnectionID, c.ID).Msg("failed to send left_session")
	}

	if left {
		audit.LogWithTarget(ctx, audit.ActionLeaveRoom, userID, ev.RoomID, "left room")
		s.broadcast(ctx, ev.RoomID, domain.EventUserLeft, domain.NewUserLeftEvent(userID, ev.RoomID), c.ID)
	}
	return nil
}

func (s *realtimeService) HandleSendMessage(ctx context.Context, c *hub.Client, ev *domain.SendMessageEvent) error {
	userID := c.Session.UserID()

	if !c.Session.InRoom(ev.RoomID) {
		return c.SendEvent(domain.NewErrorEvent(domain.ErrCodeNotInRoom, "not a participant of room "+ev.RoomID))
	}

	messageID, err := s.messageIDs.Generate()
	if err != nil {
		return fmt.Errorf("failed to generate message id: %w", err)
	}

	participants, err := s.rooms.Participants(ctx, ev.RoomID)
	if err != nil {
		return fmt.Errorf("failed to load participants of room %s: %w", ev.RoomID, err)
	}

	// Everyone in the room at enqueue time owes an acknowledgment, except
	// the sender.
	seen := make(map[string]struct{}, len(participants))
	expected := make([]string, 0, len(participants))
	for _, p := range participants {
		if p.UserID == userID {
			continue
		}
		if _, ok := seen[p.UserID]; ok {
			continue
		}
		seen[p.UserID] = struct{}{}
		expected = append(expected, p.UserID)
	}

	msg := domain.Message{
		MessageID:  messageID,
		RoomID:     ev.RoomID,
		SenderID:   userID,
		SenderName: c.Session.Username(),
		Content:    ev.Content,
		CreatedAt:  time.Now().UTC(),
	}

	// Persist before any fan-out.
	if err := s.messages.Enqueue(ctx, msg, expected); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return c.SendEvent(domain.NewErrorEvent(domain.ErrCodeBadRequest, "invalid message content"))
		}
		return fmt.Errorf("failed to enqueue message: %w", err)
	}

	audit.LogWithTarget(ctx, audit.ActionSendMessage, userID, messageID, "message accepted")

	if err := c.SendEvent(domain.NewMessageSentEvent(messageID, msg.CreatedAt)); err != nil {
		pkglog.L().Warn().Err(err).Str(pkglog.FieldConnectionID, c.ID).Msg("failed to send message_sent ack")
	}

	// The sender's connection receives new_message too; message_sent alone
	// does not carry the content other clients render.
	s.broadcast(ctx, ev.RoomID, domain.EventNewMessage, domain.NewNewMessageEvent(&msg), "")

	if err := s.mirror.Produce(ctx, &msg); err != nil {
		pkglog.L().Warn().Err(err).Str(pkglog.FieldMessageID, messageID).Msg("durable mirror produce failed")
		audit.LogWithTarget(ctx, audit.ActionMirrorFail, userID, messageID, "durable mirror produce failed")
	}

	return nil
}

func (s *realtimeService) HandleTypingStart(ctx context.Context, c *hub.Client, ev *domain.TypingStartEvent) error {
	userID := c.Session.UserID()

	if !c.Session.InRoom(ev.RoomID) {
		return c.SendEvent(domain.NewErrorEvent(domain.ErrCodeNotInRoom, "not a participant of room "+ev.RoomID))
	}

	if err := s.rooms.SetTyping(ctx, ev.RoomID, c.ID); err != nil {
		pkglog.L().Warn().Err(err).Str(pkglog.FieldRoomID, ev.RoomID).Msg("failed to record typing state")
	}

	s.broadcast(ctx, ev.RoomID, domain.EventUserTyping, domain.NewUserTypingEvent(userID, ev.RoomID, true), c.ID)
	return nil
}

func (s *realtimeService) HandleTypingStop(ctx context.Context, c *hub.Client, ev *domain.TypingStopEvent) error {
	userID := c.Session.UserID()

	if !c.Session.InRoom(ev.RoomID) {
		return c.SendEvent(domain.NewErrorEvent(domain.ErrCodeNotInRoom, "not a participant of room "+ev.RoomID))
	}

	was, err := s.rooms.ClearTyping(ctx, ev.RoomID, c.ID)
	if err != nil {
		pkglog.L().Warn().Err(err).Str(pkglog.FieldRoomID, ev.RoomID).Msg("failed to clear typing state")
		return nil
	}

	// Stop without a preceding start stays silent.
	if was {
		s.broadcast(ctx, ev.RoomID, domain.EventUserTyping, domain.NewUserTypingEvent(userID, ev.RoomID, false), c.ID)
	}
	return nil
}

func (s *realtimeService) HandleMessageDelivered(ctx context.Context, c *hub.Client, ev *domain.MessageDeliveredEvent) error {
	known, err := s.messages.ConfirmDelivery(ctx, ev.MessageID, c.Session.UserID())
	if err != nil {
		return fmt.Errorf("failed to confirm delivery of %s: %w", ev.MessageID, err)
	}
	if !known {
		pkglog.L().Debug().Str(pkglog.FieldMessageID, ev.MessageID).Msg("delivery ack for unknown or expired message")
	}
	return nil
}

func (s *realtimeService) HandleMessageRead(ctx context.Context, c *hub.Client, ev *domain.MessageReadEvent) error {
	if _, err := s.messages.MarkRead(ctx, ev.MessageID, c.Session.UserID()); err != nil {
		return fmt.Errorf("failed to mark %s read: %w", ev.MessageID, err)
	}
	return nil
}

// HandleDisconnect runs the disconnect cascade: clear typing state (with one
// user_typing false per room where it was set), leave every joined room, then
// unregister the connection. Runs at most once per connection.
func (s *realtimeService) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	if !c.Session.MarkDisconnected() {
		return nil
	}

	userID := c.Session.UserID()

	joined, err := s.rooms.ConnectionRooms(ctx, c.ID)
	if err != nil {
		pkglog.L().Warn().Err(err).Str(pkglog.FieldConnectionID, c.ID).Msg("failed to list joined rooms, falling back to session state")
		joined = c.Session.Rooms()
	}

	for _, roomID := range joined {
		was, err := s.rooms.ClearTyping(ctx, roomID, c.ID)
		if err != nil {
			pkglog.L().Warn().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("failed to clear typing state on disconnect")
		}
		if was {
			s.broadcast(ctx, roomID, domain.EventUserTyping, domain.NewUserTypingEvent(userID, roomID, false), c.ID)
		}

		left, err := s.rooms.Leave(ctx, c.ID, userID, roomID)
		if err != nil {
			pkglog.L().Warn().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("failed to leave room on disconnect")
		}
		if left {
			s.broadcast(ctx, roomID, domain.EventUserLeft, domain.NewUserLeftEvent(userID, roomID), c.ID)
		}

		s.hub.LeaveRoom(c, roomID)
		c.Session.LeaveRoom(roomID)
	}

	if err := s.registry.Unregister(ctx, c.ID); err != nil {
		pkglog.L().Warn().Err(err).Str(pkglog.FieldConnectionID, c.ID).Msg("failed to unregister connection")
	}

	if userID != "" {
		audit.Log(ctx, audit.ActionDisconnect, userID, "connection closed")
	}
	return nil
}

func (s *realtimeService) Touch(ctx context.Context, c *hub.Client) {
	if !c.Session.IsAuthenticated() {
		return
	}
	if err := s.registry.Touch(ctx, c.ID, c.Session.UserID()); err != nil {
		pkglog.L().Debug().Err(err).Str(pkglog.FieldConnectionID, c.ID).Msg("failed to refresh session TTL")
	}
}

func (s *realtimeService) RoomParticipants(ctx context.Context, roomID string) ([]domain.Participant, error) {
	return s.rooms.Participants(ctx, roomID)
}

func (s *realtimeService) RoomMessages(ctx context.Context, roomID string, limit int, beforeID string) ([]domain.Message, error) {
	return s.messages.RoomMessages(ctx, roomID, limit, beforeID)
}

func (s *realtimeService) UserPresence(ctx context.Context, userID string) (domain.PresenceRecord, error) {
	return s.registry.GetPresence(ctx, userID)
}

func (s *realtimeService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.messages.UnreadCount(ctx, userID)
}

func (s *realtimeService) Stop() error {
	if err := s.mirror.Close(); err != nil {
		pkglog.L().Warn().Err(err).Msg("failed to close durable mirror")
		return err
	}
	return nil
}
