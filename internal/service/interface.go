package service

import (
	"context"

	"github.com/weiawesome/melo-live/internal/domain"
	"github.com/weiawesome/melo-live/internal/hub"
)

// RoomAuthorizer answers whether a user may enter a room. The room service
// client satisfies this.
type RoomAuthorizer interface {
	CheckRoomAccess(ctx context.Context, userID, roomID string) (bool, error)
}

// RealtimeService orchestrates the realtime messaging core. Handle methods
// send their own events for expected rejections (permission, validation) and
// return nil for them; a non-nil error always means an internal failure the
// dispatcher reports as server_error.
type RealtimeService interface {
	HandleConnect(ctx context.Context, c *hub.Client, identity domain.Identity) error
	HandleJoinRoom(ctx context.Context, c *hub.Client, ev *domain.JoinRoomEvent) error
	HandleLeaveRoom(ctx context.Context, c *hub.Client, ev *domain.LeaveRoomEvent) error
	HandleSendMessage(ctx context.Context, c *hub.Client, ev *domain.SendMessageEvent) error
	HandleTypingStart(ctx context.Context, c *hub.Client, ev *domain.TypingStartEvent) error
	HandleTypingStop(ctx context.Context, c *hub.Client, ev *domain.TypingStopEvent) error
	HandleMessageDelivered(ctx context.Context, c *hub.Client, ev *domain.MessageDeliveredEvent) error
	HandleMessageRead(ctx context.Context, c *hub.Client, ev *domain.MessageReadEvent) error
	HandleDisconnect(ctx context.Context, c *hub.Client) error

	// Touch refreshes the connection's registry TTLs on activity.
	Touch(ctx context.Context, c *hub.Client)

	// Read side, consumed by the HTTP API.
	RoomParticipants(ctx context.Context, roomID string) ([]domain.Participant, error)
	RoomMessages(ctx context.Context, roomID string, limit int, beforeID string) ([]domain.Message, error)
	UserPresence(ctx context.Context, userID string) (domain.PresenceRecord, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)

	Stop() error
}
