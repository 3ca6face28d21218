package message

import (
	"context"

	"github.com/weiawesome/melo-live/internal/domain"
)

// Tracker persists room messages and tracks their delivery until every
// expected recipient has acknowledged or the retention TTL runs out.
type Tracker interface {
	// Enqueue persists a message and records the set of user ids expected
	// to acknowledge it. A message with no expected recipients is stored
	// already settled.
	Enqueue(ctx context.Context, msg domain.Message, expected []string) error

	// ConfirmDelivery records a delivery acknowledgement. It returns false
	// without error when the message is unknown or already expired. Once
	// every expected recipient has acknowledged, the message stops being
	// pending.
	ConfirmDelivery(ctx context.Context, messageID, userID string) (bool, error)

	// MarkRead clears a message from the user's unread set. It returns
	// whether the message was in fact unread for that user.
	MarkRead(ctx context.Context, messageID, userID string) (bool, error)

	// RoomMessages returns up to limit messages for the room, newest
	// first. beforeID, when set, is a message id cursor; the page contains
	// only messages strictly older than it. An unknown cursor is a
	// validation error.
	RoomMessages(ctx context.Context, roomID string, limit int, beforeID string) ([]domain.Message, error)

	// Pending returns the room's not yet fully acknowledged messages,
	// newest first.
	Pending(ctx context.Context, roomID string) ([]domain.Message, error)

	// UnreadCount returns how many messages await the user's acknowledgement.
	UnreadCount(ctx context.Context, userID string) (int64, error)
}
