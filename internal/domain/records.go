package domain

import "time"

// Connection is the registry-owned record of one live transport session.
// UserID is set iff Authenticated is true; at most one user per connection.
// Joined rooms live in a separate set key next to this record.
type Connection struct {
	ID            string    `json:"connection_id"`
	UserID        string    `json:"user_id,omitempty"`
	Authenticated bool      `json:"authenticated"`
	ConnectedAt   time.Time `json:"connected_at"`
}

// Presence status values.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// PresenceRecord is a user's aggregate online state across all connections.
// The connection id set lives in a separate key; status flips to offline when
// that set drains.
type PresenceRecord struct {
	UserID     string    `json:"user_id"`
	Status     string    `json:"status"`
	LastActive time.Time `json:"last_active"`
}

func (p PresenceRecord) Online() bool { return p.Status == PresenceOnline }

// RoomMetadata describes a tracked room. CreatedBy is "system" when the room
// record was created lazily on first join rather than through the room service.
type RoomMetadata struct {
	RoomID    string    `json:"room_id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	IsActive  bool      `json:"is_active"`
}

// Participant is one connection's membership in a room.
type Participant struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}

// Message is the transient, TTL-bounded record kept by the delivery tracker.
// The durable copy lives in the external store the mirror feeds.
type Message struct {
	MessageID  string    `json:"message_id"`
	RoomID     string    `json:"room_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Pending    bool      `json:"pending"`
}
