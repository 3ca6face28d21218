package room

import (
	"context"

	"github.com/weiawesome/melo-live/internal/domain"
)

// ConnectionResolver maps connections to users. The session registry
// satisfies this.
type ConnectionResolver interface {
	UserConnections(ctx context.Context, userID string) ([]string, error)
	ResolveUsers(ctx context.Context, connectionIDs []string) (map[string]string, error)
}

// Manager tracks per-connection room membership and room metadata.
type Manager interface {
	// Join adds a connection to a room. Room metadata is created on first
	// join. joined is false when the connection was already a member;
	// created is true when this join created the room metadata.
	Join(ctx context.Context, connectionID, userID, roomID string) (joined, created bool, err error)

	// Leave removes a connection from a room. left is false when the
	// connection was not a member. The user's room membership is dropped
	// only when none of their other connections remain in the room.
	Leave(ctx context.Context, connectionID, userID, roomID string) (left bool, err error)

	// Participants lists the live connections in a room. Members whose
	// session has expired are pruned as a side effect.
	Participants(ctx context.Context, roomID string) ([]domain.Participant, error)

	// Metadata returns the room metadata, or domain.ErrNotFound when the
	// room has never been joined (or its metadata expired).
	Metadata(ctx context.Context, roomID string) (domain.RoomMetadata, error)

	// ConnectionRooms lists the rooms a connection has joined.
	ConnectionRooms(ctx context.Context, connectionID string) ([]string, error)

	// UserRooms lists the rooms a user occupies through any connection.
	UserRooms(ctx context.Context, userID string) ([]string, error)

	// SetTyping marks a connection as typing in a room for the typing TTL.
	SetTyping(ctx context.Context, roomID, connectionID string) error

	// ClearTyping removes the typing marker and reports whether it was set.
	ClearTyping(ctx context.Context, roomID, connectionID string) (bool, error)
}
