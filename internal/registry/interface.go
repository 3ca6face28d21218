package registry

import (
	"context"

	"github.com/weiawesome/melo-live/internal/domain"
)

// SessionRegistry tracks live connections and the user presence derived
// from them.
type SessionRegistry interface {
	// Register records a connection and marks its user online.
	// Registering the same connection again refreshes the stored record.
	Register(ctx context.Context, conn domain.Connection) error

	// Get returns the connection record, or domain.ErrNotFound.
	Get(ctx context.Context, connectionID string) (domain.Connection, error)

	// Unregister removes a connection. When it was the user's last live
	// connection the user's presence flips to offline. Unregistering an
	// unknown connection is a no-op.
	Unregister(ctx context.Context, connectionID string) error

	// Touch refreshes the TTLs of the connection and presence records
	// and advances the user's last-active timestamp.
	Touch(ctx context.Context, connectionID, userID string) error

	// GetPresence returns the user's presence. Users with no record are
	// reported offline.
	GetPresence(ctx context.Context, userID string) (domain.PresenceRecord, error)

	// UserConnections returns the ids of the user's live connections.
	UserConnections(ctx context.Context, userID string) ([]string, error)

	// ResolveUsers maps connection ids to user ids. Connections with no
	// live record are omitted from the result.
	ResolveUsers(ctx context.Context, connectionIDs []string) (map[string]string, error)
}
