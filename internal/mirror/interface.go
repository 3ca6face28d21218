package mirror

import (
	"context"

	"github.com/weiawesome/melo-live/internal/domain"
)

// Mirror forwards accepted chat messages to an external log for
// downstream consumers (persistence, search indexing, analytics).
// Delivery is best effort and never blocks the realtime path.
type Mirror interface {
	Produce(ctx context.Context, msg *domain.Message) error
	Close() error
}

// NoopMirror discards every message. Used when mirroring is disabled.
type NoopMirror struct{}

func (NoopMirror) Produce(_ context.Context, _ *domain.Message) error { return nil }

func (NoopMirror) Close() error { return nil }
