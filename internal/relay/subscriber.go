package relay

import (
	"context"
	"time"

	"github.com/weiawesome/melo-live/internal/hub"
	pkglog "github.com/weiawesome/melo-live/pkg/log"
	"github.com/weiawesome/melo-live/pkg/pubsub"
)

const resubscribeBackoff = 2 * time.Second

// Subscriber consumes fan-out envelopes from the event bus and delivers
// them to this instance's local clients. Envelopes stamped with our own
// instance id are skipped; the origin delivered those locally already.
type Subscriber struct {
	bus        pubsub.Subscriber
	channel    string
	hub        *hub.Hub
	instanceID string
	doneCh     chan struct{}
}

// NewSubscriber creates a relay subscriber for one instance.
func NewSubscriber(bus pubsub.Subscriber, channel string, h *hub.Hub, instanceID string) *Subscriber {
	return &Subscriber{
		bus:        bus,
		channel:    channel,
		hub:        h,
		instanceID: instanceID,
		doneCh:     make(chan struct{}),
	}
}

// Done returns a channel that is closed when Run exits.
func (s *Subscriber) Done() <-chan struct{} { return s.doneCh }

// Run subscribes to the broadcast channel and delivers envelopes until ctx
// is done. Lost subscriptions are retried with a fixed backoff.
func (s *Subscriber) Run(ctx context.Context) {
	defer close(s.doneCh)
	l := pkglog.L()

	for {
		if ctx.Err() != nil {
			return
		}

		ch, err := s.bus.Subscribe(ctx, s.channel)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.Warn().Err(err).Msg("broadcast subscription failed, retrying")
			if !sleepCtx(ctx, resubscribeBackoff) {
				return
			}
			continue
		}

		s.consume(ctx, ch)
		if ctx.Err() != nil {
			return
		}
		l.Warn().Msg("broadcast subscription lost, reconnecting")
		if !sleepCtx(ctx, resubscribeBackoff) {
			return
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, ch <-chan *pubsub.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			s.handleEvent(event)
		}
	}
}

func (s *Subscriber) handleEvent(event *pubsub.Event) {
	if event.OriginInstanceID == s.instanceID {
		return
	}
	if event.Type == "" || event.RoomID == "" {
		pkglog.L().Warn().Msg("broadcast envelope missing type or room, dropping")
		return
	}

	s.hub.BroadcastRawToRoom(event.RoomID, event.Payload, event.ExcludeConnectionID)
}

// sleepCtx waits for d and reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
