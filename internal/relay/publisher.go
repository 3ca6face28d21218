package relay

import (
	"context"

	"github.com/weiawesome/melo-live/pkg/pubsub"
)

// Publisher sends room fan-out envelopes to the event bus so other
// instances can deliver them to their local clients. The origin instance
// id is stamped on every envelope; subscribers use it to skip their own
// traffic.
type Publisher struct {
	bus        pubsub.Publisher
	channel    string
	instanceID string
}

// NewPublisher creates a relay publisher for one instance.
func NewPublisher(bus pubsub.Publisher, channel, instanceID string) *Publisher {
	return &Publisher{
		bus:        bus,
		channel:    channel,
		instanceID: instanceID,
	}
}

// Publish sends one outbound event to every other instance. The payload is
// the complete client-facing event; remote instances write it through
// verbatim.
func (p *Publisher) Publish(ctx context.Context, eventType, roomID string, payload interface{}, excludeConnectionID string) error {
	event, err := pubsub.NewEvent(eventType, roomID, payload)
	if err != nil {
		return err
	}
	event.OriginInstanceID = p.instanceID
	event.ExcludeConnectionID = excludeConnectionID

	return p.bus.Publish(ctx, p.channel, event)
}
