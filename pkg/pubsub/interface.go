package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Event represents a broadcast envelope published to the event bus.
//
// OriginInstanceID identifies the publishing process so subscribers can skip
// envelopes they produced themselves (the origin delivers locally before
// publishing). ExcludeConnectionID names a connection that must not receive
// the fan-out; instances that do not host that connection ignore it.
type Event struct {
	Type                string          `json:"type"`
	RoomID              string          `json:"room_id"`
	Payload             json.RawMessage `json:"payload"`
	OriginInstanceID    string          `json:"origin_instance_id,omitempty"`
	ExcludeConnectionID string          `json:"exclude_connection_id,omitempty"`
	Timestamp           time.Time       `json:"timestamp"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType, roomID string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		RoomID:    roomID,
		Payload:   data,
		Timestamp: time.Now(),
	}, nil
}

// UnmarshalPayload unmarshals the event payload into the given struct.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Publisher publishes events to the event bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber subscribes to events from the event bus.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan *Event, error)
	Unsubscribe(ctx context.Context, channel string) error
}

// PubSub combines Publisher and Subscriber interfaces.
type PubSub interface {
	Publisher
	Subscriber
	Close() error
}
