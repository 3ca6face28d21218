package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/weiawesome/melo-live/internal/domain"
	pkglog "github.com/weiawesome/melo-live/pkg/log"
)

// record is the wire shape written to the mirror topic, decoupled from the
// realtime protocol so downstream consumers keep a stable contract. Delivery
// bookkeeping (the pending flag) stays out of it.
type record struct {
	MessageID  string    `json:"message_id"`
	RoomID     string    `json:"room_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	MirroredAt time.Time `json:"mirrored_at"`
}

// ConfluentMirror copies persisted messages onto a Kafka topic for downstream
// indexing and archival. Mirroring is best effort; chat delivery never waits
// on the broker.
type ConfluentMirror struct {
	producer *kafka.Producer
	topic    string
	doneCh   chan struct{}
}

func NewConfluentMirror(brokers, topic string, partitions int) (*ConfluentMirror, error) {
	if err := ensureTopic(brokers, topic, partitions); err != nil {
		pkglog.L().Warn().Err(err).Str("topic", topic).Msg("failed to ensure kafka topic (may already exist)")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	cm := &ConfluentMirror{
		producer: p,
		topic:    topic,
		doneCh:   make(chan struct{}),
	}
	go cm.watchDeliveryReports()

	return cm, nil
}

func ensureTopic(brokers, topic string, partitions int) error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{"bootstrap.servers": brokers})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	spec := kafka.TopicSpecification{Topic: topic, NumPartitions: partitions, ReplicationFactor: 1}
	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{spec})
	if err != nil {
		return err
	}
	for _, res := range results {
		if res.Error.Code() != kafka.ErrNoError && res.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", res.Topic, res.Error)
		}
	}
	return nil
}

// watchDeliveryReports logs failed deliveries. Lost mirror records are
// tolerated; the Redis store remains the realtime source of truth.
func (cm *ConfluentMirror) watchDeliveryReports() {
	for e := range cm.producer.Events() {
		if ev, ok := e.(*kafka.Message); ok && ev.TopicPartition.Error != nil {
			pkglog.L().Warn().
				Err(ev.TopicPartition.Error).
				Str(pkglog.FieldRoomID, string(ev.Key)).
				Msg("kafka mirror delivery failed")
		}
	}
	close(cm.doneCh)
}

func (cm *ConfluentMirror) Produce(ctx context.Context, msg *domain.Message) error {
	value, err := json.Marshal(record{
		MessageID:  msg.MessageID,
		RoomID:     msg.RoomID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Content:    msg.Content,
		CreatedAt:  msg.CreatedAt,
		MirroredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal mirror record: %w", err)
	}

	// Keyed by room so each room's mirror stream stays ordered.
	err = cm.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &cm.topic, Partition: kafka.PartitionAny},
		Key:            []byte(msg.RoomID),
		Value:          value,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce mirror record: %w", err)
	}
	return nil
}

// Close flushes buffered records and waits for the report goroutine to drain.
func (cm *ConfluentMirror) Close() error {
	cm.producer.Flush(5000)
	cm.producer.Close()
	<-cm.doneCh
	return nil
}
