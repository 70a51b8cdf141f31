package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/purchase"
)

const (
	TypePurchaseStatusChanged = "PurchaseStatusChanged"
	versionV1                 = "v1"
)

// Producer publishes purchase events to one topic.
type Producer struct {
	w     *kafka.Writer
	topic string
	log   *zap.Logger
}

// NewProducer builds an async writer. Delivery errors surface in the
// completion callback, not in Publish.
func NewProducer(brokers []string, topic string, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("events")
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{}, // partition by message key
			Async:        true,
			BatchTimeout: 50 * time.Millisecond,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					log.Warn("kafka delivery failed", zap.Int("messages", len(messages)), zap.Error(err))
				}
			},
		},
		topic: topic,
		log:   log,
	}
}

func (p *Producer) Close() error { return p.w.Close() }

// Envelope is the standard event schema the services publish.
// Keep it small and stable.
type Envelope struct {
	EventType    string          `json:"eventType"`
	EventVersion string          `json:"eventVersion"`
	OccurredAt   time.Time       `json:"occurredAt"`
	AggregateID  string          `json:"aggregateId"` // purchase id
	Data         json.RawMessage `json:"data"`
}

// Publish writes a single message keyed by key, so one purchase's events
// stay ordered on one partition.
func (p *Producer) Publish(ctx context.Context, key string, evt Envelope) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	val, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s: %w", evt.EventType, err)
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(key),
		Value: val,
	})
}

func (p *Producer) PublishStatusChanged(ctx context.Context, evt purchase.StatusChanged) error {
	env, err := NewStatusChanged(evt)
	if err != nil {
		return err
	}
	return p.Publish(ctx, evt.PurchaseID, env)
}

// NewStatusChanged wraps a transition in the envelope.
func NewStatusChanged(evt purchase.StatusChanged) (Envelope, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode status event: %w", err)
	}
	return Envelope{
		EventType:    TypePurchaseStatusChanged,
		EventVersion: versionV1,
		OccurredAt:   time.Now().UTC(),
		AggregateID:  evt.PurchaseID,
		Data:         data,
	}, nil
}

// DecodeStatusChanged parses a message value. ok is false for other event
// types, which consumers skip.
func DecodeStatusChanged(value []byte) (evt purchase.StatusChanged, ok bool, err error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return purchase.StatusChanged{}, false, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType != TypePurchaseStatusChanged {
		return purchase.StatusChanged{}, false, nil
	}
	if err := json.Unmarshal(env.Data, &evt); err != nil {
		return purchase.StatusChanged{}, false, fmt.Errorf("decode %s: %w", env.EventType, err)
	}
	return evt, true, nil
}

// NewReader returns a consumer-group reader on topic.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
}
