// Package stream publishes domain events (registrations, check-ins,
// certificates, event status changes) for other services to consume.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"
)

type EventType string

const (
	RegistrationCreated   EventType = "registration.created"
	RegistrationCancelled EventType = "registration.cancelled"
	AttendanceRecorded    EventType = "attendance.recorded"
	CertificateIssued     EventType = "certificate.issued"
	EventPublished        EventType = "event.published"
	EventCancelled        EventType = "event.cancelled"
)

type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	EventID    string         `json:"event_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt int64          `json:"occurred_at"`
}

func NewEvent(typ EventType, eventID, userID string, data map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		EventID:    eventID,
		UserID:     userID,
		Data:       data,
		OccurredAt: time.Now().UTC().Unix(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Kafka when brokers are configured, a no-op publisher otherwise.
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		slog.Info("KAFKA_BROKERS is not set, domain events won't be published")
		return NopPublisher{}
	}
	return NewKafkaPublisher(brokers, topic)
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
		// request handlers never wait on the broker
		Async: true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				slog.Error("can't publish domain events", "count", len(messages), "error", err)
			}
		},
	}
	slog.Info("kafka publisher initialized", "topic", topic, "brokers", brokers)
	return &KafkaPublisher{writer: writer}
}

// Messages are keyed by the app event id so one event's history stays in
// order on a single partition.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("(*KafkaPublisher).Publish: %w", err)
	}
	key := event.EventID
	if key == "" {
		key = event.ID
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Unix(event.OccurredAt, 0),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	}); err != nil {
		return fmt.Errorf("(*KafkaPublisher).Publish: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	slog.Info("closing kafka publisher")
	return p.writer.Close()
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// Publishes and logs the failure; domain events never fail a request.
func Emit(ctx context.Context, p Publisher, event Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		slog.Warn("can't publish domain event", "type", event.Type, "error", err)
	}
}
