// Package events streams ride events to Kafka for downstream consumers such
// as billing and analytics.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"splitride/internal/service"
)

// DefaultRideTopic is the topic ride events are written to.
const DefaultRideTopic = "ride-events"

// Record scopes.
const (
	ScopeRide    = "ride"
	ScopeUser    = "user"
	ScopeDrivers = "drivers"
)

// Record is the value of every Kafka message.
type Record struct {
	Scope     string    `json:"scope"`
	Target    string    `json:"target"`
	Event     string    `json:"event"`
	Payload   any       `json:"payload"`
	EmittedAt time.Time `json:"emittedAt"`
}

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes ride events to a topic. Messages are keyed by ride or
// user ID, so each ride's events land on one partition in emission order.
type KafkaPublisher struct {
	writer MessageWriter
	now    func() time.Time
}

// NewKafkaWriter builds a hash-balanced writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultRideTopic
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// NewKafkaPublisher creates a new KafkaPublisher.
func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, now: time.Now}
}

// Ensure KafkaPublisher implements service.Broadcaster.
var _ service.Broadcaster = (*KafkaPublisher)(nil)

// BroadcastToRide implements service.Broadcaster.
func (p *KafkaPublisher) BroadcastToRide(ctx context.Context, rideID string, event service.Event) error {
	return p.write(ctx, ScopeRide, rideID, event)
}

// NotifyUser implements service.Broadcaster.
func (p *KafkaPublisher) NotifyUser(ctx context.Context, userID string, event service.Event) error {
	return p.write(ctx, ScopeUser, userID, event)
}

// BroadcastToDrivers implements service.Broadcaster. Driver feed records
// share one key.
func (p *KafkaPublisher) BroadcastToDrivers(ctx context.Context, event service.Event) error {
	return p.write(ctx, ScopeDrivers, ScopeDrivers, event)
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) write(ctx context.Context, scope, target string, event service.Event) error {
	value, err := json.Marshal(Record{
		Scope:     scope,
		Target:    target,
		Event:     event.Name,
		Payload:   event.Payload,
		EmittedAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode %s record: %w", event.Name, err)
	}

	msg := kafka.Message{
		Key:   []byte(target),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(event.Name)},
			{Key: "scope", Value: []byte(scope)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s to kafka: %w", event.Name, err)
	}
	return nil
}
