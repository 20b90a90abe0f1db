package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/certsentry/certsentry/internal/alert"
	"github.com/certsentry/certsentry/internal/cert"
)

// Event kinds written to the topic.
const (
	EventRecordUpdated = "record.updated"
	EventAlertSent     = "alert.sent"
)

// Event is the wire envelope for one run observation.
type Event struct {
	Kind   string         `json:"kind"`
	RunID  uuid.UUID      `json:"run_id"`
	At     time.Time      `json:"at"`
	Record *cert.Record   `json:"record,omitempty"`
	Alert  *alert.Payload `json:"alert,omitempty"`
}

// writer is the kafka.Writer surface the publisher needs; swapped for a
// capture in tests.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes run events to a Kafka topic, keyed by target so a
// target's events stay ordered within a partition. The zero-value nil
// Publisher discards everything.
type Publisher struct {
	w writer
}

// New builds a Publisher against the given brokers and topic.
func New(brokers []string, topic string) *Publisher {
	return &Publisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 100 * time.Millisecond,
	}}
}

// RecordUpdated publishes a classified record after it is stored.
func (p *Publisher) RecordUpdated(ctx context.Context, runID uuid.UUID, rec cert.Record) error {
	if p == nil {
		return nil
	}
	return p.emit(ctx, rec.Origin, Event{
		Kind:   EventRecordUpdated,
		RunID:  runID,
		At:     rec.LastChecked,
		Record: &rec,
	})
}

// AlertSent publishes a delivered alert.
func (p *Publisher) AlertSent(ctx context.Context, runID uuid.UUID, at time.Time, pay alert.Payload) error {
	if p == nil {
		return nil
	}
	return p.emit(ctx, pay.Origin, Event{
		Kind:  EventAlertSent,
		RunID: runID,
		At:    at,
		Alert: &pay,
	})
}

func (p *Publisher) emit(ctx context.Context, key string, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("publish: marshal event: %w", err)
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publish: write %s: %w", ev.Kind, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.w.Close()
}
