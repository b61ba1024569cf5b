package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	EventBookingCreated        = "booking.created"
	EventBookingStatusChanged  = "booking.status_changed"
	EventBookingPaymentUpdated = "booking.payment_updated"
	EventBookingTipUpdated     = "booking.tip_updated"
	EventDriverLocationUpdated = "driver.location_updated"
)

// Event is one record on the booking event stream.
type Event struct {
	Type       string    `json:"type"`
	BookingID  string    `json:"bookingId"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data,omitempty"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NewEventPublisher writes to Kafka when brokers are configured.
func NewEventPublisher(brokers []string, topic string) EventPublisher {
	if len(brokers) == 0 {
		return NopPublisher{}
	}
	return NewKafkaProducer(brokers, topic)
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	})
	return &KafkaProducer{writer: w}
}

// Publish keys messages by booking id so one booking's events stay ordered.
func (k *KafkaProducer) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(event.BookingID),
		Value:   b,
		Headers: []kafka.Header{{Key: "type", Value: []byte(event.Type)}},
	})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
