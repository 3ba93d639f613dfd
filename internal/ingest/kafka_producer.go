// Package ingest moves ride lifecycle events through Kafka.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-client/internal/models"
)

const eventHeader = "ride.transition"

// KafkaProducer journals ride transitions. Messages are keyed by ride id so
// a ride's events stay ordered within one partition.
type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaProducer{writer: w}
}

// Record publishes ev. It satisfies the ride controller's journal.
func (k *KafkaProducer) Record(ctx context.Context, ev models.RideEvent) error {
	msg, err := EncodeRideEvent(ev)
	if err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
	}
	return k.writer.WriteMessages(ctx, msg)
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// EncodeRideEvent builds the wire message for ev.
func EncodeRideEvent(ev models.RideEvent) (kafka.Message, error) {
	if ev.RideID == "" {
		return kafka.Message{}, errors.New("ingest: ride event without ride id")
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("ingest: encode ride event: %w", err)
	}
	return kafka.Message{
		Key:     []byte(ev.RideID),
		Value:   b,
		Time:    ev.At,
		Headers: []kafka.Header{{Key: "type", Value: []byte(eventHeader)}},
	}, nil
}

// DecodeRideEvent is the inverse of EncodeRideEvent.
func DecodeRideEvent(msg kafka.Message) (models.RideEvent, error) {
	var ev models.RideEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return ev, fmt.Errorf("ingest: decode ride event: %w", err)
	}
	if ev.RideID == "" {
		ev.RideID = string(msg.Key)
	}
	if ev.RideID == "" || ev.To == "" {
		return ev, errors.New("ingest: ride event missing ride id or target state")
	}
	if ev.At.IsZero() {
		ev.At = msg.Time
	}
	return ev, nil
}
