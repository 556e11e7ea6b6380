package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/quake-monitor/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer forwards classified events to a Kafka topic for downstream
// consumers. It implements ingest.Sink.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the classified-event topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish writes one event, keyed by sensor so each sensor's events stay
// ordered within a partition.
func (w *Writer) Publish(ctx context.Context, event domain.ClassifiedEvent) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event %d to %s: %w", event.ID, w.writer.Topic, err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a ClassifiedEvent into a Kafka message.
func serializeToMessage(event domain.ClassifiedEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize classified event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.SensorID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "status", Value: []byte(event.Status)},
			{Key: "recorded_at", Value: []byte(event.RecordedAt.Format(time.RFC3339))},
			{Key: "event_id", Value: []byte(strconv.FormatInt(event.ID, 10))},
		},
	}, nil
}
