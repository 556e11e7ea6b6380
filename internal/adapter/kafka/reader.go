package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/quake-monitor/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// ReaderConfig configures the sensor-reading consumer.
type ReaderConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	QueueSize   int
	DialTimeout time.Duration
}

// Reader consumes raw sensor readings from Kafka as an alternative to MQTT.
// Offsets are committed through RawMessage.Commit after a message has been
// handled. Unlike the MQTT source it never drops: a full queue pauses
// fetching and the topic retains the backlog.
type Reader struct {
	cfg      ReaderConfig
	logger   *slog.Logger
	messages chan domain.RawMessage

	mu     sync.Mutex
	reader *kafkago.Reader
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReader creates an unconnected Reader.
func NewReader(cfg ReaderConfig, logger *slog.Logger) *Reader {
	return &Reader{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan domain.RawMessage, max(cfg.QueueSize, 1)),
	}
}

// Connect checks that a broker is reachable, then starts a consumer-group
// reader feeding the subscription.
func (r *Reader) Connect(ctx context.Context) (domain.Subscription, error) {
	if err := r.dial(ctx); err != nil {
		return domain.Subscription{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  r.cfg.Brokers,
		Topic:    r.cfg.Topic,
		GroupID:  r.cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	fetchCtx, cancel := context.WithCancel(context.Background())
	lost := make(chan error, 1)
	done := make(chan struct{})

	r.reader, r.cancel, r.done = reader, cancel, done
	go r.fetch(fetchCtx, reader, lost, done)

	r.logger.Info("kafka reader started", "topic", r.cfg.Topic, "group_id", r.cfg.GroupID)
	return domain.Subscription{Messages: r.messages, Lost: lost}, nil
}

// Close stops fetching and closes the underlying reader.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked()
}

func (r *Reader) stopLocked() error {
	if r.reader == nil {
		return nil
	}
	r.cancel()
	<-r.done
	err := r.reader.Close()
	r.reader = nil
	return err
}

func (r *Reader) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, r.cfg.DialTimeout)
	defer cancel()

	var errs []error
	for _, broker := range r.cfg.Brokers {
		conn, err := kafkago.DialContext(dialCtx, "tcp", broker)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_ = conn.Close()
		return nil
	}
	return fmt.Errorf("%w: no kafka broker reachable: %w", domain.ErrTransportDisrupted, errors.Join(errs...))
}

func (r *Reader) fetch(ctx context.Context, reader *kafkago.Reader, lost chan<- error, done chan<- struct{}) {
	defer close(done)
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				lost <- fmt.Errorf("%w: fetch from %s: %w", domain.ErrTransportDisrupted, r.cfg.Topic, err)
			}
			return
		}
		select {
		case r.messages <- mapMessageToRawMessage(msg, reader):
		case <-ctx.Done():
			return
		}
	}
}

// committer is the slice of *kafkago.Reader used for acknowledgements.
type committer interface {
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
}

func mapMessageToRawMessage(msg kafkago.Message, c committer) domain.RawMessage {
	return domain.RawMessage{
		Topic:      msg.Topic,
		Payload:    msg.Value,
		ReceivedAt: msg.Time,
		Commit: func(ctx context.Context) error {
			return c.CommitMessages(ctx, msg)
		},
	}
}
