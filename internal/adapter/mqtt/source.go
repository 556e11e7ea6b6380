package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/quake-monitor/internal/domain"
	"github.com/couchcryptid/quake-monitor/internal/observability"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jonboulle/clockwork"
)

// SourceConfig configures the sensor subscription.
type SourceConfig struct {
	Broker         string
	ClientID       string
	Topic          string
	QoS            byte
	ConnectTimeout time.Duration
	QueueSize      int
}

// Source subscribes to the sensor topic. Each Connect dials a fresh client
// with auto-reconnect disabled; the ingestion worker owns reconnection.
type Source struct {
	cfg      SourceConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
	clock    clockwork.Clock
	messages chan domain.RawMessage

	newClient func(*paho.ClientOptions) paho.Client

	mu     sync.Mutex
	client paho.Client
}

// NewSource creates a Source whose message queue holds cfg.QueueSize messages.
func NewSource(cfg SourceConfig, logger *slog.Logger, metrics *observability.Metrics) *Source {
	return &Source{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		clock:    clockwork.NewRealClock(),
		messages: make(chan domain.RawMessage, max(cfg.QueueSize, 1)),

		newClient: paho.NewClient,
	}
}

// Connect dials the broker and subscribes to the sensor topic, replacing any
// previous connection.
func (s *Source) Connect(ctx context.Context) (domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disconnectLocked()

	lost := make(chan error, 1)
	opts := newClientOptions(s.cfg.Broker, s.cfg.ClientID, s.cfg.ConnectTimeout).
		SetAutoReconnect(false).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			select {
			case lost <- fmt.Errorf("%w: %w", domain.ErrTransportDisrupted, err):
			default:
			}
		})

	client := s.newClient(opts)
	if err := waitToken(ctx, client.Connect(), s.cfg.ConnectTimeout); err != nil {
		// A late CONNACK would otherwise leave an unreferenced open client.
		client.Disconnect(0)
		return domain.Subscription{}, fmt.Errorf("%w: connect %s: %w", domain.ErrTransportDisrupted, s.cfg.Broker, err)
	}

	tok := client.Subscribe(s.cfg.Topic, s.cfg.QoS, s.enqueue)
	err := waitToken(ctx, tok, s.cfg.ConnectTimeout)
	if err == nil {
		err = checkSubscribed(tok, s.cfg.Topic)
	}
	if err != nil {
		client.Disconnect(0)
		return domain.Subscription{}, fmt.Errorf("%w: subscribe %s: %w", domain.ErrTransportDisrupted, s.cfg.Topic, err)
	}

	s.client = client
	s.logger.Info("mqtt subscribed", "broker", s.cfg.Broker, "topic", s.cfg.Topic, "qos", s.cfg.QoS)
	return domain.Subscription{Messages: s.messages, Lost: lost}, nil
}

// Pending returns the number of queued, unprocessed messages.
func (s *Source) Pending() int {
	return len(s.messages)
}

// Close disconnects from the broker. Queued messages stay readable.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectLocked()
	return nil
}

func (s *Source) disconnectLocked() {
	if s.client == nil {
		return
	}
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	s.client = nil
}

// enqueue runs on the paho delivery goroutine and must never block it.
func (s *Source) enqueue(_ paho.Client, m paho.Message) {
	msg := domain.RawMessage{
		Topic:      m.Topic(),
		Payload:    append([]byte(nil), m.Payload()...),
		ReceivedAt: s.clock.Now(),
	}
	select {
	case s.messages <- msg:
		s.metrics.MessagesReceived.Inc()
	default:
		s.metrics.MessagesDropped.WithLabelValues("overflow").Inc()
		s.logger.Warn("ingest queue full, dropping message", "topic", msg.Topic, "queue_size", cap(s.messages))
	}
}
