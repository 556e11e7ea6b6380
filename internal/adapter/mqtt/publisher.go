package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/quake-monitor/internal/domain"
	paho "github.com/eclipse/paho.mqtt.golang"
)

// PublisherConfig configures the control relay.
type PublisherConfig struct {
	Broker         string
	ClientID       string
	ControlTopic   string
	ConnectTimeout time.Duration
}

// Publisher holds a long-lived, auto-reconnecting connection used to relay
// control commands. Commands are published at QoS 0 without retain, so a
// device that is offline never replays a stale SHUTDOWN.
type Publisher struct {
	cfg    PublisherConfig
	client paho.Client
	logger *slog.Logger
}

// NewPublisher creates an unconnected Publisher.
func NewPublisher(cfg PublisherConfig, logger *slog.Logger) *Publisher {
	opts := newClientOptions(cfg.Broker, cfg.ClientID, cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetOnConnectHandler(func(paho.Client) {
			logger.Info("mqtt publisher connected", "broker", cfg.Broker)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt publisher connection lost", "error", err)
		})

	return &Publisher{cfg: cfg, client: paho.NewClient(opts), logger: logger}
}

// Start begins connecting in the background. Until the connection is up,
// Relay reports domain.ErrRelayUnavailable.
func (p *Publisher) Start() {
	p.client.Connect()
}

// Connect connects and waits for the connection to be established.
func (p *Publisher) Connect(ctx context.Context) error {
	if err := waitToken(ctx, p.client.Connect(), p.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("connect %s: %w", p.cfg.Broker, err)
	}
	return nil
}

// Relay publishes cmd to the control topic.
func (p *Publisher) Relay(ctx context.Context, cmd domain.Command) error {
	if err := p.Publish(ctx, p.cfg.ControlTopic, 0, []byte(cmd)); err != nil {
		return fmt.Errorf("relay %s: %w", cmd, err)
	}
	p.logger.Info("control command relayed", "command", string(cmd), "topic", p.cfg.ControlTopic)
	return nil
}

// Publish sends payload to topic, failing fast with domain.ErrRelayUnavailable
// while disconnected.
func (p *Publisher) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		return domain.ErrRelayUnavailable
	}
	if err := waitToken(ctx, p.client.Publish(topic, qos, false, payload), p.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Connected reports whether the publisher currently has an open connection.
func (p *Publisher) Connected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects, waiting briefly for in-flight publishes.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
