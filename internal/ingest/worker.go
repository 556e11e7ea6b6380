// Package ingest runs the ingestion worker: it keeps a transport
// subscription alive and turns each delivered payload into a stored,
// classified event.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/quake-monitor/internal/domain"
	"github.com/couchcryptid/quake-monitor/internal/observability"
)

// Source is a transport that can be (re)connected and subscribed.
type Source interface {
	Connect(ctx context.Context) (domain.Subscription, error)
	Close() error
}

// Store appends classified events.
type Store interface {
	Append(ctx context.Context, e domain.ClassifiedEvent) (domain.ClassifiedEvent, error)
}

// Sink receives every successfully stored event. Sink failures never affect
// ingestion.
type Sink interface {
	Publish(ctx context.Context, e domain.ClassifiedEvent) error
}

// Config tunes the worker.
type Config struct {
	Concurrency     int
	AppendRetries   int
	AppendBackoff   time.Duration
	WriteTimeout    time.Duration
	DefaultLocation domain.Location
}

// Worker owns the transport lifecycle and the decode, classify, append path.
type Worker struct {
	source     Source
	store      Store
	sinks      []Sink
	classifier domain.Classifier
	cfg        Config
	logger     *slog.Logger
	metrics    *observability.Metrics

	state      atomic.Int32
	inflight   atomic.Int32
	subscribed atomic.Bool
}

// New creates a Worker. Concurrency and AppendRetries below one are raised to one.
func New(source Source, store Store, classifier domain.Classifier, cfg Config, logger *slog.Logger, metrics *observability.Metrics, sinks ...Sink) *Worker {
	cfg.Concurrency = max(cfg.Concurrency, 1)
	cfg.AppendRetries = max(cfg.AppendRetries, 1)
	w := &Worker{
		source:     source,
		store:      store,
		sinks:      sinks,
		classifier: classifier,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
	}
	w.setState(StateDisconnected)
	return w
}

// State returns the current lifecycle state. The worker is PROCESSING while
// subscribed and at least one message is being handled.
func (w *Worker) State() State {
	s := State(w.state.Load())
	if s == StateSubscribed && w.inflight.Load() > 0 {
		return StateProcessing
	}
	return s
}

// CheckReadiness returns nil once the worker has subscribed at least once.
func (w *Worker) CheckReadiness(_ context.Context) error {
	if !w.subscribed.Load() {
		return errors.New("ingest worker has not subscribed yet")
	}
	return nil
}

// Run keeps the subscription alive until ctx is cancelled. It returns nil on
// shutdown; transport failures are retried, never returned.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("ingest worker started", "concurrency", w.cfg.Concurrency, "append_retries", w.cfg.AppendRetries)
	w.metrics.IngestRunning.Set(1)
	defer w.metrics.IngestRunning.Set(0)
	defer w.setState(StateDisconnected)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return w.stop(ctx.Err())
		}

		w.setState(StateConnecting)
		sub, err := w.source.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return w.stop(ctx.Err())
			}
			w.logger.Error("transport connect failed", "error", err, "retry_in", backoff)
			w.metrics.Reconnects.Inc()
			if !sleepWithContext(ctx, backoff) {
				return w.stop(ctx.Err())
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		backoff = initialBackoff
		w.subscribed.Store(true)
		w.setState(StateSubscribed)
		w.logger.Info("ingest worker subscribed")

		if err := w.consume(ctx, sub); err != nil {
			w.logger.Warn("transport disrupted, reconnecting", "error", err, "retry_in", backoff)
			w.metrics.Reconnects.Inc()
			w.setState(StateConnecting)
			if !sleepWithContext(ctx, backoff) {
				return w.stop(ctx.Err())
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		return w.stop(ctx.Err())
	}
}

func (w *Worker) stop(reason error) error {
	w.logger.Info("ingest worker stopping", "reason", reason)
	if err := w.source.Close(); err != nil {
		w.logger.Warn("transport close failed", "error", err)
	}
	return nil
}

// consume drains the subscription with the configured number of consumers.
// It returns the disruption error when the connection is lost and nil when
// ctx is cancelled, in both cases after every in-flight message has finished.
func (w *Worker) consume(ctx context.Context, sub domain.Subscription) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for range w.cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.drain(ctx, sub.Messages, stop)
		}()
	}

	var lostErr error
	select {
	case <-ctx.Done():
	case err := <-sub.Lost:
		lostErr = err
		if lostErr == nil {
			lostErr = domain.ErrTransportDisrupted
		}
	}
	close(stop)
	wg.Wait()
	return lostErr
}

func (w *Worker) drain(ctx context.Context, messages <-chan domain.RawMessage, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case msg := <-messages:
			w.metrics.QueueDepth.Set(float64(len(messages)))
			w.inflight.Add(1)
			w.Handle(ctx, msg)
			w.inflight.Add(-1)
		}
	}
}

// Handle processes one message. It runs detached from ctx cancellation so a
// message accepted before shutdown is still stored, bounded by WriteTimeout.
func (w *Worker) Handle(ctx context.Context, msg domain.RawMessage) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.WriteTimeout)
	defer cancel()

	reading, err := domain.DecodeReading(msg.Payload)
	if err != nil {
		w.logger.Warn("invalid payload, dropping message", "error", err, "topic", msg.Topic, "bytes", len(msg.Payload))
		w.metrics.MessagesDropped.WithLabelValues("invalid").Inc()
		w.commit(ctx, msg)
		return
	}

	c := w.classifier.Classify(reading.MagnitudeG)
	if reading.StatusHint != "" && domain.Status(reading.StatusHint) != c.Status {
		w.logger.Debug("device status differs from classification",
			"sensor_id", reading.SensorID, "device_status", reading.StatusHint, "status", c.Status)
	}

	stored, err := w.appendWithRetry(ctx, domain.NewEvent(reading, c, w.cfg.DefaultLocation))
	if err != nil {
		w.logger.Error("append failed, dropping event", "error", err,
			"sensor_id", reading.SensorID, "magnitude_g", reading.MagnitudeG, "status", c.Status)
		w.metrics.MessagesDropped.WithLabelValues("store").Inc()
		// Left uncommitted, but the next commit on the partition moves past it.
		return
	}

	w.metrics.EventsStored.WithLabelValues(string(stored.Status)).Inc()
	if stored.Status != domain.StatusNormal {
		w.logger.Info("elevated reading stored",
			"event_id", stored.ID, "sensor_id", stored.SensorID, "status", stored.Status, "deviation", stored.Deviation)
	}
	w.commit(ctx, msg)
	w.forward(ctx, stored)
}

func (w *Worker) appendWithRetry(ctx context.Context, e domain.ClassifiedEvent) (domain.ClassifiedEvent, error) {
	start := time.Now()
	backoff := w.cfg.AppendBackoff

	var err error
	attempt := 1
	for ; ; attempt++ {
		var stored domain.ClassifiedEvent
		stored, err = w.store.Append(ctx, e)
		if err == nil {
			w.metrics.AppendDuration.Observe(time.Since(start).Seconds())
			return stored, nil
		}
		if attempt >= w.cfg.AppendRetries || ctx.Err() != nil {
			break
		}
		w.logger.Warn("append failed, retrying", "error", err, "attempt", attempt, "retry_in", backoff)
		w.metrics.AppendRetries.Inc()
		if !sleepWithContext(ctx, backoff) {
			break
		}
		backoff *= 2
	}
	return domain.ClassifiedEvent{}, fmt.Errorf("append gave up after %d attempts: %w", attempt, err)
}

// commit acknowledges the message if the transport supports it.
func (w *Worker) commit(ctx context.Context, msg domain.RawMessage) {
	if msg.Commit == nil {
		return
	}
	if err := msg.Commit(ctx); err != nil {
		w.logger.Warn("commit message failed", "error", err, "topic", msg.Topic)
	}
}

func (w *Worker) forward(ctx context.Context, e domain.ClassifiedEvent) {
	for _, s := range w.sinks {
		if err := s.Publish(ctx, e); err != nil {
			w.logger.Warn("forward event failed", "error", err, "event_id", e.ID)
			w.metrics.SinkErrors.Inc()
		}
	}
}

func (w *Worker) setState(s State) {
	prev := State(w.state.Swap(int32(s)))
	if prev != s {
		w.metrics.IngestState.WithLabelValues(prev.String()).Set(0)
	}
	w.metrics.IngestState.WithLabelValues(s.String()).Set(1)
}
