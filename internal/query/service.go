// Package query is the read side of the service. It never mutates the store.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/quake-monitor/internal/domain"
	"github.com/couchcryptid/quake-monitor/internal/observability"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// ErrInvalidLimit is returned for a history limit below one.
var ErrInvalidLimit = errors.New("history limit must be a positive integer")

// Store is the read-only view of the event store the service needs.
type Store interface {
	Latest(ctx context.Context, sensorID string) (domain.ClassifiedEvent, bool, error)
	Window(ctx context.Context, since time.Time, limit int) ([]domain.ClassifiedEvent, error)
	Aggregate(ctx context.Context, since time.Time, seriesLen int) (domain.AggregateView, error)
	Ping(ctx context.Context) error
}

// Config tunes the query service.
type Config struct {
	Timeout          time.Duration
	DefaultSensorID  string // empty means any sensor
	LatestPeakWindow time.Duration
	SummaryWindow    time.Duration
	SeriesLength     int
	AftershockWindow time.Duration
}

// Reading is a stored event with its read-time description.
type Reading struct {
	domain.ClassifiedEvent
	Description domain.Description
}

// Service answers dashboard queries. Every call is bounded by cfg.Timeout.
type Service struct {
	store      Store
	classifier domain.Classifier
	estimator  *domain.AftershockEstimator
	cfg        Config
	clock      clockwork.Clock
	metrics    *observability.Metrics
}

// NewService creates a Service reading from store.
func NewService(store Store, classifier domain.Classifier, estimator *domain.AftershockEstimator, cfg Config, clock clockwork.Clock, metrics *observability.Metrics) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		store:      store,
		classifier: classifier,
		estimator:  estimator,
		cfg:        cfg,
		clock:      clock,
		metrics:    metrics,
	}
}

// Latest returns the reading to show as current. With a peak window
// configured it prefers the most severe reading inside that window, so a
// short spike is not hidden by the quiet readings that follow it. The
// second result is false when the store holds no events.
func (s *Service) Latest(ctx context.Context) (Reading, bool, error) {
	ctx, done := s.begin(ctx, "latest")
	defer done()

	if s.cfg.LatestPeakWindow > 0 {
		events, err := s.store.Window(ctx, s.clock.Now().Add(-s.cfg.LatestPeakWindow), 0)
		if err != nil {
			return Reading{}, false, fmt.Errorf("query peak window: %w", err)
		}
		if peak, ok := peakOf(events, s.cfg.DefaultSensorID); ok {
			return s.describe(peak), true, nil
		}
	}

	e, ok, err := s.store.Latest(ctx, s.cfg.DefaultSensorID)
	if err != nil {
		return Reading{}, false, fmt.Errorf("query latest: %w", err)
	}
	if !ok {
		return Reading{}, false, nil
	}
	return s.describe(e), true, nil
}

// History returns up to limit of the most recent readings, oldest first.
// Zero selects DefaultHistoryLimit; limits above MaxHistoryLimit are capped.
func (s *Service) History(ctx context.Context, limit int) ([]Reading, error) {
	switch {
	case limit == 0:
		limit = DefaultHistoryLimit
	case limit < 0:
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	ctx, done := s.begin(ctx, "history")
	defer done()

	events, err := s.store.Window(ctx, time.Time{}, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	readings := make([]Reading, len(events))
	for i, e := range events {
		readings[i] = s.describe(e)
	}
	return readings, nil
}

// Summary rolls up the summary window.
func (s *Service) Summary(ctx context.Context) (domain.AggregateView, error) {
	ctx, done := s.begin(ctx, "summary")
	defer done()

	view, err := s.store.Aggregate(ctx, s.clock.Now().Add(-s.cfg.SummaryWindow), s.cfg.SeriesLength)
	if err != nil {
		return domain.AggregateView{}, fmt.Errorf("query summary: %w", err)
	}
	return view, nil
}

// Aftershock estimates aftershock risk from the aftershock window.
func (s *Service) Aftershock(ctx context.Context) (domain.AftershockEstimate, error) {
	ctx, done := s.begin(ctx, "aftershock")
	defer done()

	view, err := s.store.Aggregate(ctx, s.clock.Now().Add(-s.cfg.AftershockWindow), s.cfg.SeriesLength)
	if err != nil {
		return domain.AftershockEstimate{}, fmt.Errorf("query aftershock window: %w", err)
	}
	return s.estimator.Estimate(view, s.cfg.AftershockWindow), nil
}

// CheckReadiness reports whether the store is reachable.
func (s *Service) CheckReadiness(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) describe(e domain.ClassifiedEvent) Reading {
	return Reading{ClassifiedEvent: e, Description: s.classifier.Describe(e)}
}

func (s *Service) begin(ctx context.Context, op string) (context.Context, func()) {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	return ctx, func() {
		cancel()
		s.metrics.QueryDuration.WithLabelValues(op).Observe(s.clock.Since(start).Seconds())
	}
}

// peakOf returns the highest-deviation event for sensorID (any when empty),
// preferring the later event on ties.
func peakOf(events []domain.ClassifiedEvent, sensorID string) (domain.ClassifiedEvent, bool) {
	var (
		peak  domain.ClassifiedEvent
		found bool
	)
	for _, e := range events {
		if sensorID != "" && e.SensorID != sensorID {
			continue
		}
		if !found || e.Deviation >= peak.Deviation {
			peak, found = e, true
		}
	}
	return peak, found
}
