// Package memory provides an in-process event store used for development,
// tests and single-node deployments without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/quake-monitor/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Store keeps classified events in insertion order. Writes are serialized
// under the write lock; reads copy out of a read-locked snapshot.
type Store struct {
	mu     sync.RWMutex
	clock  clockwork.Clock
	events []domain.ClassifiedEvent
	nextID int64
	closed bool
}

// NewStore creates an empty store stamping events with clock.
func NewStore(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{clock: clock, nextID: 1}
}

// Append assigns the event its ID and RecordedAt and stores it. RecordedAt is
// strictly greater than that of every earlier event, even when the clock has
// not moved or has stepped backwards.
func (s *Store) Append(ctx context.Context, e domain.ClassifiedEvent) (domain.ClassifiedEvent, error) {
	if err := ctx.Err(); err != nil {
		return domain.ClassifiedEvent{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ClassifiedEvent{}, fmt.Errorf("%w: store closed", domain.ErrStoreUnavailable)
	}

	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	if n := len(s.events); n > 0 {
		if last := s.events[n-1].RecordedAt; !now.After(last) {
			now = last.Add(time.Microsecond)
		}
	}

	e.ID = s.nextID
	e.RecordedAt = now
	s.nextID++
	s.events = append(s.events, e)
	return e, nil
}

// Latest returns the most recent event for sensorID, or for any sensor when
// sensorID is empty.
func (s *Store) Latest(ctx context.Context, sensorID string) (domain.ClassifiedEvent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.readable(ctx); err != nil {
		return domain.ClassifiedEvent{}, false, err
	}

	for i := len(s.events) - 1; i >= 0; i-- {
		if sensorID == "" || s.events[i].SensorID == sensorID {
			return s.events[i], true, nil
		}
	}
	return domain.ClassifiedEvent{}, false, nil
}

// Window returns the newest limit events recorded at or after since, oldest
// first. A non-positive limit returns every event in the window.
func (s *Store) Window(ctx context.Context, since time.Time, limit int) ([]domain.ClassifiedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.readable(ctx); err != nil {
		return nil, err
	}
	return s.window(since, limit), nil
}

// Aggregate rolls up the events recorded at or after since.
func (s *Store) Aggregate(ctx context.Context, since time.Time, seriesLen int) (domain.AggregateView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.readable(ctx); err != nil {
		return domain.AggregateView{}, err
	}
	return domain.Aggregate(s.window(since, 0), since, seriesLen), nil
}

// Ping reports whether the store accepts requests.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readable(ctx)
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Close rejects all further calls.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// window must be called with the lock held. Events are stored in RecordedAt
// order, so the start of the window is found by binary search.
func (s *Store) window(since time.Time, limit int) []domain.ClassifiedEvent {
	start := sort.Search(len(s.events), func(i int) bool {
		return !s.events[i].RecordedAt.Before(since)
	})
	in := s.events[start:]
	if limit > 0 && len(in) > limit {
		in = in[len(in)-limit:]
	}
	out := make([]domain.ClassifiedEvent, len(in))
	copy(out, in)
	return out
}

func (s *Store) readable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if s.closed {
		return fmt.Errorf("%w: store closed", domain.ErrStoreUnavailable)
	}
	return nil
}
