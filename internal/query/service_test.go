package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/couchcryptid/quake-monitor/internal/adapter/memory"
	"github.com/couchcryptid/quake-monitor/internal/domain"
	"github.com/couchcryptid/quake-monitor/internal/observability"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

type fixture struct {
	clock   *clockwork.FakeClock
	store   *memory.Store
	service *Service
}

func newFixture(cfg Config) *fixture {
	clock := clockwork.NewFakeClockAt(epoch)
	store := memory.NewStore(clock)
	classifier := domain.NewClassifier(domain.DefaultThresholds())
	estimator := domain.NewAftershockEstimator(domain.DefaultAftershockConfig())
	svc := NewService(store, classifier, estimator, cfg, clock, observability.NewMetricsForTesting())
	return &fixture{clock: clock, store: store, service: svc}
}

func defaultConfig() Config {
	return Config{
		Timeout:          time.Second,
		SummaryWindow:    time.Hour,
		SeriesLength:     30,
		AftershockWindow: time.Hour,
	}
}

// record appends one reading per magnitude, one second apart.
func (f *fixture) record(t *testing.T, sensor string, magnitudes ...float64) []domain.ClassifiedEvent {
	t.Helper()
	c := domain.NewClassifier(domain.DefaultThresholds())
	out := make([]domain.ClassifiedEvent, 0, len(magnitudes))
	for _, m := range magnitudes {
		r := domain.SensorReading{SensorID: sensor, MagnitudeG: m}
		e, err := f.store.Append(context.Background(), domain.NewEvent(r, c.Classify(m), domain.Location{}))
		require.NoError(t, err)
		out = append(out, e)
		f.clock.Advance(time.Second)
	}
	return out
}

func TestLatest_Empty(t *testing.T) {
	f := newFixture(defaultConfig())

	_, ok, err := f.service.Latest(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLatest_MostRecentWithDescription(t *testing.T) {
	f := newFixture(defaultConfig())
	events := f.record(t, "esp32-lembang", 1.0, 1.6, 1.35)

	got, ok, err := f.service.Latest(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, events[2].ID, got.ID)
	assert.Equal(t, domain.StatusWarning, got.Status)
	assert.Equal(t, domain.Description{
		Strength:  domain.StrengthModerate,
		Movement:  domain.MovementVibration,
		DepthHint: domain.DepthDeep,
	}, got.Description)
}

func TestLatest_DefaultSensor(t *testing.T) {
	cfg := defaultConfig()
	cfg.DefaultSensorID = "esp32-lembang"
	f := newFixture(cfg)
	want := f.record(t, "esp32-lembang", 1.2)
	f.record(t, "esp32-cimahi", 1.0)

	got, ok, err := f.service.Latest(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want[0].ID, got.ID)
}

func TestLatest_PeakWindow(t *testing.T) {
	cfg := defaultConfig()
	cfg.LatestPeakWindow = 5 * time.Second
	f := newFixture(cfg)

	events := f.record(t, "esp32-lembang", 1.9, 1.0, 1.0, 1.7, 1.0, 1.0)

	// The window covers the last five seconds, which excludes the 1.9.
	got, ok, err := f.service.Latest(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, events[3].ID, got.ID)
	assert.Equal(t, domain.StatusAlert, got.Status)

	// Once the window is empty the most recent reading is shown.
	f.clock.Advance(time.Minute)
	got, ok, err = f.service.Latest(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, events[5].ID, got.ID)
}

func TestHistory(t *testing.T) {
	f := newFixture(defaultConfig())
	events := f.record(t, "esp32-lembang", 1.0, 1.1, 1.2, 1.3, 1.4)

	t.Run("returns all in chronological order", func(t *testing.T) {
		got, err := f.service.History(context.Background(), 5)
		require.NoError(t, err)
		require.Len(t, got, 5)
		for i, r := range got {
			assert.Equal(t, events[i].ID, r.ID)
		}
	})

	t.Run("limit keeps newest", func(t *testing.T) {
		got, err := f.service.History(context.Background(), 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, events[3].ID, got[0].ID)
		assert.Equal(t, events[4].ID, got[1].ID)
	})

	t.Run("zero uses default", func(t *testing.T) {
		got, err := f.service.History(context.Background(), 0)
		require.NoError(t, err)
		assert.Len(t, got, 5)
	})

	t.Run("negative is rejected", func(t *testing.T) {
		_, err := f.service.History(context.Background(), -1)
		assert.ErrorIs(t, err, ErrInvalidLimit)
	})
}

func TestHistory_CapsLimit(t *testing.T) {
	f := newFixture(defaultConfig())
	c := domain.NewClassifier(domain.DefaultThresholds())
	for range MaxHistoryLimit + 10 {
		_, err := f.store.Append(context.Background(), domain.NewEvent(domain.SensorReading{SensorID: "s", MagnitudeG: 1}, c.Classify(1), domain.Location{}))
		require.NoError(t, err)
	}

	got, err := f.service.History(context.Background(), 5000)
	require.NoError(t, err)
	assert.Len(t, got, MaxHistoryLimit)
}

func TestHistory_RoundTrip(t *testing.T) {
	f := newFixture(defaultConfig())
	events := f.record(t, "esp32-lembang", 1.0, 1.35, 1.6, 0.98)

	got, err := f.service.History(context.Background(), len(events))
	require.NoError(t, err)

	stored := make([]domain.ClassifiedEvent, len(got))
	for i, r := range got {
		stored[i] = r.ClassifiedEvent
	}
	if diff := cmp.Diff(events, stored); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestSummary(t *testing.T) {
	f := newFixture(defaultConfig())
	f.record(t, "esp32-lembang", 1.0, 1.01, 0.99, 1.3, 1.35, 1.7)

	view, err := f.service.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, view.Total)
	assert.Equal(t, map[domain.Status]int{
		domain.StatusNormal:  3,
		domain.StatusWarning: 2,
		domain.StatusAlert:   1,
	}, view.Counts)
	assert.Len(t, view.DeviationSeries, 6)
}

func TestSummary_ExcludesOldEvents(t *testing.T) {
	f := newFixture(defaultConfig())
	f.record(t, "esp32-lembang", 1.9)
	f.clock.Advance(2 * time.Hour)
	f.record(t, "esp32-lembang", 1.0)

	view, err := f.service.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, view.Total)
	assert.Zero(t, view.Counts[domain.StatusAlert])
}

func TestAftershock(t *testing.T) {
	f := newFixture(defaultConfig())

	est, err := f.service.Aftershock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RiskLow, est.Level)

	mags := make([]float64, 12)
	for i := range mags {
		mags[i] = 1.6
	}
	f.record(t, "esp32-lembang", mags...)

	est, err = f.service.Aftershock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RiskHigh, est.Level)
	assert.Equal(t, time.Hour, est.Window)
}

func TestStoreUnavailable(t *testing.T) {
	f := newFixture(defaultConfig())
	require.NoError(t, f.store.Close())
	ctx := context.Background()

	_, _, err := f.service.Latest(ctx)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	_, err = f.service.History(ctx, 10)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	_, err = f.service.Summary(ctx)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	_, err = f.service.Aftershock(ctx)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.True(t, errors.Is(f.service.CheckReadiness(ctx), domain.ErrStoreUnavailable))
}

func TestQueriesDoNotMutate(t *testing.T) {
	f := newFixture(defaultConfig())
	f.record(t, "esp32-lembang", 1.0, 1.6)
	ctx := context.Background()

	_, _, _ = f.service.Latest(ctx)
	_, _ = f.service.History(ctx, 10)
	_, _ = f.service.Summary(ctx)
	_, _ = f.service.Aftershock(ctx)

	assert.Equal(t, 2, f.store.Len())
}
