package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	httpadapter "github.com/couchcryptid/quake-monitor/internal/adapter/http"
	"github.com/couchcryptid/quake-monitor/internal/adapter/memory"
	"github.com/couchcryptid/quake-monitor/internal/domain"
	"github.com/couchcryptid/quake-monitor/internal/observability"
	"github.com/couchcryptid/quake-monitor/internal/query"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jakarta = time.FixedZone("WIB", 7*60*60)

type fakeRelay struct {
	err  error
	sent []domain.Command
}

func (r *fakeRelay) Relay(_ context.Context, cmd domain.Command) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, cmd)
	return nil
}

type apiEnv struct {
	api     *httpadapter.API
	mux     *http.ServeMux
	store   *memory.Store
	clock   *clockwork.FakeClock
	metrics *observability.Metrics
}

func newAPIEnv(t *testing.T, relay httpadapter.CommandRelay) *apiEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 2, 30, 0, 0, time.UTC))
	store := memory.NewStore(clock)
	return newAPIEnvWith(t, store, clock, relay, store)
}

func newAPIEnvWith(t *testing.T, qs query.Store, clock *clockwork.FakeClock, relay httpadapter.CommandRelay, store *memory.Store) *apiEnv {
	t.Helper()
	metrics := observability.NewMetricsForTesting()
	svc := query.NewService(qs,
		domain.NewClassifier(domain.DefaultThresholds()),
		domain.NewAftershockEstimator(domain.DefaultAftershockConfig()),
		query.Config{
			Timeout:          time.Second,
			SummaryWindow:    24 * time.Hour,
			SeriesLength:     50,
			AftershockWindow: time.Hour,
		},
		clock, metrics)

	api := httpadapter.NewAPI(svc, relay, jakarta, slog.Default(), metrics)
	mux := http.NewServeMux()
	api.Register(mux)
	return &apiEnv{api: api, mux: mux, store: store, clock: clock, metrics: metrics}
}

func (e *apiEnv) record(t *testing.T, magnitude float64) {
	t.Helper()
	c := domain.NewClassifier(domain.DefaultThresholds())
	ev := domain.NewEvent(domain.SensorReading{SensorID: "esp32-lembang", MagnitudeG: magnitude}, c.Classify(magnitude),
		domain.Location{DepthKM: 10, Coordinates: domain.Coordinates{Lat: -6.8117, Lon: 107.6176}})
	_, err := e.store.Append(context.Background(), ev)
	require.NoError(t, err)
	e.clock.Advance(time.Second)
}

func (e *apiEnv) do(method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestLatest_NoData(t *testing.T) {
	env := newAPIEnv(t, &fakeRelay{})

	rec := env.do(http.MethodGet, "/api/latest", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["available"])
	assert.NotEmpty(t, body["message"])
	assert.NotContains(t, body, "id")
}

func TestLatest_ReturnsNewestReading(t *testing.T) {
	env := newAPIEnv(t, &fakeRelay{})
	env.record(t, 1.0)
	env.record(t, 1.6)

	rec := env.do(http.MethodGet, "/api/latest", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decode(t, rec)
	assert.Equal(t, true, body["available"])
	assert.Equal(t, "ALERT", body["status"])
	assert.Equal(t, "esp32-lembang", body["sensor_id"])
	assert.InDelta(t, 1.6, body["magnitude_g"], 1e-9)
	assert.InDelta(t, 0.6, body["deviation"], 1e-9)
	assert.Equal(t, domain.StrengthVeryStrong, body["strength"])
	assert.Equal(t, domain.MovementVibration, body["movement"])
	assert.NotEmpty(t, body["depth_hint"])
	// Recorded at 02:30:01 UTC, rendered in UTC+7.
	assert.Equal(t, "2026-03-14 09:30:01", body["waktu"])
}

func TestLatest_IncludesEnrichment(t *testing.T) {
	env := newAPIEnv(t, &fakeRelay{})
	f := func(v float64) *float64 { return &v }
	c := domain.NewClassifier(domain.DefaultThresholds())
	r := domain.SensorReading{SensorID: "esp32-lembang", MagnitudeG: 1.6,
		Temperature: f(28.25), AccelX: f(0.9), AccelY: f(0.4), AccelZ: f(1.1)}
	_, err := env.store.Append(context.Background(), domain.NewEvent(r, c.Classify(r.MagnitudeG), domain.Location{DepthKM: 10}))
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/api/latest", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.InDelta(t, 28.25, body["temperature"], 1e-9)
	assert.Equal(t, map[string]any{"acx_g": 0.9, "acy_g": 0.4, "acz_g": 1.1}, body["acceleration"])
	assert.Equal(t, domain.MovementTypeHorizontal, body["movement_type"])
}

func TestLatest_OmitsMissingEnrichment(t *testing.T) {
	env := newAPIEnv(t, &fakeRelay{})
	env.record(t, 1.2)

	body := decode(t, env.do(http.MethodGet, "/api/latest", ""))
	assert.NotContains(t, body, "temperature")
	assert.NotContains(t, body, "acceleration")
	assert.NotContains(t, body, "movement_type")
}

func TestLatest_StoreUnavailable(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := memory.NewStore(clock)
	require.NoError(t, store.Close())
	env := newAPIEnvWith(t, store, clock, &fakeRelay{}, store)

	for _, path := range []string{"/api/latest", "/api/history", "/api/summary", "/api/aftershock"} {
		rec := env.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.NotEmpty(t, decode(t, rec)["error"], path)
	}
}

type brokenStore struct{ query.Store }

func (brokenStore) Latest(context.Context, string) (domain.ClassifiedEvent, bool, error) {
	return domain.ClassifiedEvent{}, false, errors.New("corrupt row")
}

func TestLatest_UnexpectedErrorIs500(t *testing.T) {
	clock := clockwork.NewFakeClock()
	env := newAPIEnvWith(t, brokenStore{}, clock, &fakeRelay{}, nil)

	rec := env.do(http.MethodGet, "/api/latest", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "corrupt row")
}

func TestHistory(t *testing.T) {
	env := newAPIEnv(t, &fakeRelay{})
	for i := range 5 {
		env.record(t, 1.0+float64(i)/10)
	}

	t.Run("default limit returns all, oldest first", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/history", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var body []map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body, 5)
		assert.InDelta(t, 1.0, body[0]["magnitude_g"], 1e-9)
		assert.InDelta(t, 1.4, body[4]["magnitude_g"], 1e-9)
	})

	t.Run("limit keeps the newest", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/history?limit=2", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var body []map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body, 2)
		assert.InDelta(t, 1.3, body[0]["magnitude_g"], 1e-9)
		assert.InDelta(t, 1.4, body[1]["magnitude_g"], 1e-9)
	})

	for _, bad := range []string{"0", "-3", "ten", "1.5"} {
		t.Run(fmt.Sprintf("invalid limit %s", bad), func(t *testing.T) {
			rec := env.do(http.MethodGet, "/api/history?limit="+bad, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHistory_EmptyIsArray(t *testing.T) {
	env := newAPIEnv(t, &fakeRelay{})

	rec := env.do(http.MethodGet, "/api/history", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSummary(t *testing.T) {
	env := newAPIEnv(t, &fakeRelay{})
	env.record(t, 1.0)
	env.record(t, 1.35)
	env.record(t, 1.7)

	rec := env.do(http.MethodGet, "/api/summary", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.InDelta(t, 3, body["total"], 0)
	counts, ok := body["counts"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 1, counts["NORMAL"], 0)
	assert.InDelta(t, 1, counts["WARNING"], 0)
	assert.InDelta(t, 1, counts["ALERT"], 0)
	assert.InDelta(t, 0.7, body["max_deviation"], 1e-9)
	series, ok := body["deviation_series"].([]any)
	require.True(t, ok)
	assert.Len(t, series, 3)
}

func TestAftershock(t *testing.T) {
	env := newAPIEnv(t, &fakeRelay{})
	env.record(t, 1.0)

	rec := env.do(http.MethodGet, "/api/aftershock", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "LOW", body["level"])
	assert.NotEmpty(t, body["pesan"])
	assert.Equal(t, "1h0m0s", body["window"])
}

func TestControl(t *testing.T) {
	t.Run("relays a valid command", func(t *testing.T) {
		relay := &fakeRelay{}
		env := newAPIEnv(t, relay)

		rec := env.do(http.MethodPost, "/api/control", `{"command":"test_on"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "SUCCESS", body["status"])
		assert.Equal(t, "Command TEST_ON sent.", body["message"])
		assert.Equal(t, []domain.Command{domain.CommandTestOn}, relay.sent)
		assert.InDelta(t, 1, testutil.ToFloat64(env.metrics.ControlCommands.WithLabelValues("TEST_ON", "sent")), 0)
	})

	t.Run("shutdown acknowledgement", func(t *testing.T) {
		env := newAPIEnv(t, &fakeRelay{})

		rec := env.do(http.MethodPost, "/api/control", `{"command":"SHUTDOWN"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, decode(t, rec)["message"], "deep sleep")
	})

	t.Run("rejects unknown command", func(t *testing.T) {
		relay := &fakeRelay{}
		env := newAPIEnv(t, relay)

		rec := env.do(http.MethodPost, "/api/control", `{"command":"REBOOT"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "ERROR", decode(t, rec)["status"])
		assert.Empty(t, relay.sent)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		env := newAPIEnv(t, &fakeRelay{})

		rec := env.do(http.MethodPost, "/api/control", `{"command":`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.InDelta(t, 1, testutil.ToFloat64(env.metrics.ControlCommands.WithLabelValues("", "invalid")), 0)
	})

	t.Run("relay offline", func(t *testing.T) {
		env := newAPIEnv(t, &fakeRelay{err: fmt.Errorf("publish: %w", domain.ErrRelayUnavailable)})

		rec := env.do(http.MethodPost, "/api/control", `{"command":"TEST_OFF"}`)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "ERROR", decode(t, rec)["status"])
	})

	t.Run("no relay configured", func(t *testing.T) {
		env := newAPIEnv(t, nil)

		rec := env.do(http.MethodPost, "/api/control", `{"command":"TEST_OFF"}`)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("relay failure", func(t *testing.T) {
		env := newAPIEnv(t, &fakeRelay{err: errors.New("broker rejected publish")})

		rec := env.do(http.MethodPost, "/api/control", `{"command":"TEST_OFF"}`)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.InDelta(t, 1, testutil.ToFloat64(env.metrics.ControlCommands.WithLabelValues("TEST_OFF", "failed")), 0)
	})

	t.Run("wrong method", func(t *testing.T) {
		env := newAPIEnv(t, &fakeRelay{})

		rec := env.do(http.MethodGet, "/api/control", "")

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
