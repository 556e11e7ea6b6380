package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/quake-monitor/internal/domain"
	"github.com/couchcryptid/quake-monitor/internal/observability"
	"github.com/couchcryptid/quake-monitor/internal/query"
)

// waktuLayout is the timestamp layout the dashboard splits on a space.
const waktuLayout = "2006-01-02 15:04:05"

const maxControlBody = 1 << 10

// Queries is the read side consumed by the API.
type Queries interface {
	Latest(ctx context.Context) (query.Reading, bool, error)
	History(ctx context.Context, limit int) ([]query.Reading, error)
	Summary(ctx context.Context) (domain.AggregateView, error)
	Aftershock(ctx context.Context) (domain.AftershockEstimate, error)
}

// CommandRelay forwards device control commands.
type CommandRelay interface {
	Relay(ctx context.Context, cmd domain.Command) error
}

// API serves the dashboard endpoints under /api.
type API struct {
	queries  Queries
	relay    CommandRelay
	location *time.Location
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewAPI creates the API. relay may be nil, in which case control commands
// are answered with 503. Timestamps are rendered in loc.
func NewAPI(queries Queries, relay CommandRelay, loc *time.Location, logger *slog.Logger, metrics *observability.Metrics) *API {
	if loc == nil {
		loc = time.UTC
	}
	return &API{queries: queries, relay: relay, location: loc, logger: logger, metrics: metrics}
}

// Register mounts the API routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/latest", a.handleLatest)
	mux.HandleFunc("GET /api/history", a.handleHistory)
	mux.HandleFunc("GET /api/summary", a.handleSummary)
	mux.HandleFunc("GET /api/aftershock", a.handleAftershock)
	mux.HandleFunc("POST /api/control", a.handleControl)
}

type eventResponse struct {
	ID          int64              `json:"id"`
	SensorID    string             `json:"sensor_id"`
	MagnitudeG  float64            `json:"magnitude_g"`
	Deviation   float64            `json:"deviation"`
	Status      domain.Status      `json:"status"`
	DepthKM     float64            `json:"depth_km"`
	Coordinates domain.Coordinates `json:"coordinates"`
	RecordedAt  time.Time          `json:"recorded_at"`
	Waktu       string             `json:"waktu"`

	Temperature  *float64             `json:"temperature,omitempty"`
	Acceleration *domain.Acceleration `json:"acceleration,omitempty"`
	domain.Description
}

type latestResponse struct {
	Available bool   `json:"available"`
	Message   string `json:"message,omitempty"`
	*eventResponse
}

type aftershockResponse struct {
	domain.AftershockEstimate
	Window string `json:"window"`
}

type controlRequest struct {
	Command string `json:"command"`
}

type controlResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) handleLatest(w http.ResponseWriter, r *http.Request) {
	reading, ok, err := a.queries.Latest(r.Context())
	if err != nil {
		a.writeQueryError(w, "latest", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, latestResponse{Available: false, Message: "No data available yet"})
		return
	}
	writeJSON(w, http.StatusOK, latestResponse{Available: true, eventResponse: a.toResponse(reading)})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: query.ErrInvalidLimit.Error()})
			return
		}
		limit = n
	}

	readings, err := a.queries.History(r.Context(), limit)
	if err != nil {
		a.writeQueryError(w, "history", err)
		return
	}
	out := make([]*eventResponse, len(readings))
	for i, reading := range readings {
		out[i] = a.toResponse(reading)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	view, err := a.queries.Summary(r.Context())
	if err != nil {
		a.writeQueryError(w, "summary", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleAftershock(w http.ResponseWriter, r *http.Request) {
	est, err := a.queries.Aftershock(r.Context())
	if err != nil {
		a.writeQueryError(w, "aftershock", err)
		return
	}
	writeJSON(w, http.StatusOK, aftershockResponse{AftershockEstimate: est, Window: est.Window.String()})
}

func (a *API) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxControlBody)).Decode(&req); err != nil {
		a.metrics.ControlCommands.WithLabelValues("", "invalid").Inc()
		writeJSON(w, http.StatusBadRequest, controlResponse{Status: "ERROR", Message: "Request body must be JSON with a command field."})
		return
	}

	cmd, err := domain.ParseCommand(req.Command)
	if err != nil {
		a.metrics.ControlCommands.WithLabelValues("", "invalid").Inc()
		writeJSON(w, http.StatusBadRequest, controlResponse{Status: "ERROR", Message: "Invalid command. Use TEST_ON, TEST_OFF or SHUTDOWN."})
		return
	}

	if a.relay == nil {
		err = domain.ErrRelayUnavailable
	} else {
		err = a.relay.Relay(r.Context(), cmd)
	}
	switch {
	case err == nil:
		a.metrics.ControlCommands.WithLabelValues(string(cmd), "sent").Inc()
		writeJSON(w, http.StatusOK, controlResponse{Status: "SUCCESS", Message: cmd.Acknowledgement()})
	case errors.Is(err, domain.ErrRelayUnavailable):
		a.metrics.ControlCommands.WithLabelValues(string(cmd), "unavailable").Inc()
		a.logger.Warn("control relay unavailable", "command", string(cmd))
		writeJSON(w, http.StatusServiceUnavailable, controlResponse{Status: "ERROR", Message: "Control relay offline. Check the broker connection."})
	default:
		a.metrics.ControlCommands.WithLabelValues(string(cmd), "failed").Inc()
		a.logger.Error("control relay failed", "command", string(cmd), "error", err)
		writeJSON(w, http.StatusBadGateway, controlResponse{Status: "ERROR", Message: "Failed to publish the command."})
	}
}

func (a *API) toResponse(r query.Reading) *eventResponse {
	return &eventResponse{
		ID:          r.ID,
		SensorID:    r.SensorID,
		MagnitudeG:  r.MagnitudeG,
		Deviation:   r.Deviation,
		Status:      r.Status,
		DepthKM:     r.DepthKM,
		Coordinates: r.Coordinates,
		RecordedAt:  r.RecordedAt,
		Waktu:       r.RecordedAt.In(a.location).Format(waktuLayout),

		Temperature:  r.Temperature,
		Acceleration: r.Acceleration,
		Description:  r.Description,
	}
}

// writeQueryError maps store outages and timeouts to 503 so the dashboard
// can show OFFLINE, and anything else to 500.
func (a *API) writeQueryError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, domain.ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		a.logger.Warn("query failed, store unavailable", "operation", op, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "event store unavailable"})
		return
	}
	a.logger.Error("query failed", "operation", op, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
}
