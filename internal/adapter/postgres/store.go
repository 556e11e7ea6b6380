// Package postgres persists classified events in PostgreSQL through pgxpool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/quake-monitor/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// appendLockKey serializes writers across every process sharing the database
// so RecordedAt stays strictly increasing.
const appendLockKey int64 = 0x71756b65

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS quake_events (
		id          BIGSERIAL PRIMARY KEY,
		sensor_id   TEXT             NOT NULL,
		magnitude_g DOUBLE PRECISION NOT NULL,
		deviation   DOUBLE PRECISION NOT NULL,
		status      TEXT             NOT NULL,
		depth_km    DOUBLE PRECISION NOT NULL DEFAULT 0,
		latitude    DOUBLE PRECISION NOT NULL DEFAULT 0,
		longitude   DOUBLE PRECISION NOT NULL DEFAULT 0,
		recorded_at TIMESTAMPTZ      NOT NULL,
		temperature DOUBLE PRECISION,
		acx_g       DOUBLE PRECISION,
		acy_g       DOUBLE PRECISION,
		acz_g       DOUBLE PRECISION
	)`,
	`ALTER TABLE quake_events
		ADD COLUMN IF NOT EXISTS temperature DOUBLE PRECISION,
		ADD COLUMN IF NOT EXISTS acx_g DOUBLE PRECISION,
		ADD COLUMN IF NOT EXISTS acy_g DOUBLE PRECISION,
		ADD COLUMN IF NOT EXISTS acz_g DOUBLE PRECISION`,
	`CREATE INDEX IF NOT EXISTS quake_events_recorded_at_idx ON quake_events (recorded_at)`,
	`CREATE INDEX IF NOT EXISTS quake_events_sensor_recorded_at_idx ON quake_events (sensor_id, recorded_at)`,
}

const eventColumns = `id, sensor_id, magnitude_g, deviation, status, depth_km, latitude, longitude, recorded_at,
	temperature, acx_g, acy_g, acz_g`

// Store is an event store backed by the quake_events table.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to dsn, verifies the connection and applies the schema.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	s := &Store{pool: pool, logger: logger}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping postgres: %w", domain.ErrStoreUnavailable, err)
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("postgres event store ready")
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate quake_events: %w", err)
		}
	}
	return nil
}

// Append inserts the event under a transaction-scoped advisory lock. The
// database clock stamps RecordedAt, bumped one microsecond past the newest
// row when the clock has not advanced.
func (s *Store) Append(ctx context.Context, e domain.ClassifiedEvent) (domain.ClassifiedEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.ClassifiedEvent{}, unavailable("begin append", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
		return domain.ClassifiedEvent{}, unavailable("acquire append lock", err)
	}

	ax, ay, az := axesArgs(e.Acceleration)
	err = tx.QueryRow(ctx, `
		INSERT INTO quake_events (sensor_id, magnitude_g, deviation, status, depth_km, latitude, longitude, recorded_at,
			temperature, acx_g, acy_g, acz_g)
		VALUES ($1, $2, $3, $4, $5, $6, $7, GREATEST(
			clock_timestamp(),
			(SELECT max(recorded_at) + interval '1 microsecond' FROM quake_events)
		), $8, $9, $10, $11)
		RETURNING id, recorded_at`,
		e.SensorID, e.MagnitudeG, e.Deviation, string(e.Status), e.DepthKM, e.Coordinates.Lat, e.Coordinates.Lon,
		e.Temperature, ax, ay, az,
	).Scan(&e.ID, &e.RecordedAt)
	if err != nil {
		return domain.ClassifiedEvent{}, unavailable("insert event", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ClassifiedEvent{}, unavailable("commit event", err)
	}
	e.RecordedAt = e.RecordedAt.UTC()
	return e, nil
}

// Latest returns the newest event for sensorID, or for any sensor when empty.
func (s *Store) Latest(ctx context.Context, sensorID string) (domain.ClassifiedEvent, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+eventColumns+` FROM quake_events
		WHERE $1 = '' OR sensor_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1`, sensorID)

	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ClassifiedEvent{}, false, nil
	}
	if err != nil {
		return domain.ClassifiedEvent{}, false, unavailable("query latest event", err)
	}
	return e, true, nil
}

// Window returns the newest limit events recorded at or after since, oldest
// first. A non-positive limit returns the whole window.
func (s *Store) Window(ctx context.Context, since time.Time, limit int) ([]domain.ClassifiedEvent, error) {
	return s.window(ctx, s.pool, since, limit)
}

// Aggregate computes the rollup inside one read-only snapshot so the counts
// and the series describe the same set of rows.
func (s *Store) Aggregate(ctx context.Context, since time.Time, seriesLen int) (domain.AggregateView, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.AggregateView{}, unavailable("begin aggregate", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only

	rows, err := tx.Query(ctx, `
		SELECT status, count(*), sum(deviation), max(deviation)
		FROM quake_events
		WHERE recorded_at >= $1
		GROUP BY status`, since)
	if err != nil {
		return domain.AggregateView{}, unavailable("query status counts", err)
	}

	view := domain.NewAggregateView(since)
	var sum float64
	for rows.Next() {
		var (
			status string
			count  int
			devSum float64
			devMax float64
		)
		if err := rows.Scan(&status, &count, &devSum, &devMax); err != nil {
			rows.Close()
			return domain.AggregateView{}, unavailable("scan status counts", err)
		}
		view.Counts[domain.Status(status)] += count
		view.Total += count
		sum += devSum
		view.MaxDeviation = max(view.MaxDeviation, devMax)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.AggregateView{}, unavailable("read status counts", err)
	}
	if view.Total > 0 {
		view.MeanDeviation = sum / float64(view.Total)
	}

	if seriesLen > 0 {
		events, err := s.window(ctx, tx, since, seriesLen)
		if err != nil {
			return domain.AggregateView{}, err
		}
		view.DeviationSeries = domain.SeriesOf(events)
	}
	return view, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping postgres", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) window(ctx context.Context, q querier, since time.Time, limit int) ([]domain.ClassifiedEvent, error) {
	rows, err := q.Query(ctx, `
		SELECT `+eventColumns+` FROM (
			SELECT `+eventColumns+` FROM quake_events
			WHERE recorded_at >= $1
			ORDER BY recorded_at DESC
			LIMIT $2
		) newest
		ORDER BY recorded_at ASC`, since, limitArg(limit))
	if err != nil {
		return nil, unavailable("query event window", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ClassifiedEvent, error) {
		return scanEvent(row)
	})
	if err != nil {
		return nil, unavailable("scan event window", err)
	}
	return events, nil
}

// limitArg maps a non-positive limit to NULL, which Postgres treats as LIMIT ALL.
func limitArg(limit int) *int64 {
	if limit <= 0 {
		return nil
	}
	n := int64(limit)
	return &n
}

// axesArgs maps missing axes to NULL.
func axesArgs(a *domain.Acceleration) (x, y, z *float64) {
	if a == nil {
		return nil, nil, nil
	}
	return &a.X, &a.Y, &a.Z
}

func scanEvent(row pgx.Row) (domain.ClassifiedEvent, error) {
	var (
		e          domain.ClassifiedEvent
		status     string
		ax, ay, az *float64
	)
	err := row.Scan(&e.ID, &e.SensorID, &e.MagnitudeG, &e.Deviation, &status, &e.DepthKM,
		&e.Coordinates.Lat, &e.Coordinates.Lon, &e.RecordedAt,
		&e.Temperature, &ax, &ay, &az)
	if err != nil {
		return domain.ClassifiedEvent{}, err
	}
	e.Status = domain.Status(status)
	if ax != nil && ay != nil && az != nil {
		e.Acceleration = &domain.Acceleration{X: *ax, Y: *ay, Z: *az}
	}
	e.RecordedAt = e.RecordedAt.UTC()
	return e, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}
