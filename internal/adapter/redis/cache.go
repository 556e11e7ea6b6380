// Package redis fronts an event store with a Redis cache of the latest event
// per sensor, the hot path polled by the dashboard.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/quake-monitor/internal/domain"
	"github.com/couchcryptid/quake-monitor/internal/observability"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "quake:latest:"
	anySensor = "*"
)

// storeIfNewer writes the event hash only when it is newer than the cached
// one: later recorded_at wins, id breaks ties. IDs alone are not comparable
// across store restarts, so a slow writer or a previous run never replaces a
// newer event.
var storeIfNewer = redis.NewScript(`
local at = tonumber(ARGV[1])
local id = tonumber(ARGV[2])
local updated = 0
for _, key in ipairs(KEYS) do
	local cur = redis.call('HMGET', key, 'at', 'id')
	local curAt = tonumber(cur[1])
	local curID = tonumber(cur[2])
	if not curAt or curAt < at or (curAt == at and (not curID or curID < id)) then
		redis.call('HSET', key, 'at', ARGV[1], 'id', ARGV[2], 'event', ARGV[3])
		redis.call('PEXPIRE', key, ARGV[4])
		updated = updated + 1
	end
end
return updated
`)

// EventStore is the store behind the cache.
type EventStore interface {
	Append(ctx context.Context, e domain.ClassifiedEvent) (domain.ClassifiedEvent, error)
	Latest(ctx context.Context, sensorID string) (domain.ClassifiedEvent, bool, error)
	Window(ctx context.Context, since time.Time, limit int) ([]domain.ClassifiedEvent, error)
	Aggregate(ctx context.Context, since time.Time, seriesLen int) (domain.AggregateView, error)
	Ping(ctx context.Context) error
	Close() error
}

// CachedStore decorates an EventStore. Redis failures are logged and the
// call falls through to the inner store.
type CachedStore struct {
	inner   EventStore
	client  *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewCachedStore wraps inner with a latest-event cache on client.
func NewCachedStore(inner EventStore, client *redis.Client, ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *CachedStore {
	return &CachedStore{inner: inner, client: client, ttl: ttl, logger: logger, metrics: metrics}
}

// NewClient creates a client for addr, in the shape the service configures it.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// Append stores the event in the inner store, then refreshes the cache.
func (c *CachedStore) Append(ctx context.Context, e domain.ClassifiedEvent) (domain.ClassifiedEvent, error) {
	stored, err := c.inner.Append(ctx, e)
	if err != nil {
		return stored, err
	}
	c.remember(ctx, stored)
	return stored, nil
}

// Latest serves from the cache and populates it on a miss.
func (c *CachedStore) Latest(ctx context.Context, sensorID string) (domain.ClassifiedEvent, bool, error) {
	raw, err := c.client.HGet(ctx, key(sensorID), "event").Bytes()
	switch {
	case err == nil:
		var e domain.ClassifiedEvent
		jsonErr := json.Unmarshal(raw, &e)
		if jsonErr == nil {
			c.metrics.CacheLookups.WithLabelValues("hit").Inc()
			return e, true, nil
		}
		c.metrics.CacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn("discarding undecodable cached event", "key", key(sensorID), "error", jsonErr)
	case errors.Is(err, redis.Nil):
		c.metrics.CacheLookups.WithLabelValues("miss").Inc()
	default:
		c.metrics.CacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn("latest cache lookup failed", "key", key(sensorID), "error", err)
	}

	e, ok, err := c.inner.Latest(ctx, sensorID)
	if err != nil || !ok {
		return e, ok, err
	}
	c.rememberAs(ctx, e, key(sensorID))
	return e, true, nil
}

func (c *CachedStore) Window(ctx context.Context, since time.Time, limit int) ([]domain.ClassifiedEvent, error) {
	return c.inner.Window(ctx, since, limit)
}

func (c *CachedStore) Aggregate(ctx context.Context, since time.Time, seriesLen int) (domain.AggregateView, error) {
	return c.inner.Aggregate(ctx, since, seriesLen)
}

// Ping checks only the inner store; the service stays ready without Redis.
func (c *CachedStore) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}

// Close closes the Redis client and the inner store.
func (c *CachedStore) Close() error {
	return errors.Join(c.client.Close(), c.inner.Close())
}

// remember caches e as the latest event for its sensor and for any sensor.
func (c *CachedStore) remember(ctx context.Context, e domain.ClassifiedEvent) {
	c.rememberAs(ctx, e, key(e.SensorID), key(""))
}

func (c *CachedStore) rememberAs(ctx context.Context, e domain.ClassifiedEvent, keys ...string) {
	payload, err := json.Marshal(e)
	if err != nil {
		c.logger.Warn("encode event for cache failed", "event_id", e.ID, "error", err)
		return
	}
	args := []any{strconv.FormatInt(e.RecordedAt.UnixMicro(), 10), strconv.FormatInt(e.ID, 10), payload, c.ttl.Milliseconds()}
	if err := storeIfNewer.Run(ctx, c.client, keys, args...).Err(); err != nil {
		c.logger.Warn("latest cache update failed", "event_id", e.ID, "error", err)
	}
}

func key(sensorID string) string {
	if sensorID == "" {
		sensorID = anySensor
	}
	return fmt.Sprintf("%s%s", keyPrefix, sensorID)
}
