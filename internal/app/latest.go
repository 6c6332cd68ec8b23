package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"enviroflow/internal/config"
	"enviroflow/internal/database"
	"enviroflow/internal/sensor"
)

const latestLookback = 20

// LatestCache keeps each controller's most recent reading per sensor in
// Redis so the dashboard's hot path avoids the database entirely.
type LatestCache struct {
	client *redis.Client
	store  database.Store
	ttl    time.Duration
	log    *slog.Logger
}

// NewLatestCache connects to the configured Redis instance. A nil cache is
// returned when Redis is not configured; callers treat that as disabled.
func NewLatestCache(ctx context.Context, cfg config.RedisConfig, store database.Store, logger *slog.Logger) (*LatestCache, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	return &LatestCache{
		client: client,
		store:  store,
		ttl:    time.Duration(cfg.TTLSeconds) * time.Second,
		log:    logger.With("component", "latest_cache"),
	}, nil
}

func latestKey(controllerID string) string {
	return "enviroflow:latest:" + controllerID
}

// Refresh re-reads the controller's recent readings from the store, reduces
// them to the newest value per (type, port), and caches the snapshot.
func (c *LatestCache) Refresh(ctx context.Context, controllerID string) error {
	rows, err := c.store.RecentReadings(ctx, controllerID, latestLookback)
	if err != nil {
		return fmt.Errorf("load recent readings: %w", err)
	}

	type key struct {
		typ  sensor.Type
		port int
	}
	seen := make(map[key]bool, len(rows))
	var latest []database.Reading
	for _, row := range rows {
		k := key{typ: row.Type, port: row.Port}
		if seen[k] {
			continue
		}
		seen[k] = true
		latest = append(latest, row)
	}

	payload, err := json.Marshal(latest)
	if err != nil {
		return fmt.Errorf("marshal latest snapshot: %w", err)
	}
	if err := c.client.Set(ctx, latestKey(controllerID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache latest snapshot: %w", err)
	}
	return nil
}

// Latest returns the cached snapshot for a controller. The boolean is false
// on a cache miss; Redis errors are logged and reported as misses so the
// caller falls back to the store.
func (c *LatestCache) Latest(ctx context.Context, controllerID string) ([]database.Reading, bool) {
	payload, err := c.client.Get(ctx, latestKey(controllerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.log.Warn("latest lookup failed", "controller_id", controllerID, "err", err)
		return nil, false
	}

	var rows []database.Reading
	if err := json.Unmarshal(payload, &rows); err != nil {
		c.log.Warn("latest snapshot corrupt, dropping", "controller_id", controllerID, "err", err)
		_ = c.client.Del(ctx, latestKey(controllerID)).Err()
		return nil, false
	}
	return rows, true
}

// Close releases the Redis connection.
func (c *LatestCache) Close() error {
	return c.client.Close()
}
