package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cgm-trend-alerts/internal/predict"
)

const latestForecastKey = "glucowatch:forecast:latest"

// Options configure the prediction cache.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// PredictionCache keeps the most recent forecast in Redis so interactive
// callers can read it without recomputing. Forecasts are ephemeral; a cache
// miss simply means "recompute".
type PredictionCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New constructs a PredictionCache. Returns nil when no address is
// configured; callers treat a nil cache as disabled.
func New(opts Options, logger zerolog.Logger) *PredictionCache {
	if opts.Addr == "" {
		return nil
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &PredictionCache{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		ttl:    ttl,
		logger: logger.With().Str("component", "prediction_cache").Logger(),
	}
}

// StoreLatest caches the forecast, replacing any previous one.
func (c *PredictionCache) StoreLatest(ctx context.Context, result predict.Result) error {
	if c == nil {
		return nil
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal forecast: %w", err)
	}
	if err := c.client.Set(ctx, latestForecastKey, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache forecast: %w", err)
	}
	return nil
}

// Latest returns the cached forecast if present.
func (c *PredictionCache) Latest(ctx context.Context) (predict.Result, bool, error) {
	if c == nil {
		return predict.Result{}, false, nil
	}
	payload, err := c.client.Get(ctx, latestForecastKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return predict.Result{}, false, nil
		}
		return predict.Result{}, false, fmt.Errorf("read cached forecast: %w", err)
	}
	var result predict.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return predict.Result{}, false, fmt.Errorf("decode cached forecast: %w", err)
	}
	return result, true, nil
}

// Close releases the redis client.
func (c *PredictionCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
