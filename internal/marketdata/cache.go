package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"alpha-trade-engine/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// PriceCache fronts realtime price reads with Redis. When Redis is
// unavailable operations return errors and callers fall through to the
// REST providers; a small failure counter keeps the engine from hammering
// a dead instance.
type PriceCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

const priceKeyPrefix = "alpha:price:"

// NewPriceCache connects to Redis. A failed initial ping returns the
// cache in degraded mode rather than an error.
func NewPriceCache(cfg config.RedisConfig, ttl time.Duration, logger zerolog.Logger) (*PriceCache, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pc := &PriceCache{
		client:        client,
		ttl:           ttl,
		logger:        logger.With().Str("component", "price_cache").Logger(),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		pc.logger.Warn().Err(err).Msg("Initial Redis connection failed, cache degraded")
		return pc, nil
	}

	pc.healthy = true
	pc.lastCheck = time.Now()
	pc.logger.Info().Str("address", cfg.Address).Msg("Redis price cache connected")

	return pc, nil
}

// IsHealthy returns whether Redis is currently usable
func (pc *PriceCache) IsHealthy() bool {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.healthy
}

func (pc *PriceCache) recordFailure() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.failureCount++
	if pc.failureCount >= pc.maxFailures {
		if pc.healthy {
			pc.logger.Warn().Int("failures", pc.failureCount).Msg("Redis marked unhealthy")
		}
		pc.healthy = false
	}
}

func (pc *PriceCache) recordSuccess() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if !pc.healthy {
		pc.logger.Info().Msg("Redis recovered")
	}
	pc.healthy = true
	pc.failureCount = 0
	pc.lastCheck = time.Now()
}

// checkHealth probes Redis in the background once the backoff has passed
func (pc *PriceCache) checkHealth() {
	pc.mu.RLock()
	shouldCheck := !pc.healthy && time.Since(pc.lastCheck) >= pc.checkInterval
	pc.mu.RUnlock()

	if !shouldCheck {
		return
	}

	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := pc.client.Ping(pingCtx).Err(); err == nil {
			pc.recordSuccess()
		} else {
			pc.mu.Lock()
			pc.lastCheck = time.Now()
			pc.mu.Unlock()
		}
	}()
}

// GetPrice returns a cached price; redis.Nil errors signal a miss
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (float64, error) {
	pc.checkHealth()

	if !pc.IsHealthy() {
		return 0, fmt.Errorf("redis unavailable")
	}

	result, err := pc.client.Get(ctx, priceKeyPrefix+symbol).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, err // Cache miss, not a failure
		}
		pc.recordFailure()
		return 0, fmt.Errorf("redis get failed: %w", err)
	}

	pc.recordSuccess()
	price, err := strconv.ParseFloat(result, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt cached price for %s: %w", symbol, err)
	}
	return price, nil
}

// SetPrice stores a price under the configured TTL
func (pc *PriceCache) SetPrice(ctx context.Context, symbol string, price float64) error {
	pc.checkHealth()

	if !pc.IsHealthy() {
		return fmt.Errorf("redis unavailable")
	}

	value := strconv.FormatFloat(price, 'f', -1, 64)
	if err := pc.client.Set(ctx, priceKeyPrefix+symbol, value, pc.ttl).Err(); err != nil {
		pc.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}

	pc.recordSuccess()
	return nil
}

// Stats reports cache health for the ops endpoint
type CacheStats struct {
	Healthy      bool `json:"healthy"`
	FailureCount int  `json:"failure_count"`
}

// Stats returns current cache statistics
func (pc *PriceCache) Stats() CacheStats {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return CacheStats{
		Healthy:      pc.healthy,
		FailureCount: pc.failureCount,
	}
}

// Close closes the Redis connection
func (pc *PriceCache) Close() error {
	if pc.client != nil {
		return pc.client.Close()
	}
	return nil
}
