// Package cache holds a Redis copy of the price list for the read path.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"crypto-ledger/internal/domain"
)

// Defaults for PriceCache.
const (
	DefaultKey = "crypto-ledger:prices"
	DefaultTTL = 60 * time.Second
)

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration // Default: 60s
	Key      string        // Default: DefaultKey
}

// PriceCache stores the full price list as one JSON value.
// The poller overwrites it with Set after every committed upsert. Readers only
// Fill an empty key, so a read that raced a poll cannot replace newer prices.
type PriceCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*PriceCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}

	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, cfg Config, logger *zap.Logger) *PriceCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PriceCache{
		client: client,
		key:    cfg.Key,
		ttl:    cfg.TTL,
		logger: logger.Named("cache"),
	}
}

// Get returns the cached price list. ok is false on a miss.
func (c *PriceCache) Get(ctx context.Context) ([]*domain.PriceRecord, bool, error) {
	val, err := c.client.Get(ctx, c.key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", c.key, err)
	}

	var records []*domain.PriceRecord
	if err := json.Unmarshal(val, &records); err != nil {
		return nil, false, fmt.Errorf("decode cached prices: %w", err)
	}
	return records, true, nil
}

// Set replaces the cached price list.
func (c *PriceCache) Set(ctx context.Context, records []*domain.PriceRecord) error {
	val, err := encode(records)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, c.key, val, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c.key, err)
	}
	c.logger.Debug("price cache refreshed", zap.Int("records", len(records)))
	return nil
}

// Fill stores the price list only if nothing is cached and reports whether it
// was written.
func (c *PriceCache) Fill(ctx context.Context, records []*domain.PriceRecord) (bool, error) {
	val, err := encode(records)
	if err != nil {
		return false, err
	}

	ok, err := c.client.SetNX(ctx, c.key, val, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", c.key, err)
	}
	return ok, nil
}

func encode(records []*domain.PriceRecord) ([]byte, error) {
	if records == nil {
		records = []*domain.PriceRecord{}
	}

	val, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode prices: %w", err)
	}
	return val, nil
}

// Invalidate drops the cached price list.
func (c *PriceCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", c.key, err)
	}
	c.logger.Debug("price cache invalidated")
	return nil
}

// Close closes the Redis client.
func (c *PriceCache) Close() error {
	return c.client.Close()
}
