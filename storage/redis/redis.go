// Package redis provides a Redis-backed implementation of
// invoicing.EventCache. A SET NX with TTL decides whether an event id
// was already processed, so dedupe works across replicas.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "stripebill:event:"

// Cache implements invoicing.EventCache using Redis.
type Cache struct {
	client *redis.Client
	config Config
}

// Config holds Redis cache configuration.
type Config struct {
	// Addr is the Redis server address (host:port).
	Addr string

	// Password for Redis AUTH, empty when unset.
	Password string

	// DB is the Redis database number.
	DB int

	// DialTimeout, ReadTimeout and WriteTimeout bound individual
	// operations. Zero values use the client defaults.
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// New creates a Redis event cache and verifies connectivity.
func New(ctx context.Context, config Config) (*Cache, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Cache{client: client, config: config}, nil
}

// NewFromClient wraps an existing Redis client. The caller keeps
// ownership of the client's lifecycle.
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Close closes the underlying Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// MarkProcessed implements invoicing.EventCache. SET NX returns true only
// for the first caller to claim the event id within the TTL window.
func (c *Cache) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	first, err := c.client.SetNX(ctx, keyPrefix+eventID, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	return first, nil
}
