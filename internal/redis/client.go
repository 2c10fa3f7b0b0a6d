package redis

import (
	"context"

	"github.com/chihkang/PortfolioManager/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Client wraps the Redis client with portfolio-specific operations
type Client struct {
	rdb *redis.Client
	log zerolog.Logger
}

// Dial creates a client without contacting the server. Cache operations
// degrade to misses while Redis is unreachable.
func Dial(cfg config.RedisConfig, log zerolog.Logger) *Client {
	return NewFromClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}), log)
}

// NewFromClient wraps an existing go-redis client
func NewFromClient(rdb *redis.Client, log zerolog.Logger) *Client {
	return &Client{
		rdb: rdb,
		log: log.With().Str("component", "cache").Logger(),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks if Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
