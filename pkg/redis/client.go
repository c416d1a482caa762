package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	// OperationTimeout bounds reads and writes so an unreachable server
	// degrades quickly instead of stalling callers.
	OperationTimeout time.Duration
}

// Client wraps the Redis client with logging
type Client struct {
	rdb    *redis.Client
	logger ectologger.Logger
}

// NewClient creates a Redis client. It does not connect; call Ping to verify
// reachability.
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   1,
	})
	return Wrap(rdb, logger)
}

// Wrap adapts an existing go-redis client.
func Wrap(rdb *redis.Client, logger ectologger.Logger) *Client {
	return &Client{rdb: rdb, logger: logger}
}

// Connect pings the server and logs the outcome.
func (c *Client) Connect(ctx context.Context) error {
	addr := c.rdb.Options().Addr
	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	c.logger.Infof("Connected to Redis at %s", addr)
	return nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Redis returns the underlying Redis client for advanced operations
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Ping checks if Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
