// Package redis holds the pipeline run lock in Redis so only one run publishes at a time.
package redis

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

const connectTimeout = 5 * time.Second

type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	// KeyPrefix namespaces lock keys, e.g. "fern:lock:"
	KeyPrefix string
	// LockTTL bounds how long a crashed run can keep the lock
	LockTTL time.Duration
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Client is a connected Redis handle plus the lock settings runs use
type Client struct {
	rdb    *redis.Client
	cfg    Config
	logger ectologger.Logger
}

// NewClient connects and pings Redis, closing the connection if the ping fails
func NewClient(ctx context.Context, cfg Config, logger ectologger.Logger) (*Client, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.NewClient")
	defer span.End()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		tracing.Fail(span, err)
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.addr(), err)
	}

	logger.WithContext(ctx).WithFields(map[string]any{
		"addr":     cfg.addr(),
		"lock_ttl": cfg.LockTTL.String(),
	}).Info("Connected to redis")

	return &Client{rdb: rdb, cfg: cfg, logger: logger}, nil
}

// Locker returns a run locker using the configured key prefix and TTL
func (c *Client) Locker() *Locker {
	return NewLocker(c, c.cfg.KeyPrefix, c.cfg.LockTTL)
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping is the health check for serve
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "redis.Client.Ping")
	defer span.End()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		tracing.Fail(span, err)
		return err
	}
	return nil
}
