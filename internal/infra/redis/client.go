package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/openctemio/webhooks/internal/config"
	"github.com/openctemio/webhooks/pkg/logger"
)

// Client is a connected go-redis client plus the key namespace of this service.
type Client struct {
	client *redis.Client
	logger *logger.Logger
	prefix string
}

// New dials Redis and pings it with exponential backoff until it answers or
// MaxRetries is spent.
func New(cfg *config.RedisConfig, log *logger.Logger) (*Client, error) {
	if cfg == nil || log == nil {
		return nil, errors.New("redis: config and logger are required")
	}
	log = log.With("component", "redis")

	opts := &redis.Options{
		Addr:            cfg.Addr(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryDelay,
		MaxRetryBackoff: cfg.MaxRetryDelay,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // opt-in for self-signed dev clusters
		}
	}
	rdb := redis.NewClient(opts)

	ping := func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
		defer cancel()
		return struct{}{}, rdb.Ping(ctx).Err()
	}
	retry := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.MinRetryDelay,
		MaxInterval:         cfg.MaxRetryDelay,
		Multiplier:          2,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
	}
	_, err := backoff.Retry(context.Background(), ping,
		backoff.WithBackOff(retry),
		backoff.WithMaxTries(uint(max(cfg.MaxRetries, 0)+1)), //nolint:gosec // non-negative
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn("redis not reachable, retrying", "addr", cfg.Addr(), "in", wait, "error", err)
		}),
	)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr(), err)
	}

	log.Info("redis connected", "addr", cfg.Addr(), "pool_size", cfg.PoolSize, "tls", cfg.TLSEnabled)
	return &Client{client: rdb, logger: log, prefix: cfg.KeyPrefix}, nil
}

// NewFromClient wraps an already configured client. It does not ping.
func NewFromClient(rdb *redis.Client, prefix string, log *logger.Logger) *Client {
	return &Client{client: rdb, logger: log, prefix: prefix}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Client exposes the go-redis client, for asynq and tests.
func (c *Client) Client() *redis.Client {
	return c.client
}

// Key joins parts with ":" under the configured prefix.
func (c *Client) Key(parts ...string) string {
	if c.prefix != "" {
		parts = append([]string{c.prefix}, parts...)
	}
	return strings.Join(parts, ":")
}
