package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dealflow/dealflow/pkg/config"
)

type Client struct {
	rdb redis.UniversalClient
}

func NewClient(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("redis: no addresses configured")
	}

	var rdb redis.UniversalClient
	if cfg.ClusterMode {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.Addresses,
			Password: cfg.Password,
			PoolSize: cfg.PoolSize,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Addresses[0],
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		})
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Client returns the underlying client; it is nil on a nil receiver so
// optional wiring can pass a nil *Client around.
func (c *Client) Client() redis.UniversalClient {
	if c == nil {
		return nil
	}
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
