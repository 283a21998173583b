// Package redisclient wraps the go-redis client used by the optional
// Redis-backed gateway registry and ArNS resolution mirror store.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	c *redis.Client
}

// New creates a Redis client from a connection URL. Returns an error if the
// URL cannot be parsed.
func New(url string) (*Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &Client{c: redis.NewClient(opt)}, nil
}

func (r *Client) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.c.Ping(ctx).Err()
}

// Raw exposes the underlying client for packages (gateway, arns) that need
// direct command access.
func (r *Client) Raw() *redis.Client {
	return r.c
}

func (r *Client) Close() error {
	return r.c.Close()
}
