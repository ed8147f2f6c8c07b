package rdb

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const connectTimeout = 5 * time.Second

// Client is shared by the relays and the REST ratelimiter. It stays nil
// unless Init succeeded, and callers then keep everything in this process.
var Client *redis.Client

// Init connects to the Redis server at uri. A server that does not answer
// within connectTimeout is treated as unreachable.
func Init(uri string) error {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return fmt.Errorf("redis url: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("redis ping: %w", err)
	}

	Client = client
	return nil
}

func Close() error {
	if Client == nil {
		return nil
	}
	err := Client.Close()
	Client = nil
	return err
}
