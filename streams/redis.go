package streams

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Client holds the initialized Redis client once Init succeeds.
var Client *redis.Client

const defaultRedisURL = "redis://localhost:6379"

// Init connects to Redis using the given URL (falls back to localhost) and
// verifies the connection so downstream code can rely on it.
func Init(ctx context.Context, url string) (*redis.Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		url = defaultRedisURL
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid REDIS_URL %q: %w", url, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}

	Client = client
	return Client, nil
}
