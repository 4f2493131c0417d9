package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "edase:cursor:"

// Redis is a durable Store backed by Redis. Markers are stored as JSON so
// restarts of the host process resume from the last advanced position.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection before returning.
func NewRedis(redisURL string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Redis{client: client}, nil
}

// NewRedisWithClient wraps an existing client. Used by tests.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, instanceID string) (Marker, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+instanceID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor for %s: %w", instanceID, err)
	}

	var marker Marker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("decode cursor for %s: %w", instanceID, err)
	}
	return marker, nil
}

func (r *Redis) Advance(ctx context.Context, instanceID string, marker Marker) error {
	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("encode cursor for %s: %w", instanceID, err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+instanceID, data, 0).Err(); err != nil {
		return fmt.Errorf("advance cursor for %s: %w", instanceID, err)
	}
	return nil
}

func (r *Redis) Reset(ctx context.Context, instanceID string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+instanceID).Err(); err != nil {
		return fmt.Errorf("reset cursor for %s: %w", instanceID, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
