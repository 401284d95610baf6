package presence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTracker stores heartbeats as volatile Redis keys so presence survives
// server restarts and is shared between instances. Key expiry does the
// offline transition; no sweeper is needed.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTracker creates a tracker backed by the given Redis client.
func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	return &RedisTracker{client: client, ttl: ttl}
}

// NewRedisClient connects to Redis using a redis:// URL and verifies the
// connection with a ping.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

func presenceKey(clinicID, operatorID string) string {
	return "presence:" + clinicID + ":" + operatorID
}

func (r *RedisTracker) Heartbeat(ctx context.Context, clinicID, operatorID string) error {
	if err := r.client.Set(ctx, presenceKey(clinicID, operatorID), "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("setting heartbeat: %w", err)
	}
	return nil
}

func (r *RedisTracker) IsOnline(ctx context.Context, clinicID, operatorID string) (bool, error) {
	n, err := r.client.Exists(ctx, presenceKey(clinicID, operatorID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking heartbeat: %w", err)
	}
	return n > 0, nil
}

func (r *RedisTracker) Online(ctx context.Context, clinicID string) ([]string, error) {
	pattern := "presence:" + clinicID + ":*"
	prefix := "presence:" + clinicID + ":"

	var online []string
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		online = append(online, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning presence keys: %w", err)
	}
	return online, nil
}

func (r *RedisTracker) Clear(ctx context.Context, clinicID, operatorID string) error {
	if err := r.client.Del(ctx, presenceKey(clinicID, operatorID)).Err(); err != nil {
		return fmt.Errorf("clearing heartbeat: %w", err)
	}
	return nil
}
