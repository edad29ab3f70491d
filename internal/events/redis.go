package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher is the subset of *redis.Client used for publishing.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes events as JSON on a pub/sub channel.
type RedisNotifier struct {
	client  Publisher
	channel string
	timeout time.Duration
}

// NewRedisClient creates a go-redis client for addr with short timeouts.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
}

// NewRedisNotifier publishes on channel through client.
func NewRedisNotifier(client Publisher, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel, timeout: 5 * time.Second}
}

// Name identifies the sink.
func (r *RedisNotifier) Name() string { return "redis" }

// NotifySyncCompleted publishes evt.
func (r *RedisNotifier) NotifySyncCompleted(ctx context.Context, evt SyncCompleted) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", r.channel, err)
	}
	return nil
}
