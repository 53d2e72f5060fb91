// Package pubsub distributes settlement events to interested
// subscribers over Redis.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Backend publishes messages to a named channel.
type Backend interface {
	Publish(ctx context.Context, channel string, msg interface{}) error
}

// RedisBackend publishes JSON-encoded messages over Redis pub/sub.
type RedisBackend struct {
	client redis.UniversalClient
}

// NewRedisBackend wraps an existing Redis client.
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

// Publish encodes msg as JSON and publishes it on the channel.
func (b *RedisBackend) Publish(ctx context.Context, channel string, msg interface{}) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message for %s: %w", channel, err)
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// NoopBackend drops every message. Used when pub/sub is disabled.
type NoopBackend struct{}

// Publish discards the message.
func (NoopBackend) Publish(context.Context, string, interface{}) error { return nil }
