package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"tangled.org/arabica.social/arbiter/internal/moderation"
)

// DefaultRedisChannel is used when no channel is configured
const DefaultRedisChannel = "arbiter:notifications"

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisNotifier publishes notifications as JSON on a Redis pub/sub channel.
type RedisNotifier struct {
	client  redisPublisher
	channel string
	closer  func() error
}

var _ moderation.Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier connects to redisURL and checks the connection.
func NewRedisNotifier(ctx context.Context, redisURL, channel string) (*RedisNotifier, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	n := newRedisNotifier(rdb, channel)
	n.closer = rdb.Close
	return n, nil
}

func newRedisNotifier(client redisPublisher, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

// Notify publishes n. A message with no subscribers is still delivered.
func (r *RedisNotifier) Notify(ctx context.Context, n moderation.Notification) error {
	data, err := Encode(n)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	return nil
}

// Close closes the underlying client
func (r *RedisNotifier) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
