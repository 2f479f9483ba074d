// Package pubsub mirrors room events onto a Redis channel so other services
// can follow room activity without a control channel of their own.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/wtn/internal/app"
	"github.com/dkeye/wtn/internal/config"
	"github.com/redis/go-redis/v9"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisFeed implements app.EventFeed.
type RedisFeed struct {
	client  publisher
	closer  func() error
	channel string
}

// NewRedisFeed connects to Redis and fails when it is unreachable.
func NewRedisFeed(ctx context.Context, cfg config.RedisConfig) (*RedisFeed, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisFeed{client: client, closer: client.Close, channel: cfg.Channel}, nil
}

// Channel returns the per-room channel for room events.
func (f *RedisFeed) Channel(ev app.RoomEvent) string {
	return fmt.Sprintf("%s:%s", f.channel, ev.Room)
}

func (f *RedisFeed) Publish(ctx context.Context, ev app.RoomEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return f.client.Publish(ctx, f.Channel(ev), data).Err()
}

func (f *RedisFeed) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer()
}
