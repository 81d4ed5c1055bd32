// Package events fans out marketplace state-transition notifications.
// Every transition is durably appended to the events table inside the same
// transaction as the transition itself; publication here is best-effort
// fan-out for live observers.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cipherworks/fhemarket/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Channel is the Redis pub/sub channel carrying all marketplace events.
const Channel = "market.events"

// Publisher delivers events to live observers. Implementations must be safe
// for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev *models.Event) error
}

// RedisPublisher implements Publisher over Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a RedisPublisher from a Redis URL.
func NewRedisPublisher(redisURL string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisPublisher{client: redis.NewClient(opts)}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, ev *models.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, Channel, b).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// NopPublisher discards events. Used in tests and when no broker is wired.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *models.Event) error { return nil }
