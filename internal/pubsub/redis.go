package pubsub

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"vale/internal/logger"
)

// RedisBus implements Bus on top of Redis pub/sub channels.
type RedisBus struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisBus creates a bus connected to the Redis instance at the given URL
// (e.g. "redis://localhost:6379/0").
func NewRedisBus(url string) (*RedisBus, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return &RedisBus{
		client: redis.NewClient(opt),
		logger: logger.New(),
	}, nil
}

// Ping verifies the Redis connection is alive.
func (b *RedisBus) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Publish sends a payload on a Redis channel.
func (b *RedisBus) Publish(ctx context.Context, channel, payload string) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", channel, err)
	}

	b.logger.Debug().
		Str("channel", channel).
		Int("payload_size", len(payload)).
		Msg("Published message")

	return nil
}

// Subscribe opens a Redis subscription on the given channels.
func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("at least one channel is required")
	}

	ps := b.client.Subscribe(ctx, channels...)

	// Wait for the subscription to be confirmed so a publish immediately after
	// Subscribe returns is not silently missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %v: %w", channels, err)
	}

	sub := &redisSubscription{
		ps:       ps,
		messages: make(chan Message, 64),
	}
	go sub.pump()

	b.logger.Debug().
		Strs("channels", channels).
		Msg("Subscribed to channels")

	return sub, nil
}

// Close closes the underlying Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	ps       *redis.PubSub
	messages chan Message
}

func (s *redisSubscription) pump() {
	defer close(s.messages)

	for msg := range s.ps.Channel() {
		s.messages <- Message{
			Channel: msg.Channel,
			Payload: msg.Payload,
		}
	}
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.messages
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
