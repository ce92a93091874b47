package pubsub

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBus is an in-process Bus used by tests and single-process setups.
// It preserves the bus contract: at-most-once delivery, no ordering across
// publishers, and messages to a full subscriber are dropped rather than
// blocking the publisher.
type MemoryBus struct {
	subscribers map[*memorySubscription]struct{}
	closed      bool
	mutex       sync.Mutex
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subscribers: make(map[*memorySubscription]struct{}),
	}
}

// Publish delivers the payload to every live subscriber of the channel.
func (b *MemoryBus) Publish(ctx context.Context, channel, payload string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	msg := Message{Channel: channel, Payload: payload}
	for sub := range b.subscribers {
		if !sub.wants(channel) {
			continue
		}
		select {
		case sub.messages <- msg:
		default:
			// Subscriber is not keeping up; at-most-once allows the drop.
		}
	}

	return nil
}

// Subscribe registers a new subscriber for the given channels.
func (b *MemoryBus) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("at least one channel is required")
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	sub := &memorySubscription{
		bus:      b,
		channels: make(map[string]struct{}, len(channels)),
		messages: make(chan Message, 64),
	}
	for _, ch := range channels {
		sub.channels[ch] = struct{}{}
	}
	b.subscribers[sub] = struct{}{}

	return sub, nil
}

// Close terminates the bus and all open subscriptions.
func (b *MemoryBus) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for sub := range b.subscribers {
		close(sub.messages)
	}
	b.subscribers = make(map[*memorySubscription]struct{})

	return nil
}

type memorySubscription struct {
	bus      *MemoryBus
	channels map[string]struct{}
	messages chan Message
	closed   bool
}

func (s *memorySubscription) wants(channel string) bool {
	_, ok := s.channels[channel]
	return ok
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.messages
}

func (s *memorySubscription) Close() error {
	s.bus.mutex.Lock()
	defer s.bus.mutex.Unlock()

	if s.closed || s.bus.closed {
		s.closed = true
		return nil
	}
	s.closed = true

	delete(s.bus.subscribers, s)
	close(s.messages)

	return nil
}
