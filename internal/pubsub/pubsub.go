package pubsub

import "context"

// Message is a single payload delivered on a named channel.
type Message struct {
	Channel string
	Payload string
}

// Bus is a publish/subscribe channel service. Delivery is at-most-once and
// unordered: a published message reaches the subscribers that are live at
// publish time, or nobody.
type Bus interface {
	// Publish sends a payload to all current subscribers of the channel.
	Publish(ctx context.Context, channel, payload string) error

	// Subscribe returns a subscription receiving messages for the given channels.
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	// Close releases the bus connection. Open subscriptions are terminated.
	Close() error
}

// Subscription is a live stream of bus messages.
type Subscription interface {
	// Messages returns the channel messages are delivered on. The channel is
	// closed when the subscription ends.
	Messages() <-chan Message

	// Close terminates the subscription.
	Close() error
}
