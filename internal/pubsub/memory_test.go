package pubsub

import (
	"context"
	"testing"
	"time"
)

func receiveOne(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestMemoryBusFanOut(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx := context.Background()

	first, err := bus.Subscribe(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	second, err := bus.Subscribe(ctx, "alpha", "beta")
	if err != nil {
		t.Fatal(err)
	}

	if err := bus.Publish(ctx, "alpha", "one"); err != nil {
		t.Fatal(err)
	}

	if msg := receiveOne(t, first); msg.Payload != "one" || msg.Channel != "alpha" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg := receiveOne(t, second); msg.Payload != "one" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestMemoryBusChannelFiltering(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx := context.Background()
	sub, err := bus.Subscribe(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}

	bus.Publish(ctx, "beta", "not for us")
	bus.Publish(ctx, "alpha", "for us")

	if msg := receiveOne(t, sub); msg.Payload != "for us" {
		t.Errorf("filtering failed, got %+v", msg)
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx := context.Background()
	sub, err := bus.Subscribe(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}

	if err := sub.Close(); err != nil {
		t.Fatal(err)
	}
	// Closing twice is fine.
	if err := sub.Close(); err != nil {
		t.Fatal(err)
	}

	// Publishing after unsubscribe must not panic or block.
	if err := bus.Publish(ctx, "alpha", "gone"); err != nil {
		t.Fatal(err)
	}

	if _, ok := <-sub.Messages(); ok {
		t.Error("expected closed message channel")
	}
}

func TestMemoryBusClose(t *testing.T) {
	bus := NewMemoryBus()

	ctx := context.Background()
	sub, err := bus.Subscribe(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}

	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}

	if _, ok := <-sub.Messages(); ok {
		t.Error("expected closed message channel")
	}
	if err := bus.Publish(ctx, "alpha", "x"); err == nil {
		t.Error("expected error publishing on closed bus")
	}
	if _, err := bus.Subscribe(ctx, "alpha"); err == nil {
		t.Error("expected error subscribing on closed bus")
	}
	// Closing a subscription after the bus is gone is a no-op.
	if err := sub.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryBusRequiresChannels(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	if _, err := bus.Subscribe(context.Background()); err == nil {
		t.Error("expected error for empty channel list")
	}
}
