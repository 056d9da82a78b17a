package db

import (
	"context"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan string) (string, bool) {
	t.Helper()
	select {
	case id, ok := <-ch:
		return id, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
		return "", false
	}
}

func TestHub_FansOutToEverySubscriber(t *testing.T) {
	h := newHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := h.subscribe(ctx)
	b := h.subscribe(ctx)
	h.publish("u1")

	for name, ch := range map[string]<-chan string{"a": a, "b": b} {
		if id, ok := receive(t, ch); !ok || id != "u1" {
			t.Errorf("subscriber %s got %q, %v", name, id, ok)
		}
	}
}

func TestHub_CancelledSubscriberIsRemoved(t *testing.T) {
	h := newHub()
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.subscribe(ctx)

	cancel()
	if _, ok := receive(t, ch); ok {
		t.Fatal("channel still open after cancel")
	}
	if n := h.len(); n != 0 {
		t.Errorf("%d subscribers left behind", n)
	}
	h.publish("u1")
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := newHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	slow := h.subscribe(ctx)
	fast := h.subscribe(ctx)

	for i := 0; i < subscriberBuffer+5; i++ {
		h.publish("u1")
		if _, ok := receive(t, fast); !ok {
			t.Fatal("fast subscriber closed")
		}
	}
	if n := len(slow); n != subscriberBuffer {
		t.Errorf("slow subscriber buffered %d, want %d", n, subscriberBuffer)
	}
}

func TestHub_CloseAll(t *testing.T) {
	h := newHub()
	ch := h.subscribe(context.Background())

	h.closeAll()
	if _, ok := receive(t, ch); ok {
		t.Error("subscription open after closeAll")
	}
	if _, ok := receive(t, h.subscribe(context.Background())); ok {
		t.Error("subscribe after closeAll returned an open channel")
	}
}
