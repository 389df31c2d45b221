package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishConsumeInbound(t *testing.T) {
	b := New()
	b.PublishInbound(InboundMessage{Channel: "telegram", Content: "hi"})

	msg, ok := b.ConsumeInbound(context.Background())
	if !ok || msg.Channel != "telegram" || msg.Content != "hi" {
		t.Fatalf("ConsumeInbound = %+v, %v", msg, ok)
	}
}

func TestConsumeInboundHonorsContext(t *testing.T) {
	b := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := b.ConsumeInbound(ctx)
	if ok {
		t.Fatal("expected ConsumeInbound to give up when ctx expires")
	}
}

func TestPublishInboundNeverBlocks(t *testing.T) {
	b := New()
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultQueueSize*2; i++ {
			b.PublishInbound(InboundMessage{Content: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishInbound blocked on a full queue")
	}
}

func TestBroadcastFanOut(t *testing.T) {
	b := New()
	got := make(map[string]int)
	b.Subscribe("a", func(Event) { got["a"]++ })
	b.Subscribe("b", func(Event) { got["b"]++ })

	b.Broadcast(Event{Name: "chat"})
	if got["a"] != 1 || got["b"] != 1 {
		t.Fatalf("fan-out counts = %v", got)
	}

	b.Unsubscribe("a")
	b.Broadcast(Event{Name: "chat"})
	if got["a"] != 1 || got["b"] != 2 {
		t.Fatalf("counts after unsubscribe = %v", got)
	}
}
