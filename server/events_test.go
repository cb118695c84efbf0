package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"village/gateway"
)

func TestPublishReachesAudienceOnce(t *testing.T) {
	b := NewEventBus()
	alice, cancelA := b.Subscribe("alice")
	defer cancelA()
	bob, cancelB := b.Subscribe("bob")
	defer cancelB()

	b.Publish([]string{"alice", "alice", "", "carol"}, gateway.Event{Type: "task.status", Entity: "task", ID: "t1"})

	select {
	case msg := <-alice:
		if string(msg) != `{"type":"task.status","entity":"task","id":"t1"}` {
			t.Fatalf("payload %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("alice got nothing")
	}
	select {
	case msg := <-alice:
		t.Fatalf("duplicate delivery %s", msg)
	case msg := <-bob:
		t.Fatalf("bob is not in the audience, got %s", msg)
	default:
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	b := NewEventBus()
	ch, cancel := b.Subscribe("u")
	defer cancel()
	for i := 0; i < cap(ch)+5; i++ {
		b.Publish([]string{"u"}, gateway.Event{Type: "list.updated"})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffered %d of %d", len(ch), cap(ch))
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	b := NewEventBus()
	_, cancel := b.Subscribe("u")
	cancel()
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.subs) != 0 {
		t.Fatalf("subs left: %v", b.subs)
	}
}

// The gateway client is the consumer the stream is written for.
func TestServeSSEFeedsGatewayClient(t *testing.T) {
	b := NewEventBus()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.ServeSSE(w, r, "alice")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := gateway.NewClient(srv.URL, nil)
	events, err := c.Events(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// wait for the subscription before publishing
	deadline := time.Now().Add(2 * time.Second)
	for {
		b.mu.RLock()
		n := len(b.subs["alice"])
		b.mu.RUnlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	b.Publish([]string{"alice"}, gateway.Event{Type: "list.deleted", Entity: "list", ID: "l9"})
	select {
	case ev := <-events:
		if ev.Type != "list.deleted" || ev.ID != "l9" {
			t.Fatalf("event %+v", ev)
		}
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}
