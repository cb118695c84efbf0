package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"village/gateway"
)

// EventBus fans change events out to the SSE streams of the users they
// concern. Slow subscribers drop events rather than block publishers.
type EventBus struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewEventBus() *EventBus { return &EventBus{subs: make(map[string]map[chan []byte]struct{})} }

func (b *EventBus) Subscribe(userID string) (ch chan []byte, cancel func()) {
	ch = make(chan []byte, 16)
	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan []byte]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		if subs, ok := b.subs[userID]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(b.subs, userID)
			}
		}
		b.mu.Unlock()
		close(ch)
	}
}

// Publish sends ev once to each distinct user in audience.
func (b *EventBus) Publish(audience []string, ev gateway.Event) {
	data, _ := json.Marshal(ev)
	seen := make(map[string]bool, len(audience))
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, uid := range audience {
		if uid == "" || seen[uid] {
			continue
		}
		seen[uid] = true
		for ch := range b.subs[uid] {
			select {
			case ch <- data:
			default:
			}
		}
	}
}

// ServeSSE streams the events of one user until the client goes away.
func (b *EventBus) ServeSSE(w http.ResponseWriter, r *http.Request, userID string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	ch, cancel := b.Subscribe(userID)
	defer cancel()

	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			// heartbeat for proxies
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(msg)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
