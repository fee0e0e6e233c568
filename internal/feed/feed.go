// Package feed is the change feed that carries status, instruction and
// finding events out of the core to the API, the TUI and the daemon.
package feed

import (
	"context"
	"sync"
	"time"
)

// EventType identifies what changed
type EventType string

const (
	EventStatus      EventType = "status"
	EventInstruction EventType = "instruction"
	EventFinding     EventType = "finding"
	EventDiscovery   EventType = "discovery"
	EventMessage     EventType = "message"
	EventAlert       EventType = "alert"
	EventSnapshot    EventType = "snapshot"
)

// Event is one change
type Event struct {
	Type      EventType `json:"type"`
	AgentID   string    `json:"agent_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Publisher accepts events without blocking
type Publisher interface {
	Publish(Event)
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(Event) {}

// DefaultBuffer is each subscriber's channel capacity
const DefaultBuffer = 100

// Hub fans events out to named subscribers
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	buffer      int
	dropped     map[string]int
}

// NewHub creates a hub whose subscriber channels hold buffer events
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subscribers: make(map[string]chan Event),
		buffer:      buffer,
		dropped:     make(map[string]int),
	}
}

// Subscribe creates a subscription; subscribing twice under one name replaces it
func (h *Hub) Subscribe(name string) <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.subscribers[name]; ok {
		close(old)
	}
	ch := make(chan Event, h.buffer)
	h.subscribers[name] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel
func (h *Hub) Unsubscribe(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscribers[name]; ok {
		close(ch)
		delete(h.subscribers, name)
	}
}

// Publish delivers ev to every subscriber with room; a full subscriber misses it
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.mu.RLock()
	var full []string
	for name, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			full = append(full, name)
		}
	}
	h.mu.RUnlock()

	if len(full) > 0 {
		h.mu.Lock()
		for _, name := range full {
			h.dropped[name]++
		}
		h.mu.Unlock()
	}
}

// Dropped returns how many events name has missed
func (h *Hub) Dropped(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped[name]
}

// Subscribers returns the number of live subscriptions
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Broadcast publishes a snapshot event every interval until ctx is done
func (h *Hub) Broadcast(ctx context.Context, interval time.Duration, snapshot func() any) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Publish(Event{Type: EventSnapshot, Payload: snapshot()})
		}
	}
}

// Close unsubscribes everyone
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, name)
	}
}
