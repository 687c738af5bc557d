package api

import (
	"sync"
	"time"

	"github.com/btsentry/btsentry/internal/core"
	"github.com/btsentry/btsentry/pkg/types"
)

// Event is one entry on the UI event stream.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Hub fans events out to every connected WebSocket client. Slow
// consumers drop events rather than stall the publisher.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

func (h *Hub) Publish(eventType string, payload interface{}) {
	evt := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (h *Hub) subscribe() chan Event {
	ch := make(chan Event, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// BroadcastSink forwards session records to the aggregator and mirrors
// them onto the event stream, so the UI sees discoveries and terminal
// scenario results as they happen.
type BroadcastSink struct {
	inner core.SessionSink
	hub   *Hub
}

var _ core.SessionSink = (*BroadcastSink)(nil)

func NewBroadcastSink(inner core.SessionSink, hub *Hub) *BroadcastSink {
	return &BroadcastSink{inner: inner, hub: hub}
}

func (s *BroadcastSink) RecordDiscovery(devices []types.DeviceInfo) {
	s.inner.RecordDiscovery(devices)
	s.hub.Publish("devices_discovered", devices)
}

func (s *BroadcastSink) RecordScenarioResult(snap types.ScenarioSnapshot) {
	s.inner.RecordScenarioResult(snap)
	s.hub.Publish("scenario_result", snap)
}

func (s *BroadcastSink) Snapshot() types.SessionRecord {
	return s.inner.Snapshot()
}
