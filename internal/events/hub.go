package events

import (
	"sync"
	"time"
)

type Kind string

const (
	KindModeChange      Kind = "MODE_CHANGE"
	KindTradeFill       Kind = "TRADE_FILL"
	KindTradeClose      Kind = "TRADE_CLOSE"
	KindRiskRejected    Kind = "RISK_REJECTED"
	KindStrategyPaused  Kind = "STRATEGY_PAUSED"
	KindSessionDegraded Kind = "SESSION_DEGRADED"
	KindSessionHealthy  Kind = "SESSION_HEALTHY"
)

type Event struct {
	Kind       Kind      `json:"kind"`
	StrategyID string    `json:"strategy_id,omitempty"`
	Detail     string    `json:"detail"`
	At         time.Time `json:"at"`
}

// Hub is the status/event stream the presentation layer reads. Publishing
// never blocks the engine: the ring keeps the most recent events and slow
// subscribers drop instead of stalling a cycle.
type Hub struct {
	mu      sync.Mutex
	ring    []Event
	max     int
	subs    map[int]chan Event
	nextSub int
}

func NewHub(max int) *Hub {
	if max <= 0 {
		max = 256
	}
	return &Hub{
		max:  max,
		subs: make(map[int]chan Event),
	}
}

func (h *Hub) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	h.mu.Lock()
	h.ring = append(h.ring, evt)
	if len(h.ring) > h.max {
		h.ring = h.ring[len(h.ring)-h.max:]
	}
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	h.mu.Unlock()
}

// Recent returns a copy of the retained events, oldest first.
func (h *Hub) Recent() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, len(h.ring))
	copy(out, h.ring)
	return out
}

// Subscribe returns a buffered channel of future events plus a cancel
// func. The channel is closed on cancel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}
