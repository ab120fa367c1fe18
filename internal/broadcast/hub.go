package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Event kinds pushed to subscribers.
const (
	EventConsensus = "consensus"
	EventTrade     = "trade"
	EventCycle     = "cycle"
	EventSnapshot  = "snapshot"
)

// Event is the JSON payload sent to live observers.
type Event struct {
	Type      string         `json:"type"`
	CouncilID uint64         `json:"council_id"`
	Symbol    string         `json:"symbol,omitempty"`
	At        time.Time      `json:"at"`
	Data      map[string]any `json:"data,omitempty"`
}

// Subscriber is one live listener. Alive is flipped by the transport layer
// when heartbeats go unanswered.
type Subscriber struct {
	ID string
	C  chan Event

	missed int32
}

// MarkMiss records one unanswered heartbeat and reports the new count.
func (s *Subscriber) MarkMiss() int {
	return int(atomic.AddInt32(&s.missed, 1))
}

func (s *Subscriber) MarkAlive() {
	atomic.StoreInt32(&s.missed, 0)
}

// Hub fans cycle events out to subscribers. Publication is best-effort: a
// slow subscriber loses events rather than stalling the publisher.
type Hub struct {
	Logger *zap.Logger

	Buffer    int
	MaxMisses int

	mu      sync.RWMutex
	subs    map[string]*Subscriber
	nextID  uint64
	dropped uint64
}

func NewHub(logger *zap.Logger, buffer, maxMisses int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	if maxMisses <= 0 {
		maxMisses = 8
	}
	return &Hub{
		Logger:    logger,
		Buffer:    buffer,
		MaxMisses: maxMisses,
		subs:      map[string]*Subscriber{},
	}
}

func (h *Hub) Subscribe(id string) *Subscriber {
	sub := &Subscriber{ID: id, C: make(chan Event, h.Buffer)}
	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()
	return sub
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()
	if ok {
		close(sub.C)
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Dropped() uint64 {
	return atomic.LoadUint64(&h.dropped)
}

// Publish delivers the event to every subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.C <- ev:
		default:
			// Drop when subscriber is slow; the hub must not block.
			atomic.AddUint64(&h.dropped, 1)
		}
	}
}

// Prune removes subscribers whose heartbeat misses exceeded the limit.
// Returns the pruned ids.
func (h *Hub) Prune() []string {
	h.mu.Lock()
	var pruned []string
	for id, sub := range h.subs {
		if int(atomic.LoadInt32(&sub.missed)) >= h.MaxMisses {
			delete(h.subs, id)
			close(sub.C)
			pruned = append(pruned, id)
		}
	}
	h.mu.Unlock()

	if len(pruned) > 0 && h.Logger != nil {
		h.Logger.Info("pruned dead subscribers", zap.Strings("ids", pruned))
	}
	return pruned
}
