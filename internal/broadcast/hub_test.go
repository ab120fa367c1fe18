package broadcast

import (
	"testing"
	"time"
)

func TestPublish_FanoutToAllSubscribers(t *testing.T) {
	h := NewHub(nil, 4, 8)
	a := h.Subscribe("a")
	b := h.Subscribe("b")

	h.Publish(Event{Type: EventConsensus, CouncilID: 1, Symbol: "BTCUSDT"})

	for _, sub := range []*Subscriber{a, b} {
		select {
		case ev := <-sub.C:
			if ev.Type != EventConsensus || ev.CouncilID != 1 {
				t.Fatalf("event=%+v", ev)
			}
			if ev.At.IsZero() {
				t.Fatal("publish must stamp the event time")
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s did not receive event", sub.ID)
		}
	}
}

func TestPublish_SlowSubscriberNeverBlocks(t *testing.T) {
	h := NewHub(nil, 1, 8)
	slow := h.Subscribe("slow")
	fast := h.Subscribe("fast")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish(Event{Type: EventTrade, CouncilID: 2})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// The slow subscriber holds exactly its buffer; the rest were dropped.
	if len(slow.C) != 1 {
		t.Fatalf("slow buffer=%d want 1", len(slow.C))
	}
	if h.Dropped() == 0 {
		t.Fatal("drops not counted")
	}
	_ = fast
}

func TestPrune_RemovesDeadSubscribers(t *testing.T) {
	h := NewHub(nil, 4, 2)
	dead := h.Subscribe("dead")
	alive := h.Subscribe("alive")

	dead.MarkMiss()
	dead.MarkMiss()
	alive.MarkMiss()
	alive.MarkAlive()

	pruned := h.Prune()
	if len(pruned) != 1 || pruned[0] != "dead" {
		t.Fatalf("pruned=%v want [dead]", pruned)
	}
	if h.SubscriberCount() != 1 {
		t.Fatalf("subscribers=%d want 1", h.SubscriberCount())
	}
	// Pruned channel is closed so the transport can notice.
	if _, ok := <-dead.C; ok {
		t.Fatal("dead channel not closed")
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	h := NewHub(nil, 4, 8)
	h.Subscribe("x")
	h.Unsubscribe("x")
	h.Unsubscribe("x")
	if h.SubscriberCount() != 0 {
		t.Fatalf("subscribers=%d want 0", h.SubscriberCount())
	}
}
