package events

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishStampsTimeAndRetains(t *testing.T) {
	h := NewHub(8)
	h.Publish(Event{Kind: KindTradeFill, StrategyID: "s1", Detail: "filled"})

	recent := h.Recent()
	require.Len(t, recent, 1)
	assert.False(t, recent[0].At.IsZero())
	assert.Equal(t, KindTradeFill, recent[0].Kind)
}

func TestRingEvictsOldest(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(Event{Kind: KindModeChange, Detail: fmt.Sprintf("e%d", i)})
	}
	recent := h.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, "e2", recent[0].Detail)
	assert.Equal(t, "e4", recent[2].Detail)
}

func TestSubscribeReceivesFutureEvents(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe(4)
	defer cancel()

	h.Publish(Event{Kind: KindRiskRejected, Detail: "over cap"})
	evt := <-ch
	assert.Equal(t, KindRiskRejected, evt.Kind)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(64)
	_, cancel := h.Subscribe(1)
	defer cancel()

	// Nobody reads; the publisher must not block.
	for i := 0; i < 10; i++ {
		h.Publish(Event{Kind: KindTradeClose})
	}
	assert.Len(t, h.Recent(), 10, "ring retains events a slow subscriber missed")
}

func TestCancelClosesChannel(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe(1)
	cancel()
	cancel() // idempotent

	_, ok := <-ch
	assert.False(t, ok)
}
