package bus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishWithoutSubscribersIsNoOp(t *testing.T) {
	b := New()
	// Must not panic or block.
	b.Publish("class-1", NewEvent(TypeAgentNotice, 1, nil))
}

func TestPublishFansOutPerSession(t *testing.T) {
	b := New()
	s1 := b.Subscribe("class-1", 10)
	s2 := b.Subscribe("class-1", 10)
	other := b.Subscribe("class-2", 10)
	defer s1.Close()
	defer s2.Close()
	defer other.Close()

	e := NewEvent(TypeSummaryReady, 42, map[string]any{"summary": "hi"})
	b.Publish("class-1", e)

	for _, sub := range []*Subscription{s1, s2} {
		got := <-sub.C()
		require.Equal(t, e.ID, got.ID)
		require.Equal(t, TypeSummaryReady, got.Type)
		require.Equal(t, "hi", got.Payload["summary"])
	}
	select {
	case got := <-other.C():
		t.Fatalf("unexpected cross-session delivery: %+v", got)
	default:
	}
}

func TestFullQueueDropsForThatSubscriberOnly(t *testing.T) {
	b := New()
	slow := b.Subscribe("class-1", 1)
	fast := b.Subscribe("class-1", 10)
	defer slow.Close()
	defer fast.Close()

	for i := 0; i < 5; i++ {
		b.Publish("class-1", NewEvent(TypeTTSRequest, float64(i), map[string]any{"n": i}))
	}

	// Slow queue kept only the first event; the rest were dropped.
	require.Len(t, slow.ch, 1)
	first := <-slow.C()
	require.Equal(t, 0, first.Payload["n"])

	// Fast queue saw everything.
	require.Len(t, fast.ch, 5)
	for i := 0; i < 5; i++ {
		got := <-fast.C()
		require.Equal(t, i, got.Payload["n"])
	}
}

func TestCloseIsIdempotentAndStopsDelivery(t *testing.T) {
	b := New()
	sub := b.Subscribe("class-1", 4)

	sub.Close()
	sub.Close()
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)

	// Publishing after close must not panic (the subscription is gone from
	// the feed, so nothing is sent on the closed channel).
	b.Publish("class-1", NewEvent(TypeIMRequest, 1, nil))

	_, open := <-sub.C()
	require.False(t, open)
}

func TestSubscribeCapacityFloor(t *testing.T) {
	b := New()
	sub := b.Subscribe("class-1", 0)
	defer sub.Close()

	b.Publish("class-1", NewEvent(TypeDictationResult, 1, nil))
	require.Len(t, sub.ch, 1)
}

func TestConcurrentPublishAndClose(t *testing.T) {
	b := New()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			b.Publish("class-1", NewEvent(TypeAgentNotice, float64(i), nil))
		}
	}()
	for i := 0; i < 100; i++ {
		sub := b.Subscribe("class-1", 1)
		sub.Close()
	}
	<-done
}

func TestNewEventAssignsUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		e := NewEvent(TypeAgentNotice, float64(i), map[string]any{"i": fmt.Sprint(i)})
		require.NotEmpty(t, e.ID)
		require.False(t, seen[e.ID])
		seen[e.ID] = true
	}
}
