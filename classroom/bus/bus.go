// Package bus provides per-session publish/subscribe fan-out of emitted
// events to live observers such as dashboards.
//
// Delivery is best-effort: each subscriber owns a bounded queue and a
// publisher never blocks or fails because a subscriber is slow. A queue at
// capacity is skipped and the event is dropped for that subscriber only.
package bus

import (
	"sync"

	"github.com/google/uuid"
)

type (
	// Event is the uniform output unit published by every core component.
	Event struct {
		// ID uniquely identifies the event instance.
		ID string `json:"id"`
		// Type is the event type tag, one of the Type* constants.
		Type string `json:"type"`
		// Timestamp is the emission time in unix seconds.
		Timestamp float64 `json:"timestamp"`
		// Payload carries type-specific fields.
		Payload map[string]any `json:"payload"`
	}

	// Subscription is a live registration on a session's event feed. Read
	// events from C; Close is idempotent and releases the registration.
	Subscription struct {
		ch   chan Event
		feed *feed
		once sync.Once
	}

	// Bus fans out events per session. The zero value is not usable; use New.
	//
	// Lock discipline mirrors the session registry: the bus mutex guards
	// only feed-map membership, and each session feed has its own mutex
	// serializing subscriber-set mutation against delivery. Delivery to an
	// individual queue is non-blocking, so one slow or disconnected
	// subscriber never blocks publication to others or to the publisher.
	Bus struct {
		mu    sync.Mutex
		feeds map[string]*feed
	}

	feed struct {
		mu   sync.Mutex
		subs map[*Subscription]struct{}
	}
)

// Known event types.
const (
	TypeAgentNotice       = "agent_notice"
	TypeTTSRequest        = "tts_request"
	TypeIMRequest         = "im_request"
	TypeDictationResult   = "dictation_result"
	TypeDictationFinished = "dictation_finished"
	TypeSummaryReady      = "summary_ready"
	TypeFinalReportReady  = "final_report_ready"
)

// NewEvent builds an event with a fresh id.
func NewEvent(eventType string, ts float64, payload map[string]any) Event {
	return Event{ID: uuid.NewString(), Type: eventType, Timestamp: ts, Payload: payload}
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{feeds: make(map[string]*feed)}
}

// Subscribe registers a new bounded queue on the session's feed and returns
// its subscription handle. Capacity values below one are raised to one.
func (b *Bus) Subscribe(sessionID string, capacity int) *Subscription {
	if capacity < 1 {
		capacity = 1
	}
	b.mu.Lock()
	f := b.feeds[sessionID]
	if f == nil {
		f = &feed{subs: make(map[*Subscription]struct{})}
		b.feeds[sessionID] = f
	}
	b.mu.Unlock()

	sub := &Subscription{ch: make(chan Event, capacity), feed: f}
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	return sub
}

// Publish delivers the event to every currently subscribed queue for the
// session. Publishing to a session with zero subscribers is a no-op. A full
// queue drops the event for that subscriber without blocking the publisher.
func (b *Bus) Publish(sessionID string, event Event) {
	b.mu.Lock()
	f := b.feeds[sessionID]
	b.mu.Unlock()
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		select {
		case sub.ch <- event:
		default:
			// Queue at capacity: drop for this subscriber only.
		}
	}
}

// Unsubscribe removes the subscription from its feed. Safe to call with a
// nil or already-closed subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.Close()
}

// C returns the receive channel. The channel is closed when the
// subscription closes.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close removes the subscription from its feed and closes the receive
// channel. Close is idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s)
		close(s.ch)
		s.feed.mu.Unlock()
	})
}
