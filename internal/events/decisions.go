// Package events fans decision events out to stream subscribers.
package events

import (
	"sync"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
	"github.com/CongSofwareEngineer/bot-dca-token/internal/observability"
)

// DecisionBroadcaster fans out decision events to all subscribers via buffered channels.
type DecisionBroadcaster struct {
	mu     sync.RWMutex
	subs   map[chan domain.DecisionEvent]struct{}
	buffer int
}

// NewDecisionBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewDecisionBroadcaster(buffer int) *DecisionBroadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &DecisionBroadcaster{
		subs:   make(map[chan domain.DecisionEvent]struct{}),
		buffer: buffer,
	}
}

// Publish sends the event to all subscribers, dropping it for readers whose buffer is full.
func (b *DecisionBroadcaster) Publish(e domain.DecisionEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			observability.RecordEventDropped("decisions")
		}
	}
}

// Subscribe returns a channel that receives events until Unsubscribe is called.
func (b *DecisionBroadcaster) Subscribe() chan domain.DecisionEvent {
	ch := make(chan domain.DecisionEvent, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *DecisionBroadcaster) Unsubscribe(ch chan domain.DecisionEvent) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of live subscriptions.
func (b *DecisionBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
