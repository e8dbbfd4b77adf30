package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vadiminshakov/walletsync/internal/domain"
)

// Subscription is a handle on one push channel filtered to a single user.
type Subscription struct {
	ID    uuid.UUID
	Email string
	C     <-chan domain.RecordChange

	ch chan domain.RecordChange
}

// RecordBroadcaster fans out user record changes to subscribers via buffered channels.
type RecordBroadcaster struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscription
	buffer int
}

// NewRecordBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewRecordBroadcaster(buffer int) *RecordBroadcaster {
	if buffer < 1 {
		buffer = 16
	}
	return &RecordBroadcaster{
		subs:   make(map[uuid.UUID]*Subscription),
		buffer: buffer,
	}
}

// Publish sends the change to subscribers of change.Email, dropping if a reader is slow.
func (b *RecordBroadcaster) Publish(change domain.RecordChange) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.Email != change.Email {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a subscription receiving changes for email until Unsubscribe is called.
func (b *RecordBroadcaster) Subscribe(email string) *Subscription {
	ch := make(chan domain.RecordChange, b.buffer)
	sub := &Subscription{
		ID:    uuid.New(),
		Email: email,
		C:     ch,
		ch:    ch,
	}
	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscription and closes its channel. Safe to call twice.
func (b *RecordBroadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if _, ok := b.subs[sub.ID]; ok {
		delete(b.subs, sub.ID)
		close(sub.ch)
	}
	b.mu.Unlock()
}

// Len returns the number of live subscriptions.
func (b *RecordBroadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// CloseAll drops every subscription. Subscribers observe a closed channel.
func (b *RecordBroadcaster) CloseAll() {
	b.mu.Lock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	b.mu.Unlock()
}
