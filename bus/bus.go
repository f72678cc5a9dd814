// Package bus provides the in-process event bus shared between the kernel
// and the gateway client.
//
// Dispatch is synchronous: Publish runs every subscriber inline, in
// subscription order, before it returns. That is what lets the role
// authority promise that a ChangeRoleEvent is observable only after the
// store write has returned, and what keeps voice session events in the
// temporal order of their triggering state updates.
package bus

import (
	"context"
	"sync"
)

// Event is a tagged domain event. Kind returns a stable dotted name such
// as "role.change" or "voice.user.start".
type Event interface {
	Kind() string
}

// Handler receives published events.
type Handler func(ctx context.Context, ev Event)

// Filter reports whether a handler wants an event.
type Filter func(ev Event) bool

// Bus is an in-order publish/subscribe facility.
// The zero value is not usable; use New.
type Bus struct {
	mu     sync.Mutex
	subs   []subscriber
	nextID int64
}

type subscriber struct {
	id     int64
	filter Filter
	fn     Handler
}

// New creates an event bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for every event. The returned function
// removes the subscription.
func (b *Bus) Subscribe(fn Handler) func() {
	return b.SubscribeFiltered(nil, fn)
}

// SubscribeFiltered registers a handler for events accepted by filter.
// A nil filter accepts everything.
func (b *Bus) SubscribeFiltered(filter Filter, fn Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriber{id: id, filter: filter, fn: fn})
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// On subscribes a handler for events of a single kind.
func On[E Event](b *Bus, fn func(ctx context.Context, ev E)) func() {
	return b.SubscribeFiltered(
		func(ev Event) bool { _, ok := ev.(E); return ok },
		func(ctx context.Context, ev Event) { fn(ctx, ev.(E)) },
	)
}

// Publish delivers ev to every matching subscriber in subscription order
// and returns once all of them have run. Subscribers added or removed
// during delivery take effect for the next publish.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.Lock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()
	for _, s := range subs {
		if s.filter == nil || s.filter(ev) {
			s.fn(ctx, ev)
		}
	}
}
