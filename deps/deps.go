// Package deps implements the typed dependency container used to wire
// shared services into command handlers.
//
// Dependencies are keyed by explicit stable names rather than reflected
// types. A package that provides a service declares a typed handle once:
//
//	var Dep = deps.NewKey[*Store]("roles.store")
//
// and everyone else resolves through that handle. A per-invocation
// Overlay carries values set by injection hooks; handlers read the
// overlay merged over the shared container.
package deps

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrDependencyMissing is reported when a requested dependency has not
// been set in either the overlay or the shared container.
var ErrDependencyMissing = errors.New("dependency missing")

// ErrDependencyType is reported when two handles share a name but
// disagree on the value's type.
var ErrDependencyType = errors.New("dependency has wrong type")

// View resolves dependency keys. Container and Overlay are the two
// implementations; handlers normally hold an Overlay.
type View interface {
	lookup(k key) (any, bool)
}

type key struct {
	name string
}

// Typed is a handle for one dependency. Handles with the same name refer
// to the same slot regardless of where they were created.
type Typed[T any] struct {
	k key
}

// NewKey creates a typed dependency handle with a stable name. Names are
// conventionally "package.thing".
func NewKey[T any](name string) Typed[T] {
	return Typed[T]{k: key{name: name}}
}

// Name returns the handle's stable name.
func (t Typed[T]) Name() string { return t.k.name }

// Get resolves the dependency from v.
func (t Typed[T]) Get(v View) (T, error) {
	got, ok := v.lookup(t.k)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrDependencyMissing, t.k.name)
	}
	val, ok := got.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s holds %T", ErrDependencyType, t.k.name, got)
	}
	return val, nil
}

// Set installs or replaces the shared instance for this handle.
func (t Typed[T]) Set(c *Container, val T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals[t.k] = val
}

// Fill sets the per-invocation value for this handle. The first hook to
// fill a key wins; later fills for the same key are ignored.
func (t Typed[T]) Fill(o *Overlay, val T) {
	if _, ok := o.vals[t.k]; ok {
		return
	}
	o.vals[t.k] = val
}

// Container is the process-wide dependency map. It is safe for
// concurrent use.
type Container struct {
	mu   sync.RWMutex
	vals map[key]any
}

// NewContainer creates an empty container.
func NewContainer() *Container {
	return &Container{vals: make(map[key]any)}
}

func (c *Container) lookup(k key) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	got, ok := c.vals[k]
	return got, ok
}

// Overlay creates an empty per-invocation overlay over c.
func (c *Container) Overlay() *Overlay {
	return &Overlay{base: c, vals: make(map[key]any)}
}

// Overlay is a per-invocation write layer over a shared container.
// It is used from a single invocation and is not safe for concurrent use.
type Overlay struct {
	base *Container
	vals map[key]any
}

func (o *Overlay) lookup(k key) (any, bool) {
	if got, ok := o.vals[k]; ok {
		return got, true
	}
	return o.base.lookup(k)
}

// Caller identifies the principal of one command invocation. Injection
// hooks use it to decide what to put in the overlay.
type Caller struct {
	// UserID is the invoking user.
	UserID int64
	// GuildID is the guild of the invocation, or 0 in direct messages.
	GuildID int64
	// ChannelID is the channel of the invocation.
	ChannelID int64
}

// Hook is an injection hook run before each command handler. Hooks run
// in registration order and write only to the overlay, never to the
// shared container. A hook error aborts the invocation.
type Hook func(ctx context.Context, call Caller, o *Overlay) error
