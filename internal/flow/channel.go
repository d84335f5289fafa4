// Package flow implements the typed record and channel model the pipeline
// is wired with, plus the structural operators (map, filter, group, join,
// transpose, combine, mix, collect) that shape data between task nodes.
//
// A Channel is a stream: exactly one producer, any number of consumers,
// but every consumer must be declared with Subscribe before the first
// record is emitted. Fan-out is therefore a build-time decision and the
// resulting dependency graph is statically inspectable.
package flow

import (
	"fmt"
	"sync"
)

// outletBuffer is the per-subscriber buffer size. It only smooths bursts;
// correctness never depends on it.
const outletBuffer = 16

// Channel is a named stream of records with one producer and a fixed set
// of outlets. Emission order is preserved to every outlet. A channel is
// closed once its producer finishes; consumers that materialize (group,
// join, collect) unblock at that point.
type Channel[T any] struct {
	name string

	mu      sync.Mutex
	sealed  bool
	closed  bool
	outlets []chan T
}

// NewChannel creates an empty, unsealed stream channel.
func NewChannel[T any](name string) *Channel[T] {
	return &Channel[T]{name: name}
}

// Name returns the channel's wiring name.
func (c *Channel[T]) Name() string { return c.name }

// Subscribe declares a new outlet and returns it. Subscribing after the
// first Emit is a wiring bug: records already emitted can never be
// replayed to a late consumer, so this panics instead of silently
// dropping data.
func (c *Channel[T]) Subscribe() <-chan T {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		panic(fmt.Sprintf("flow: subscribe to channel %q after first emit", c.name))
	}
	out := make(chan T, outletBuffer)
	c.outlets = append(c.outlets, out)
	return out
}

// Emit appends a record. It blocks until every outlet has accepted it,
// which is the only backpressure in the model.
func (c *Channel[T]) Emit(rec T) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		panic(fmt.Sprintf("flow: emit on closed channel %q", c.name))
	}
	c.sealed = true
	outlets := c.outlets
	c.mu.Unlock()

	for _, out := range outlets {
		out <- rec
	}
}

// Close marks that no more records will arrive. Consumers blocked on full
// materialization unblock. Closing twice is a producer bug and panics.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		panic(fmt.Sprintf("flow: double close of channel %q", c.name))
	}
	c.sealed = true
	c.closed = true
	for _, out := range c.outlets {
		close(out)
	}
}

// EmitAll emits every record in order and closes the channel. Convenience
// for source channels fed from a slice.
func (c *Channel[T]) EmitAll(recs []T) {
	for _, r := range recs {
		c.Emit(r)
	}
	c.Close()
}

// Value is a value channel: it replays the same single record to every
// consumer indefinitely. Used for configuration-like singleton inputs.
type Value[T any] struct {
	name string
	once sync.Once
	done chan struct{}
	v    T
}

// NewValue creates an unset value channel.
func NewValue[T any](name string) *Value[T] {
	return &Value[T]{name: name, done: make(chan struct{})}
}

// Name returns the value channel's wiring name.
func (v *Value[T]) Name() string { return v.name }

// Set publishes the value. Only the first Set wins; a second Set is a
// producer bug and panics.
func (v *Value[T]) Set(val T) {
	set := false
	v.once.Do(func() {
		v.v = val
		set = true
		close(v.done)
	})
	if !set {
		panic(fmt.Sprintf("flow: double set of value channel %q", v.name))
	}
}

// Get blocks until the value is published and returns it. Every caller
// observes the same value.
func (v *Value[T]) Get() T {
	<-v.done
	return v.v
}
