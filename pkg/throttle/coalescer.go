// Package throttle coalesces bursts of keyed updates into at most one
// emission per key per window, always emitting the latest value on the
// trailing edge.
package throttle

import (
	"sync"
	"time"
)

type Timer interface {
	Stop() bool
}

type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock schedules with time.AfterFunc.
func SystemClock() Clock {
	return systemClock{}
}

type entry[V any] struct {
	value V
	timer Timer
}

type Coalescer[K comparable, V any] struct {
	window time.Duration
	clock  Clock
	emit   func(K, V)

	mu      sync.Mutex
	pending map[K]*entry[V]
	order   []K
}

type Option func(*options)

type options struct {
	clock Clock
}

func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// NewCoalescer returns a coalescer that calls emit from the clock's timer
// goroutine, or from Flush on the caller's goroutine.
func NewCoalescer[K comparable, V any](window time.Duration, emit func(K, V), opts ...Option) *Coalescer[K, V] {
	o := options{clock: SystemClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Coalescer[K, V]{
		window:  window,
		clock:   o.clock,
		emit:    emit,
		pending: make(map[K]*entry[V]),
	}
}

// Push records value as the latest for key. The first push of a window arms
// the timer; later pushes in the same window only replace the value.
func (c *Coalescer[K, V]) Push(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.pending[key]; ok {
		e.value = value
		return
	}
	e := &entry[V]{value: value}
	c.pending[key] = e
	c.order = append(c.order, key)
	e.timer = c.clock.AfterFunc(c.window, func() {
		c.fire(key, e)
	})
}

func (c *Coalescer[K, V]) fire(key K, e *entry[V]) {
	c.mu.Lock()
	if c.pending[key] != e {
		c.mu.Unlock()
		return
	}
	c.remove(key)
	value := e.value
	c.mu.Unlock()
	c.emit(key, value)
}

// Cancel drops the pending value for key, reporting whether there was one.
func (c *Coalescer[K, V]) Cancel(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.pending[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	c.remove(key)
	return true
}

func (c *Coalescer[K, V]) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.pending {
		e.timer.Stop()
	}
	c.pending = make(map[K]*entry[V])
	c.order = nil
}

// Flush emits every pending value immediately, in first-push order.
func (c *Coalescer[K, V]) Flush() {
	c.mu.Lock()
	keys := c.order
	values := make([]V, 0, len(keys))
	for _, k := range keys {
		e := c.pending[k]
		e.timer.Stop()
		values = append(values, e.value)
	}
	c.pending = make(map[K]*entry[V])
	c.order = nil
	c.mu.Unlock()

	for i, k := range keys {
		c.emit(k, values[i])
	}
}

func (c *Coalescer[K, V]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coalescer[K, V]) remove(key K) {
	delete(c.pending, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
