package viewport

import (
	"sync"
	"time"
)

// Debouncer coalesces a burst of events into at most two calls: one on the
// leading edge, so the user sees a response without delay, and one after the
// burst settles, with the last value seen. Intermediate values are dropped.
type Debouncer[T any] struct {
	interval time.Duration
	fn       func(T)

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	last    T
}

// NewDebouncer creates a debouncer invoking fn per the leading-edge-then-
// settle policy with the given quiet interval.
func NewDebouncer[T any](interval time.Duration, fn func(T)) *Debouncer[T] {
	return &Debouncer[T]{interval: interval, fn: fn}
}

// Trigger records an event. The first event of a burst fires fn
// synchronously; events arriving during the quiet interval only update the
// pending value, which fires once the interval elapses without new events.
func (d *Debouncer[T]) Trigger(v T) {
	d.mu.Lock()
	if d.timer == nil {
		// Leading edge: fire immediately and open the quiet window.
		d.timer = time.AfterFunc(d.interval, d.settle)
		d.mu.Unlock()
		d.fn(v)
		return
	}

	// Inside the window: remember the newest value and extend the window.
	d.pending = true
	d.last = v
	d.timer.Reset(d.interval)
	d.mu.Unlock()
}

// settle fires the trailing edge if any events arrived after the leading one.
func (d *Debouncer[T]) settle() {
	d.mu.Lock()
	fire := d.pending
	v := d.last
	d.pending = false
	d.timer = nil
	var zero T
	d.last = zero
	d.mu.Unlock()

	if fire {
		d.fn(v)
	}
}

// Stop cancels a pending trailing-edge call.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = false
}
