package viewport

import (
	"sync"
	"testing"
	"time"
)

func TestDebouncerLeadingEdgeFiresImmediately(t *testing.T) {
	var mu sync.Mutex
	var got []int
	d := NewDebouncer(50*time.Millisecond, func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	defer d.Stop()

	d.Trigger(1)

	mu.Lock()
	n := len(got)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("leading edge did not fire synchronously: %d calls", n)
	}
}

func TestDebouncerCoalescesBurstToLastValue(t *testing.T) {
	var mu sync.Mutex
	var got []int
	d := NewDebouncer(30*time.Millisecond, func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	defer d.Stop()

	d.Trigger(1) // leading
	d.Trigger(2) // dropped intermediate
	d.Trigger(3) // trailing value

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("calls = %v, want [1 3]", got)
	}
}

func TestDebouncerSingleEventNoTrailingFire(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	d := NewDebouncer(20*time.Millisecond, func(int) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	defer d.Stop()

	d.Trigger(1)
	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no trailing fire without a second event)", calls)
	}
}

func TestDebouncerStopCancelsTrailing(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	d := NewDebouncer(30*time.Millisecond, func(int) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	d.Trigger(1)
	d.Trigger(2)
	d.Stop()
	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (trailing cancelled)", calls)
	}
}

func TestDebouncerNewBurstAfterSettle(t *testing.T) {
	var mu sync.Mutex
	var got []int
	d := NewDebouncer(20*time.Millisecond, func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	defer d.Stop()

	d.Trigger(1)
	time.Sleep(60 * time.Millisecond)
	d.Trigger(2) // new burst: a fresh leading edge

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[1] != 2 {
		t.Errorf("calls = %v, want [1 2]", got)
	}
}
