// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package timerwheel

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock lets tests advance the wheel's notion of "now" deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// TestMultiTimer is scenario S5: three timers at 1, 2 and 3 ticks fire on
// the corresponding tick and not before.
func TestMultiTimer(t *testing.T) {
	res := time.Microsecond
	clk := newFakeClock(time.Unix(0, 0))
	w := New(Options{Size: 64, TickResolution: res, Now: clk.Now})

	var fired []string
	var mu sync.Mutex
	cb := func(data any) {
		mu.Lock()
		fired = append(fired, data.(string))
		mu.Unlock()
	}
	w.cb = cb

	if _, err := w.Add(3*res, "d3"); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Add(1*res, "d1"); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Add(2*res, "d2"); err != nil {
		t.Fatal(err)
	}

	tickAt := func(ticks int64) int {
		n, err := w.Tick(time.Unix(0, 0).Add(time.Duration(ticks) * res))
		if err != nil {
			t.Fatalf("Tick: %v", err)
		}
		return n
	}

	if n := tickAt(1); n != 1 {
		t.Fatalf("tick 1 fired %d; want 1 (fired=%v)", n, fired)
	}
	if n := tickAt(2); n != 1 {
		t.Fatalf("tick 2 fired %d; want 1 (fired=%v)", n, fired)
	}
	if n := tickAt(3); n != 1 {
		t.Fatalf("tick 3 fired %d; want 1 (fired=%v)", n, fired)
	}
	if n := tickAt(4); n != 0 {
		t.Fatalf("tick 4 fired %d; want 0", n)
	}

	want := []string{"d1", "d2", "d3"}
	for i, w := range want {
		if fired[i] != w {
			t.Fatalf("fired[%d] = %q; want %q (fired=%v)", i, fired[i], w, fired)
		}
	}
}

// TestWrapAround is scenario S6: a timer scheduled more than Size ticks out
// hashes into an earlier slot on its first revolutions and must be
// deferred (re-hashed) rather than firing early.
func TestWrapAround(t *testing.T) {
	res := time.Microsecond
	size := 16
	w := New(Options{Size: size, TickResolution: res, Now: func() time.Time { return time.Unix(0, 0) }})

	var fired bool
	w.cb = func(data any) { fired = true }

	if _, err := w.Add(time.Duration(size+5)*res, "d"); err != nil {
		t.Fatal(err)
	}

	for tick := int64(1); tick <= int64(size); tick++ {
		if n, _ := w.Tick(time.Unix(0, 0).Add(time.Duration(tick) * res)); n != 0 {
			t.Fatalf("tick %d fired %d timers; want 0", tick, n)
		}
	}
	if fired {
		t.Fatalf("timer fired before its revolution was up")
	}
	if stats := w.Stats(); stats.TimerLoop == 0 {
		t.Fatalf("expected at least one multi-round deferral")
	}

	for tick := int64(size + 1); tick <= int64(size+4); tick++ {
		if n, _ := w.Tick(time.Unix(0, 0).Add(time.Duration(tick) * res)); n != 0 {
			t.Fatalf("tick %d fired %d timers; want 0", tick, n)
		}
	}
	n, err := w.Tick(time.Unix(0, 0).Add(time.Duration(size+5) * res))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || !fired {
		t.Fatalf("expected the wrap-around timer to fire at tick %d, fired=%d/%v", size+5, n, fired)
	}
}

func TestNeverFireEarly(t *testing.T) {
	res := time.Millisecond
	w := New(Options{Size: 256, TickResolution: res, Now: func() time.Time { return time.Unix(0, 0) }})
	fired := false
	w.cb = func(data any) { fired = true }

	if _, err := w.Add(10*res, "x"); err != nil {
		t.Fatal(err)
	}
	for tick := int64(1); tick < 10; tick++ {
		w.Tick(time.Unix(0, 0).Add(time.Duration(tick) * res))
		if fired {
			t.Fatalf("fired early at tick %d", tick)
		}
	}
	w.Tick(time.Unix(0, 0).Add(10 * res))
	if !fired {
		t.Fatalf("expected timer to fire by tick 10")
	}
}

func TestAddRaceFiresImmediately(t *testing.T) {
	res := time.Millisecond
	w := New(Options{Size: 16, TickResolution: res, Now: func() time.Time { return time.Unix(0, 0) }})
	fired := false
	w.cb = func(data any) { fired = true }

	// Hold the slot a one-tick delay lands in (currentTick 0 + 1) so Add
	// blocks after computing its expiry tick, then advance currentTick past
	// that expiry before releasing the slot, as a concurrent Tick would.
	sl := &w.slots[1]
	sl.mu.Lock()
	done := make(chan error, 1)
	go func() {
		_, err := w.Add(res, "late")
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	atomic.StoreUint64(&w.currentTick, 100)
	sl.mu.Unlock()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if !fired {
		t.Fatalf("expected immediate fire for a delay that raced past currentTick")
	}
	if stats := w.Stats(); stats.Immediate == 0 {
		t.Fatalf("expected Immediate stat to be incremented")
	}
}

func TestZeroDelayIsNoop(t *testing.T) {
	w := New(Options{Now: func() time.Time { return time.Unix(0, 0) }})
	fired := false
	w.cb = func(data any) { fired = true }
	h, err := w.Add(0, "x")
	if err != nil || h != nil {
		t.Fatalf("Add(0, ...) = %v, %v; want nil, nil", h, err)
	}
	w.Tick(time.Unix(0, 1))
	if fired {
		t.Fatalf("zero delay must not fire")
	}
}

func TestCloseFiresPending(t *testing.T) {
	w := New(Options{Now: func() time.Time { return time.Unix(0, 0) }})
	count := 0
	w.cb = func(data any) { count++ }
	w.Add(time.Hour, "a")
	w.Add(time.Hour, "b")
	w.Close(true)
	if count != 2 {
		t.Fatalf("Close(true) fired %d timers; want 2", count)
	}
}
