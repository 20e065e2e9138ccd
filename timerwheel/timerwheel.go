// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package timerwheel implements a hashed timer wheel: a fixed-size ring of
// slots, each owning a linked list of pending timers and its own mutex, and
// a current-tick cursor that advances as a single driving goroutine calls
// Tick. Add is safe from any goroutine; Tick is only safe from one driver
// at a time (see the driver package for an errgroup-based runner).
//
// Because the wheel has no per-slot generation counter, a timer scheduled
// more than Size ticks out hashes to the same slot as a much shorter one.
// Tick re-hashes any node it drains whose nominal expiry has not actually
// arrived yet into its correct future slot - a "multi-round" timer only
// ever gets deferred once per wheel revolution it still has left to wait.
package timerwheel

import (
	"math/bits"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristanetworks/concore/logger"
)

const (
	defaultSize           = 256
	defaultTickResolution = time.Millisecond
)

// Handle is a pending timer. It is exposed only so a caller-supplied
// Allocate hook (see Hooks) can embed it in an arena; ordinary callers
// never construct one directly. The timer wheel has no cancellation path,
// so Handle exists purely for introspection (Expiry, Data).
type Handle struct {
	expiry uint64 // elapsed nanoseconds since the wheel's start time
	data   any
	next   *Handle
}

// Expiry returns the handle's nominal elapsed-nanosecond deadline.
func (h *Handle) Expiry() uint64 { return h.expiry }

// Data returns the value passed to Add.
func (h *Handle) Data() any { return h.data }

// Hooks lets a Wheel be embedded in an arena instead of relying on the Go
// allocator/GC for Handle nodes. Both fields default to nil, meaning
// "use the Go allocator".
type Hooks struct {
	Allocate func() *Handle
	Free     func(*Handle)
}

// Options configures a new Wheel.
type Options struct {
	// Size is rounded up to the next power of two; Size<=0 defaults to 256.
	Size int
	// TickResolution defaults to 1ms.
	TickResolution time.Duration
	// ExpireCB is invoked once per fired timer, with no lock held, except
	// under Close(true), which fires each pending timer with its slot's
	// lock held.
	ExpireCB func(data any)
	Hooks     Hooks
	Logger    logger.Logger
	// Now, if set, is used instead of time.Now to establish the wheel's
	// start-time baseline. Tests use this to control elapsed time
	// deterministically.
	Now func() time.Time
}

type slot struct {
	mu   sync.Mutex
	head *Handle
}

// Stats is an advisory, best-effort snapshot of a Wheel's counters.
type Stats struct {
	Added     uint64
	Fired     uint64
	Immediate uint64 // Add() raced past currentTick and fired synchronously
	TimerLoop uint64 // multi-round deferrals during Tick
}

// Wheel is a hashed timer wheel safe for concurrent Add from any goroutine
// and Tick from a single driving goroutine.
type Wheel struct {
	slots          []slot
	mask           uint64
	tickResNs      int64
	currentTick    uint64 // atomic
	startTime      time.Time
	cb             func(data any)
	hooks          Hooks
	log            logger.Logger
	closed         int32 // atomic
	stats          Stats
}

// New constructs a Wheel ready for concurrent use.
func New(opts Options) *Wheel {
	size := opts.Size
	if size <= 0 {
		size = defaultSize
	}
	size = nextPow2(size)

	res := opts.TickResolution
	if res <= 0 {
		res = defaultTickResolution
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	log := opts.Logger
	if log == nil {
		log = logger.Nop
	}

	return &Wheel{
		slots:     make([]slot, size),
		mask:      uint64(size - 1),
		tickResNs: int64(res),
		startTime: now(),
		cb:        opts.ExpireCB,
		hooks:     opts.Hooks,
		log:       log,
	}
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func (w *Wheel) isClosed() bool {
	return atomic.LoadInt32(&w.closed) != 0
}

func (w *Wheel) allocHandle() (*Handle, error) {
	if w.hooks.Allocate == nil {
		return &Handle{}, nil
	}
	h := w.hooks.Allocate()
	if h == nil {
		return nil, ErrAlloc
	}
	return h, nil
}

func (w *Wheel) freeHandle(h *Handle) {
	if w.hooks.Free != nil {
		w.hooks.Free(h)
	}
}

// Add schedules data to fire after delay, relative to the wheel's notion of
// current time (advanced by Tick). delay<=0 is a no-op returning a nil
// handle and nil error: it neither schedules nor fires anything.
//
// Between reading the current tick and locking the target slot, a
// concurrent Tick may have already advanced past the computed expiry; Add
// detects this after acquiring the slot lock and fires the callback
// immediately rather than leaving the timer dormant for a full revolution.
func (w *Wheel) Add(delay time.Duration, data any) (*Handle, error) {
	if w.isClosed() {
		return nil, ErrClosed
	}
	if delay <= 0 {
		return nil, nil
	}

	ticksDelay := ceilDiv(int64(delay), w.tickResNs)
	if ticksDelay < 1 {
		ticksDelay = 1
	}

	currentTick := atomic.LoadUint64(&w.currentTick)
	expiryTick := currentTick + uint64(ticksDelay)
	idx := expiryTick & w.mask

	sl := &w.slots[idx]
	sl.mu.Lock()
	if nowTick := atomic.LoadUint64(&w.currentTick); expiryTick < nowTick {
		sl.mu.Unlock()
		atomic.AddUint64(&w.stats.Immediate, 1)
		if w.cb != nil {
			w.cb(data)
		}
		atomic.AddUint64(&w.stats.Fired, 1)
		return nil, nil
	}

	h, err := w.allocHandle()
	if err != nil {
		sl.mu.Unlock()
		return nil, err
	}
	h.expiry = expiryTick * uint64(w.tickResNs)
	h.data = data
	h.next = sl.head
	sl.head = h
	sl.mu.Unlock()

	atomic.AddUint64(&w.stats.Added, 1)
	return h, nil
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// Tick advances the wheel to currentTime, firing every timer whose nominal
// deadline has elapsed and re-hashing every multi-round timer it drains
// along the way. It must be called from a single goroutine at a time
// (driver.Driver enforces this). Calling it with a time at or before the
// wheel's last observed tick is a no-op: clock skew going backwards is
// silently ignored.
func (w *Wheel) Tick(currentTime time.Time) (int, error) {
	if w.isClosed() {
		return 0, ErrClosed
	}

	elapsed := currentTime.Sub(w.startTime)
	if elapsed < 0 {
		return 0, nil
	}
	nowNs := uint64(elapsed)
	targetTick := nowNs / uint64(w.tickResNs)

	fired := 0
	for {
		cur := atomic.LoadUint64(&w.currentTick)
		if cur > targetTick {
			break
		}

		idx := cur & w.mask
		sl := &w.slots[idx]
		sl.mu.Lock()
		list := sl.head
		sl.head = nil
		sl.mu.Unlock()

		for n := list; n != nil; {
			next := n.next
			n.next = nil
			if n.expiry <= nowNs {
				if w.cb != nil {
					w.cb(n.data)
				}
				w.freeHandle(n)
				fired++
			} else {
				w.reinsert(n)
				atomic.AddUint64(&w.stats.TimerLoop, 1)
			}
			n = next
		}

		atomic.AddUint64(&w.currentTick, 1)
	}
	atomic.AddUint64(&w.stats.Fired, uint64(fired))
	return fired, nil
}

func (w *Wheel) reinsert(h *Handle) {
	idx := (h.expiry / uint64(w.tickResNs)) & w.mask
	sl := &w.slots[idx]
	sl.mu.Lock()
	h.next = sl.head
	sl.head = h
	sl.mu.Unlock()
}

// Stats returns a best-effort snapshot of the wheel's advisory counters.
func (w *Wheel) Stats() Stats {
	return Stats{
		Added:     atomic.LoadUint64(&w.stats.Added),
		Fired:     atomic.LoadUint64(&w.stats.Fired),
		Immediate: atomic.LoadUint64(&w.stats.Immediate),
		TimerLoop: atomic.LoadUint64(&w.stats.TimerLoop),
	}
}

// Close releases every pending timer, optionally firing its callback first,
// and marks the wheel unusable.
func (w *Wheel) Close(fireCallbacks bool) {
	if !atomic.CompareAndSwapInt32(&w.closed, 0, 1) {
		return
	}
	for i := range w.slots {
		sl := &w.slots[i]
		sl.mu.Lock()
		for n := sl.head; n != nil; {
			next := n.next
			if fireCallbacks && w.cb != nil {
				w.cb(n.data)
			}
			w.freeHandle(n)
			n = next
		}
		sl.head = nil
		sl.mu.Unlock()
	}
	w.log.Infof("timerwheel: closed")
}
