// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package refgate implements the reference-counted admission barrier used to
// let an unbounded number of foreground operations run concurrently while
// still allowing a rare exclusive operation (a resize) to wait until it has
// the structure entirely to itself.
//
// It is a spin-only substitute for a sync.RWMutex: foreground callers take
// the "read" side via Enter/Leave, which never competes for an OS futex
// (Enter only spins while an exclusive holder has the gate); the exclusive
// side via Quiesce spins until every foreground caller has left, using
// runtime.Gosched to yield the core rather than parking the goroutine.
package refgate

import (
	"runtime"
	"sync/atomic"
)

// Gate is the admission barrier. The zero value is ready to use.
type Gate struct {
	spin int32
	ref  int32
}

// Enter admits one foreground caller. The spinlock it takes only guards the
// increment of ref, not the caller's subsequent work; while an exclusive
// holder (Exclusive/TryExclusive) has the spinlock, Enter spins until
// Release.
func (g *Gate) Enter() {
	g.lockSpin()
	atomic.AddInt32(&g.ref, 1)
	g.unlockSpin()
}

// Leave retires one foreground caller admitted by Enter.
func (g *Gate) Leave() {
	atomic.AddInt32(&g.ref, -1)
}

// TryExclusive attempts to claim the exclusive spinlock without waiting for
// quiescence. It reports whether the caller now holds the lock; the caller
// must call Quiesce (to wait for ref==1) and then Release.
func (g *Gate) TryExclusive() bool {
	return atomic.CompareAndSwapInt32(&g.spin, 0, 1)
}

// Exclusive claims the spinlock, spinning until it succeeds.
func (g *Gate) Exclusive() {
	g.lockSpin()
}

// Quiesce spins until the caller (which must already hold the exclusive
// spinlock, itself counted as one admitted entry via Enter) is the only
// admitted caller left.
func (g *Gate) Quiesce() {
	for atomic.LoadInt32(&g.ref) > 1 {
		runtime.Gosched()
	}
}

// Release releases the exclusive spinlock claimed by Exclusive/TryExclusive.
func (g *Gate) Release() {
	g.unlockSpin()
}

func (g *Gate) lockSpin() {
	for !atomic.CompareAndSwapInt32(&g.spin, 0, 1) {
		runtime.Gosched()
	}
}

func (g *Gate) unlockSpin() {
	atomic.StoreInt32(&g.spin, 0)
}
