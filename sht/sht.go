// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package sht implements a sharded hash table that resizes itself online,
// incrementally, without ever stopping the world: a rare writer doubles the
// bucket array and every foreground operation that comes after cooperates
// by migrating a handful of entries out of the old array until the old
// array is empty and can be dropped.
//
// A Table is safe for concurrent use by multiple goroutines. Lookup takes a
// per-bucket read lock; Insert, Remove and the migration path take a
// per-bucket write lock; a resize additionally claims a table-wide admission
// gate (internal/refgate) so it can wait for exclusivity without blocking
// unrelated buckets in the meantime.
package sht

import (
	"bytes"
	"hash/maphash"
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/rand"

	"github.com/aristanetworks/concore/internal/refgate"
	"github.com/aristanetworks/concore/logger"
)

const (
	defaultSize     = 100
	defaultGCSteps  = 10
	resizeFactor    = 2
	resizeLoadRatio = 1.0 // bucket depth trigger is compared against maxDepth directly
)

// Entry is one key/value record owned by a Table. It is exposed only so
// that a caller-supplied Allocate hook (see Hooks) can embed Entry in an
// arena; ordinary users never construct one directly.
type Entry[V any] struct {
	hash  uint64
	key   []byte
	value V
	next  *Entry[V]
}

// Key returns the entry's key. The returned slice must not be retained or
// mutated by the caller of an Allocate hook.
func (e *Entry[V]) Key() []byte { return e.key }

// Value returns the entry's current value.
func (e *Entry[V]) Value() V { return e.value }

// Hooks lets a Table be embedded in an arena instead of relying on the Go
// allocator/GC for its Entry nodes. Alloc must return a usable, zeroed
// Entry, or nil to signal allocation failure (reported as ErrAlloc). Both
// fields default to nil, meaning "use plain Go allocation and let the
// garbage collector reclaim freed entries".
type Hooks[V any] struct {
	Alloc func() *Entry[V]
	Free  func(*Entry[V])
}

// Options configures a new Table.
type Options[V any] struct {
	// Size is the initial bucket count. Size<=0 defaults to 100. It is
	// not rounded to a power of two: bucket indexing is by modulo.
	Size int
	// Hash overrides the default seeded hash/maphash hashing of keys.
	Hash func(key []byte) uint64
	// GCSteps bounds how many entries each foreground operation migrates
	// out of the old table opportunistically. Defaults to 10.
	GCSteps int
	Hooks   Hooks[V]
	Logger  logger.Logger
}

type bucket[V any] struct {
	mu    sync.RWMutex
	depth int32 // atomic, advisory only
	head  *Entry[V]
}

type ctable[V any] struct {
	buckets  []bucket[V]
	size     int
	maxDepth int
}

type oldTable[V any] struct {
	buckets []bucket[V]
	size    int
	gcIndex int32 // atomic, bucket cursor for the drain
	gcMu    sync.Mutex
}

// Stats is an advisory, best-effort snapshot of a Table's counters. No
// total-order is guaranteed across concurrent operations.
type Stats struct {
	Inserted       uint64
	Removed        uint64
	RemoveMiss     uint64
	DoubleSizeFail uint64
	GCSteps        uint64
	Resizes        uint64
}

// Table is a concurrent, incrementally-resizing hash table from byte-slice
// keys to values of type V. The zero Table is not usable; construct one
// with New.
type Table[V any] struct {
	gate refgate.Gate

	cur atomic.Pointer[ctable[V]]
	old atomic.Pointer[oldTable[V]]

	seed    maphash.Seed
	hashFn  func([]byte) uint64
	gcSteps int
	hooks   Hooks[V]
	log     logger.Logger

	closed int32 // atomic

	stats Stats
}

// New constructs a Table ready for concurrent use.
func New[V any](opts Options[V]) *Table[V] {
	size := opts.Size
	if size <= 0 {
		size = defaultSize
	}
	gcSteps := opts.GCSteps
	if gcSteps <= 0 {
		gcSteps = defaultGCSteps
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop
	}

	t := &Table[V]{
		seed:    maphash.MakeSeed(),
		hashFn:  opts.Hash,
		gcSteps: gcSteps,
		hooks:   opts.Hooks,
		log:     log,
	}
	t.cur.Store(&ctable[V]{
		buckets:  make([]bucket[V], size),
		size:     size,
		maxDepth: maxDepthFor(size),
	})
	return t
}

func maxDepthFor(size int) int {
	d := int(math.Sqrt(float64(size)))
	if d < 1 {
		d = 1
	}
	return d
}

func (t *Table[V]) isClosed() bool {
	return atomic.LoadInt32(&t.closed) != 0
}

func (t *Table[V]) hashKey(key []byte) uint64 {
	if t.hashFn != nil {
		return t.hashFn(key)
	}
	return maphash.Bytes(t.seed, key)
}

func (t *Table[V]) allocEntry() (*Entry[V], error) {
	if t.hooks.Alloc == nil {
		return &Entry[V]{}, nil
	}
	e := t.hooks.Alloc()
	if e == nil {
		return nil, ErrAlloc
	}
	return e, nil
}

func (t *Table[V]) freeEntry(e *Entry[V]) {
	if t.hooks.Free != nil {
		t.hooks.Free(e)
	}
}

func findInList[V any](head *Entry[V], hash uint64, key []byte) (*Entry[V], bool) {
	for e := head; e != nil; e = e.next {
		if e.hash == hash && bytes.Equal(e.key, key) {
			return e, true
		}
	}
	return nil, false
}

func lookupLocked[V any](buckets []bucket[V], size int, hash uint64, key []byte) (V, bool) {
	b := &buckets[hash%uint64(size)]
	b.mu.RLock()
	defer b.mu.RUnlock()
	if e, ok := findInList(b.head, hash, key); ok {
		return e.value, true
	}
	var zero V
	return zero, false
}

// Insert always adds a new Entry for key, even if one already exists: a
// later Lookup observes the most recently inserted matching entry (LIFO
// within a bucket). Use LookupInsert for get-or-create semantics.
func (t *Table[V]) Insert(key []byte, value V) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if t.isClosed() {
		return ErrClosed
	}
	t.gate.Enter()
	defer t.gate.Leave()
	t.gcStep(t.gcSteps)

	hash := t.hashKey(key)
	cur := t.cur.Load()
	e, err := t.allocEntry()
	if err != nil {
		return err
	}
	e.hash = hash
	e.key = append([]byte(nil), key...)
	e.value = value

	b := &cur.buckets[hash%uint64(cur.size)]
	b.mu.Lock()
	e.next = b.head
	b.head = e
	depth := atomic.AddInt32(&b.depth, 1)
	b.mu.Unlock()

	atomic.AddUint64(&t.stats.Inserted, 1)
	if int(depth) > cur.maxDepth {
		t.maybeResize(cur)
	}
	return nil
}

// Lookup searches the current table, then the old table if a resize is in
// progress.
func (t *Table[V]) Lookup(key []byte) (V, bool) {
	var zero V
	if len(key) == 0 || t.isClosed() {
		return zero, false
	}
	t.gate.Enter()
	defer t.gate.Leave()
	t.gcStep(t.gcSteps)

	hash := t.hashKey(key)
	cur := t.cur.Load()
	if v, ok := lookupLocked(cur.buckets, cur.size, hash, key); ok {
		return v, true
	}
	if old := t.old.Load(); old != nil {
		if v, ok := lookupLocked(old.buckets, old.size, hash, key); ok {
			return v, true
		}
	}
	return zero, false
}

// LookupInsert is an atomic get-or-insert: if key already matches an entry
// in either table, that entry's value is returned with ok=true; otherwise
// value is inserted and returned with ok=false. Concurrent callers racing
// on the same key never both win.
//
// An empty key is a no-op that returns the zero value and ok=false.
func (t *Table[V]) LookupInsert(key []byte, value V) (result V, existed bool) {
	var zero V
	if len(key) == 0 || t.isClosed() {
		return zero, false
	}
	t.gate.Enter()
	defer t.gate.Leave()
	t.gcStep(t.gcSteps)

	hash := t.hashKey(key)

	if old := t.old.Load(); old != nil {
		if v, ok := lookupLocked(old.buckets, old.size, hash, key); ok {
			return v, true
		}
	}

	cur := t.cur.Load()
	b := &cur.buckets[hash%uint64(cur.size)]

	var allocated *Entry[V]
	defer func() {
		if allocated != nil {
			t.freeEntry(allocated)
		}
	}()

	for {
		b.mu.Lock()
		if e, ok := findInList(b.head, hash, key); ok {
			b.mu.Unlock()
			return e.value, true
		}
		if allocated == nil {
			// Allocation copies the key; keep it off the critical
			// section on the common (first-writer) path.
			b.mu.Unlock()
			e, err := t.allocEntry()
			if err != nil {
				return zero, false
			}
			e.hash = hash
			e.key = append([]byte(nil), key...)
			e.value = value
			allocated = e
			continue
		}

		allocated.next = b.head
		b.head = allocated
		depth := atomic.AddInt32(&b.depth, 1)
		b.mu.Unlock()

		atomic.AddUint64(&t.stats.Inserted, 1)
		inserted := allocated
		allocated = nil // ownership transferred; don't free it in the defer
		if int(depth) > cur.maxDepth {
			t.maybeResize(cur)
		}
		return inserted.value, false
	}
}

// Remove deletes the first matching entry in the current table, falling
// back to the old table, and reports ErrNotFound if key is absent from
// both.
func (t *Table[V]) Remove(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if t.isClosed() {
		return ErrClosed
	}
	t.gate.Enter()
	defer t.gate.Leave()
	t.gcStep(t.gcSteps)

	hash := t.hashKey(key)
	cur := t.cur.Load()
	if t.removeFrom(cur.buckets, cur.size, hash, key) {
		atomic.AddUint64(&t.stats.Removed, 1)
		return nil
	}
	if old := t.old.Load(); old != nil {
		if t.removeFrom(old.buckets, old.size, hash, key) {
			atomic.AddUint64(&t.stats.Removed, 1)
			return nil
		}
	}
	atomic.AddUint64(&t.stats.RemoveMiss, 1)
	return ErrNotFound
}

func (t *Table[V]) removeFrom(buckets []bucket[V], size int, hash uint64, key []byte) bool {
	b := &buckets[hash%uint64(size)]
	b.mu.Lock()
	defer b.mu.Unlock()
	var prev *Entry[V]
	for e := b.head; e != nil; e = e.next {
		if e.hash == hash && bytes.Equal(e.key, key) {
			if prev == nil {
				b.head = e.next
			} else {
				prev.next = e.next
			}
			atomic.AddInt32(&b.depth, -1)
			t.freeEntry(e)
			return true
		}
		prev = e
	}
	return false
}

// maybeResize is invoked whenever a bucket's advisory depth exceeds the
// current table's max depth. At most one resize is in flight at a time.
// Foreground callers already admitted keep running; new ones wait in
// gate.Enter from the moment the gate is claimed until Release, which
// covers allocating the new bucket array, gate.Quiesce and the swap.
func (t *Table[V]) maybeResize(cur *ctable[V]) {
	if t.old.Load() != nil {
		// A migration is already draining; only one generation of
		// resize is allowed in flight at a time.
		atomic.AddUint64(&t.stats.DoubleSizeFail, 1)
		return
	}
	if !t.gate.TryExclusive() {
		// Another goroutine is already claiming this resize.
		return
	}
	defer t.gate.Release()

	if t.old.Load() != nil || t.cur.Load() != cur {
		// Lost the race between the check above and claiming the gate.
		return
	}

	newSize := cur.size * resizeFactor
	newBuckets := make([]bucket[V], newSize)

	t.gate.Quiesce()

	old := &oldTable[V]{buckets: cur.buckets, size: cur.size}
	newCur := &ctable[V]{buckets: newBuckets, size: newSize, maxDepth: maxDepthFor(newSize)}
	t.old.Store(old)
	t.cur.Store(newCur)
	atomic.AddUint64(&t.stats.Resizes, 1)
	t.log.Infof("sht: resized %d -> %d buckets", cur.size, newSize)
}

// GC manually drains up to maxSteps entries from the old table into the
// current one, returning how many were actually moved. It is also invoked
// opportunistically, with the configured GCSteps budget, inside every
// foreground operation; calling it explicitly is only useful to drive a
// migration to completion faster than foreground traffic would.
func (t *Table[V]) GC(maxSteps int) int {
	if t.isClosed() {
		return 0
	}
	t.gate.Enter()
	defer t.gate.Leave()
	return t.gcStep(maxSteps)
}

func (t *Table[V]) gcStep(maxSteps int) int {
	old := t.old.Load()
	if old == nil {
		return 0
	}
	if !old.gcMu.TryLock() {
		// Someone else is already draining; yield rather than contend.
		return 0
	}
	defer old.gcMu.Unlock()

	cur := t.cur.Load()
	moved := 0
	for moved < maxSteps {
		idx := int(atomic.LoadInt32(&old.gcIndex))
		if idx >= old.size {
			break
		}
		ob := &old.buckets[idx]
		ob.mu.Lock()
		e := ob.head
		if e == nil {
			ob.mu.Unlock()
			atomic.AddInt32(&old.gcIndex, 1)
			continue
		}
		ob.head = e.next
		atomic.AddInt32(&ob.depth, -1)

		// The old bucket stays locked until e is linked into the current
		// table, so a LookupInsert that checks the old table and then the
		// current one always finds e in one of them. Migrated entries are
		// older than anything inserted into the current table, and the old
		// bucket is drained newest-first, so appending at the tail keeps
		// the bucket in LIFO order.
		e.next = nil
		nb := &cur.buckets[e.hash%uint64(cur.size)]
		nb.mu.Lock()
		if nb.head == nil {
			nb.head = e
		} else {
			tail := nb.head
			for tail.next != nil {
				tail = tail.next
			}
			tail.next = e
		}
		atomic.AddInt32(&nb.depth, 1)
		nb.mu.Unlock()
		ob.mu.Unlock()
		moved++
	}
	atomic.AddUint64(&t.stats.GCSteps, uint64(moved))

	if int(atomic.LoadInt32(&old.gcIndex)) >= old.size {
		t.finishMigration(old)
	}
	return moved
}

// finishMigration drops the old table once it has been fully drained. The
// caller already holds one admitted reference (via gate.Enter from the
// foreground operation that triggered this GC pass); Quiesce waits for
// every other concurrent caller to leave before the swap.
func (t *Table[V]) finishMigration(old *oldTable[V]) {
	if !t.gate.TryExclusive() {
		return
	}
	defer t.gate.Release()
	if t.old.Load() != old {
		return
	}
	t.gate.Quiesce()
	t.old.Store(nil)
	t.log.Infof("sht: migration complete, %d buckets retired", old.size)
}

// Len returns an advisory count of entries across both tables. It is not
// linearizable with concurrent Insert/Remove/LookupInsert.
func (t *Table[V]) Len() int {
	n := 0
	cur := t.cur.Load()
	for i := range cur.buckets {
		n += int(atomic.LoadInt32(&cur.buckets[i].depth))
	}
	if old := t.old.Load(); old != nil {
		for i := range old.buckets {
			n += int(atomic.LoadInt32(&old.buckets[i].depth))
		}
	}
	return n
}

// Stats returns a best-effort snapshot of the table's advisory counters.
func (t *Table[V]) Stats() Stats {
	return Stats{
		Inserted:       atomic.LoadUint64(&t.stats.Inserted),
		Removed:        atomic.LoadUint64(&t.stats.Removed),
		RemoveMiss:     atomic.LoadUint64(&t.stats.RemoveMiss),
		DoubleSizeFail: atomic.LoadUint64(&t.stats.DoubleSizeFail),
		GCSteps:        atomic.LoadUint64(&t.stats.GCSteps),
		Resizes:        atomic.LoadUint64(&t.stats.Resizes),
	}
}

// Range calls fn for every entry in the current table, in an unspecified
// and randomized order (the start bucket is chosen with rand.Uint64, the
// same way the corpus's own open-addressed hash.Map randomizes Iter so
// callers don't accidentally depend on bucket order). fn's return value
// controls iteration: false stops early. Range does not observe entries
// still parked in an in-progress resize's old table, and is not
// linearizable with concurrent Insert/Remove.
func (t *Table[V]) Range(fn func(key []byte, value V) bool) {
	cur := t.cur.Load()
	n := len(cur.buckets)
	if n == 0 {
		return
	}
	start := int(rand.Uint64() % uint64(n))
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		b := &cur.buckets[idx]
		b.mu.RLock()
		for e := b.head; e != nil; e = e.next {
			if !fn(e.key, e.value) {
				b.mu.RUnlock()
				return
			}
		}
		b.mu.RUnlock()
	}
}

// Close drains both tables through the configured Free hook. A Table must
// not be used after Close.
func (t *Table[V]) Close() {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return
	}
	if old := t.old.Load(); old != nil {
		t.drainAll(old.buckets)
	}
	t.drainAll(t.cur.Load().buckets)
}

func (t *Table[V]) drainAll(buckets []bucket[V]) {
	for i := range buckets {
		b := &buckets[i]
		b.mu.Lock()
		for e := b.head; e != nil; {
			next := e.next
			t.freeEntry(e)
			e = next
		}
		b.head = nil
		b.mu.Unlock()
	}
}
