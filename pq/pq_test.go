// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package pq

import (
	"math"
	"testing"
)

func TestOrderedExpiry(t *testing.T) {
	var fired []string
	q := New[string](Options[string]{ExpireCB: func(v string) { fired = append(fired, v) }})

	if err := q.Insert(0, "a", 42); err != nil {
		t.Fatal(err)
	}
	if err := q.Insert(0, "b", 142); err != nil {
		t.Fatal(err)
	}
	if err := q.Insert(0, "c", 8888); err != nil {
		t.Fatal(err)
	}

	if n := q.ExpireAll(10); n != 0 {
		t.Fatalf("ExpireAll(10) fired %d; want 0", n)
	}
	if n := q.ExpireAll(10000); n != 3 {
		t.Fatalf("ExpireAll(10000) fired %d; want 3", n)
	}
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if fired[i] != w {
			t.Fatalf("fired[%d] = %q; want %q (fired=%v)", i, fired[i], w, fired)
		}
	}
}

func TestReschedule(t *testing.T) {
	fired := 0
	q := New[any](Options[any]{ExpireCB: func(any) { fired++ }})

	it, err := q.NewItem(10, nil)
	if err != nil {
		t.Fatal(err)
	}
	q.ItemInsert(it)
	q.Resched(20, it, 20)

	if n := q.ExpireAll(30); n != 0 || fired != 0 {
		t.Fatalf("ExpireAll(30) fired %d (total %d); want 0", n, fired)
	}
	if n := q.ExpireAll(50); n != 1 || fired != 1 {
		t.Fatalf("ExpireAll(50) fired %d (total %d); want 1", n, fired)
	}
}

func TestCancel(t *testing.T) {
	fired := 0
	q := New[int](Options[int]{ExpireCB: func(int) { fired++ }})
	it, err := q.NewItem(5, 1)
	if err != nil {
		t.Fatal(err)
	}
	q.ItemInsert(it)
	q.ItemRemove(it)
	if n := q.ExpireAll(1000); n != 0 || fired != 0 {
		t.Fatalf("expected cancelled item to never fire, fired=%d count=%d", fired, n)
	}
	// Removing again is a harmless no-op.
	q.ItemRemove(it)
}

func TestHeapOrderInvariant(t *testing.T) {
	q := New[int](Options[int]{})
	deadlines := []uint64{50, 10, 30, 5, 900, 1, 42}
	for i, d := range deadlines {
		if err := q.Insert(0, i, d); err != nil {
			t.Fatal(err)
		}
		min := uint64(math.MaxUint64)
		for _, it := range q.items {
			if it.expire < min {
				min = it.expire
			}
		}
		if q.items[0].expire != min {
			t.Fatalf("root.expire = %d; want min %d", q.items[0].expire, min)
		}
		for idx, it := range q.items {
			if it.heapIndex != idx {
				t.Fatalf("item at slot %d has heapIndex=%d", idx, it.heapIndex)
			}
		}
	}
}

func TestExpireMonotone(t *testing.T) {
	q := New[int](Options[int]{})
	for _, d := range []uint64{30, 10, 20, 5, 25} {
		q.Insert(0, int(d), d)
	}
	var last uint64
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			break
		}
		expire := q.items[0].expire
		q.mu.Unlock()
		if expire < last {
			t.Fatalf("expire went backwards: %d after %d", expire, last)
		}
		last = expire
		if n := q.ExpireAll(expire); n == 0 {
			break
		}
	}
}

func TestStatsCountsEveryFiring(t *testing.T) {
	q := New[int](Options[int]{})
	for i := 0; i < 5; i++ {
		q.Insert(0, i, uint64(i))
	}
	q.ExpireAll(100)
	if stats := q.Stats(); stats.Inserted != 5 || stats.Expired != 5 {
		t.Fatalf("Stats() = %+v; want Inserted=5 Expired=5", stats)
	}
}

func TestCloseFiresRemaining(t *testing.T) {
	fired := 0
	q := New[int](Options[int]{ExpireCB: func(int) { fired++ }})
	for i := 0; i < 5; i++ {
		q.Insert(1<<40, i, uint64(i))
	}
	q.Close()
	if fired != 5 {
		t.Fatalf("Close fired %d items; want 5", fired)
	}
}
