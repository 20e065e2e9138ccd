// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package pq

import "errors"

var (
	// ErrAlloc is returned when a caller-supplied Allocate hook fails.
	ErrAlloc = errors.New("pq: allocation failed")
	// ErrClosed is returned by Insert after Close. NewItem, ItemInsert,
	// ItemRemove, Resched and Expire do not check for a closed queue.
	ErrClosed = errors.New("pq: queue closed")
)
