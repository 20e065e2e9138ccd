// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package sht

import "errors"

var (
	// ErrEmptyKey is returned by Insert/Remove when the supplied key has
	// zero length.
	ErrEmptyKey = errors.New("sht: empty key")
	// ErrNotFound is returned by Remove when no entry matches the key.
	ErrNotFound = errors.New("sht: key not found")
	// ErrClosed is returned by any operation invoked after Close.
	ErrClosed = errors.New("sht: table closed")
	// ErrAlloc is returned when a caller-supplied Allocate hook fails by
	// returning nil.
	ErrAlloc = errors.New("sht: allocation failed")
)
