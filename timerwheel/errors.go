// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package timerwheel

import "errors"

var (
	// ErrAlloc is returned when a caller-supplied Allocate hook fails.
	ErrAlloc = errors.New("timerwheel: allocation failed")
	// ErrClosed is returned by any operation invoked after Close.
	ErrClosed = errors.New("timerwheel: wheel closed")
)
