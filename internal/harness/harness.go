// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package harness holds small test-only helpers shared across the concore
// packages' test suites, in the spirit of the corpus's test package
// (test.DeepEqual, test.Diff) but scoped to what concurrency tests here
// actually need: polling for an eventually-true condition instead of a
// general reflection-based diff.
package harness

import "time"

// WaitFor polls cond every interval until it returns true or timeout
// elapses, returning whether cond was observed true. Concurrency tests use
// this instead of a fixed sleep so they fail fast on the happy path and
// only burn the full timeout when something is actually wrong.
func WaitFor(timeout, interval time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return cond()
		}
		time.Sleep(interval)
	}
}
