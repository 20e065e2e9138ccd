// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package driver runs the single goroutine a timerwheel.Wheel requires to
// drive its Tick method, using golang.org/x/sync/errgroup for lifecycle
// and cenkalti/backoff for panic recovery - the same errgroup+backoff
// reconnect shape the corpus's gnmireverse client uses to keep a streaming
// RPC alive across transient errors, adapted here to keep a local ticking
// loop alive across a panicking callback instead of a network failure.
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/aristanetworks/concore/logger"
	"github.com/aristanetworks/concore/timerwheel"
)

// errorLoopResetInterval bounds how long an error must be quiet before the
// backoff schedule is considered reset rather than continuing to escalate.
const errorLoopResetInterval = 10 * time.Second

// Driver ticks a timerwheel.Wheel on a fixed interval from a single
// goroutine, which is the concurrency contract Wheel.Tick requires.
type Driver struct {
	wheel    *timerwheel.Wheel
	interval time.Duration
	log      logger.Logger
}

// New constructs a Driver that ticks wheel every interval.
func New(wheel *timerwheel.Wheel, interval time.Duration, log logger.Logger) *Driver {
	if log == nil {
		log = logger.Nop
	}
	return &Driver{wheel: wheel, interval: interval, log: log}
}

// Run blocks, ticking the wheel until ctx is cancelled, at which point it
// returns ctx.Err(). A panic inside Wheel.Tick (which should never happen,
// but user-supplied ExpireCB callbacks run inside it) is recovered and
// treated as a transient error: the loop backs off exponentially and
// resumes rather than abandoning the wheel.
func (d *Driver) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return d.loop(ctx)
	})
	return eg.Wait()
}

func (d *Driver) loop(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // never give up
	var lastErrorTime time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := d.tickOnce(now); err != nil {
				d.log.Errorf("driver: tick failed: %v", err)
				if time.Since(lastErrorTime) > errorLoopResetInterval {
					bo.Reset()
				}
				lastErrorTime = time.Now()
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(bo.NextBackOff()):
				}
				continue
			}
			bo.Reset()
		}
	}
}

func (d *Driver) tickOnce(t time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("driver: recovered panic: %v", r)
		}
	}()
	_, err = d.wheel.Tick(t)
	return err
}
