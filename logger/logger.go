// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package logger is an interface to pass a generic logger to the concore
// packages without tying them to a concrete logging backend.
package logger

import "os"

// Logger is implemented by any logging backend concore's packages can use
// for their (rare, debug-level) diagnostic output: resize/migration events,
// timer wheel deferrals, driver restarts, and startup failures severe
// enough that the process should not continue.
type Logger interface {
	// Info logs at the info level
	Info(args ...interface{})
	// Infof logs at the info level, with format
	Infof(format string, args ...interface{})
	// Error logs at the error level
	Error(args ...interface{})
	// Errorf logs at the error level, with format
	Errorf(format string, args ...interface{})
	// Fatal logs at the fatal level, then terminates the process
	Fatal(args ...interface{})
	// Fatalf logs at the fatal level, with format, then terminates the process
	Fatalf(format string, args ...interface{})
}

// Nop is a Logger that discards everything except Fatal/Fatalf, which still
// terminate the process: Fatal is a control-flow guarantee, not just a log
// level, and callers rely on it never returning. It is the default when a
// structure is constructed without an explicit Logger.
var Nop Logger = nop{}

type nop struct{}

func (nop) Info(args ...interface{})                  {}
func (nop) Infof(format string, args ...interface{})  {}
func (nop) Error(args ...interface{})                 {}
func (nop) Errorf(format string, args ...interface{}) {}
func (nop) Fatal(args ...interface{})                 { os.Exit(1) }
func (nop) Fatalf(format string, args ...interface{}) { os.Exit(1) }
