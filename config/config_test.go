// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SHT.Size != 100 || cfg.TimerWheel.TickResolution != Duration(time.Millisecond) {
		t.Fatalf("Load of missing file did not return defaults: %+v", cfg)
	}
}

func TestLoadOverlaysDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concore.yaml")
	doc := []byte(`
sht:
  size: 17
pq:
  capacity: 8
timerwheel:
  size: 64
  tick_resolution: 2ms
server:
  addr: ":9090"
`)
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SHT.Size != 17 {
		t.Fatalf("SHT.Size = %d; want 17", cfg.SHT.Size)
	}
	if cfg.SHT.GCSteps != 10 {
		t.Fatalf("SHT.GCSteps = %d; want default 10", cfg.SHT.GCSteps)
	}
	if cfg.PQ.Capacity != 8 {
		t.Fatalf("PQ.Capacity = %d; want 8", cfg.PQ.Capacity)
	}
	if cfg.TimerWheel.Size != 64 {
		t.Fatalf("TimerWheel.Size = %d; want 64", cfg.TimerWheel.Size)
	}
	if cfg.TimerWheel.TickResolution != Duration(2*time.Millisecond) {
		t.Fatalf("TimerWheel.TickResolution = %v; want 2ms", cfg.TimerWheel.TickResolution)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("Server.Addr = %q; want :9090", cfg.Server.Addr)
	}
}
