// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package config loads the YAML-driven tunables for the sht, pq and
// timerwheel structures, the way the pipeline's node configuration is
// loaded in the out-of-scope orchestration layer this module was
// extracted from. Any section left out of the document falls back to the
// defaults documented on each package's Options type.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// SHT holds the YAML-facing tunables for an sht.Table.
type SHT struct {
	Size    int `yaml:"size"`
	GCSteps int `yaml:"gc_steps"`
}

// PQ holds the YAML-facing tunables for a pq.Queue.
type PQ struct {
	Capacity int `yaml:"capacity"`
}

// TimerWheel holds the YAML-facing tunables for a timerwheel.Wheel.
type TimerWheel struct {
	Size           int      `yaml:"size"`
	TickResolution Duration `yaml:"tick_resolution"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "2ms"
// or "1s" via time.ParseDuration, since yaml.v2 only natively unmarshals
// time.Duration from a bare integer (nanoseconds).
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := unmarshal(&ns); err != nil {
		return err
	}
	*d = Duration(time.Duration(ns))
	return nil
}

// Server holds the optional demo HTTP server's tunables.
type Server struct {
	Addr string `yaml:"addr"`
}

// Config is the top-level document read from YAML.
type Config struct {
	SHT        SHT        `yaml:"sht"`
	PQ         PQ         `yaml:"pq"`
	TimerWheel TimerWheel `yaml:"timerwheel"`
	Server     Server     `yaml:"server"`
}

// Default returns a Config populated with every package's documented
// defaults.
func Default() *Config {
	return &Config{
		SHT:        SHT{Size: 100, GCSteps: 10},
		PQ:         PQ{Capacity: 64},
		TimerWheel: TimerWheel{Size: 256, TickResolution: Duration(time.Millisecond)},
		Server:     Server{Addr: "localhost:6070"},
	}
}

// Load reads path as YAML and overlays it on top of Default. A missing
// file is not an error; Load simply returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.SHT.Size <= 0 {
		cfg.SHT.Size = 100
	}
	if cfg.SHT.GCSteps <= 0 {
		cfg.SHT.GCSteps = 10
	}
	if cfg.PQ.Capacity <= 0 {
		cfg.PQ.Capacity = 64
	}
	if cfg.TimerWheel.Size <= 0 {
		cfg.TimerWheel.Size = 256
	}
	if cfg.TimerWheel.TickResolution <= 0 {
		cfg.TimerWheel.TickResolution = Duration(time.Millisecond)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "localhost:6070"
	}
	return cfg, nil
}
