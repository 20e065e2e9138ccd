// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package metrics wraps the advisory counters each of sht, pq and
// timerwheel already maintain as Prometheus collectors, the way the
// corpus's cmd/ocprometheus turns gNMI updates into prometheus.Metric
// values: a thin, pull-model adapter, registered against a caller-supplied
// registry rather than the global default so the library stays embeddable.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aristanetworks/concore/pq"
	"github.com/aristanetworks/concore/sht"
	"github.com/aristanetworks/concore/timerwheel"
)

const namespace = "concore"

// RegisterSHT registers one gauge per advisory counter on t, labelled with
// name, against reg.
func RegisterSHT[V any](reg prometheus.Registerer, name string, t *sht.Table[V]) error {
	gauges := []struct {
		metric string
		help   string
		get    func(sht.Stats) float64
	}{
		{"inserted_total", "entries inserted", func(s sht.Stats) float64 { return float64(s.Inserted) }},
		{"removed_total", "entries removed", func(s sht.Stats) float64 { return float64(s.Removed) }},
		{"remove_miss_total", "remove calls on an absent key", func(s sht.Stats) float64 { return float64(s.RemoveMiss) }},
		{"resizes_total", "completed resizes", func(s sht.Stats) float64 { return float64(s.Resizes) }},
		{"double_size_fail_total", "resizes skipped because one was already pending", func(s sht.Stats) float64 { return float64(s.DoubleSizeFail) }},
		{"gc_steps_total", "entries migrated out of the old table", func(s sht.Stats) float64 { return float64(s.GCSteps) }},
	}
	for _, g := range gauges {
		g := g
		fn := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "sht",
			Name:        g.metric,
			Help:        g.help,
			ConstLabels: prometheus.Labels{"table": name},
		}, func() float64 { return g.get(t.Stats()) })
		if err := reg.Register(fn); err != nil {
			return err
		}
	}
	len := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "sht",
		Name:        "len",
		Help:        "advisory entry count across both tables",
		ConstLabels: prometheus.Labels{"table": name},
	}, func() float64 { return float64(t.Len()) })
	return reg.Register(len)
}

// RegisterPQ registers one gauge per advisory counter on q, labelled with
// name, against reg.
func RegisterPQ[V any](reg prometheus.Registerer, name string, q *pq.Queue[V]) error {
	gauges := []struct {
		metric string
		help   string
		get    func(pq.Stats) float64
	}{
		{"inserted_total", "items inserted", func(s pq.Stats) float64 { return float64(s.Inserted) }},
		{"expired_total", "items fired by Expire/ExpireAll", func(s pq.Stats) float64 { return float64(s.Expired) }},
	}
	for _, g := range gauges {
		g := g
		fn := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "pq",
			Name:        g.metric,
			Help:        g.help,
			ConstLabels: prometheus.Labels{"queue": name},
		}, func() float64 { return g.get(q.Stats()) })
		if err := reg.Register(fn); err != nil {
			return err
		}
	}
	length := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "pq",
		Name:        "len",
		Help:        "items currently scheduled",
		ConstLabels: prometheus.Labels{"queue": name},
	}, func() float64 { return float64(q.Len()) })
	return reg.Register(length)
}

// RegisterTimerWheel registers one gauge per advisory counter on w,
// labelled with name, against reg.
func RegisterTimerWheel(reg prometheus.Registerer, name string, w *timerwheel.Wheel) error {
	gauges := []struct {
		metric string
		help   string
		get    func(timerwheel.Stats) float64
	}{
		{"added_total", "timers scheduled", func(s timerwheel.Stats) float64 { return float64(s.Added) }},
		{"fired_total", "timers fired", func(s timerwheel.Stats) float64 { return float64(s.Fired) }},
		{"immediate_total", "Add calls that raced past currentTick and fired synchronously", func(s timerwheel.Stats) float64 { return float64(s.Immediate) }},
		{"timer_loop_total", "multi-round deferrals during Tick", func(s timerwheel.Stats) float64 { return float64(s.TimerLoop) }},
	}
	for _, g := range gauges {
		g := g
		fn := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "timerwheel",
			Name:        g.metric,
			Help:        g.help,
			ConstLabels: prometheus.Labels{"wheel": name},
		}, func() float64 { return g.get(w.Stats()) })
		if err := reg.Register(fn); err != nil {
			return err
		}
	}
	return nil
}
