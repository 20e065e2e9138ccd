// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Command corecoreserver runs one sht.Table, one pq.Queue and one
// timerwheel.Wheel side by side, wired to a driver.Driver and exported over
// /metrics, as a runnable demonstration of the concore packages - the same
// shape as cmd/ocprometheus, minus the gNMI client, plus /debug/pprof for
// profiling a live resize or timer-wheel revolution and /debug/vars for the
// stdlib expvar counters.
package main

import (
	"context"
	"expvar"
	"flag"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/aristanetworks/concore/config"
	"github.com/aristanetworks/concore/driver"
	glogadapter "github.com/aristanetworks/concore/glog"
	"github.com/aristanetworks/concore/metrics"
	"github.com/aristanetworks/concore/pq"
	"github.com/aristanetworks/concore/sht"
	"github.com/aristanetworks/concore/timerwheel"
)

func main() {
	configFlag := flag.String("config", "", "YAML config file (optional, falls back to defaults)")
	url := flag.String("url", "/metrics", "URL where to expose the metrics")
	flag.Parse()

	log := &glogadapter.Glog{}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatal(err)
	}

	table := sht.New[[]byte](sht.Options[[]byte]{
		Size:    cfg.SHT.Size,
		GCSteps: cfg.SHT.GCSteps,
		Logger:  log,
	})
	defer table.Close()

	queue := pq.New[string](pq.Options[string]{
		Capacity: cfg.PQ.Capacity,
		ExpireCB: func(key string) {
			table.Remove([]byte(key))
		},
		Logger: log,
	})
	defer queue.Close()

	wheel := timerwheel.New(timerwheel.Options{
		Size:           cfg.TimerWheel.Size,
		TickResolution: time.Duration(cfg.TimerWheel.TickResolution),
		ExpireCB: func(data any) {
			if key, ok := data.(string); ok {
				table.Remove([]byte(key))
			}
		},
		Logger: log,
	})
	defer wheel.Close(false)

	reg := prometheus.NewRegistry()
	if err := metrics.RegisterSHT(reg, "main", table); err != nil {
		log.Fatal(err)
	}
	if err := metrics.RegisterPQ(reg, "main", queue); err != nil {
		log.Fatal(err)
	}
	if err := metrics.RegisterTimerWheel(reg, "main", wheel); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	wheelDriver := driver.New(wheel, time.Duration(cfg.TimerWheel.TickResolution), log)
	g.Go(func() error {
		if err := wheelDriver.Run(gCtx); err == context.Canceled {
			return nil
		} else {
			return err
		}
	})

	mux := http.NewServeMux()
	mux.Handle(*url, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())
	// net/http/pprof's init normally registers these on
	// http.DefaultServeMux; registered here by hand since this server
	// runs its own mux instead, per the package's documented pattern for
	// custom muxes.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		log.Infof("corecoreserver: listening on %s (metrics %s, pprof /debug/pprof, vars /debug/vars)", cfg.Server.Addr, *url)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}
