// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes update-run counters in Prometheus form.
//
// deltafw runs once and exits (or reboots), so there is no scrape endpoint;
// the registry is written to a node_exporter textfile at the end of a run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the metrics of one update run.
type Registry struct {
	reg *prometheus.Registry

	BytesRead    *prometheus.CounterVec
	BytesWritten prometheus.Counter
	BytesErased  prometheus.Counter
	Operations   *prometheus.CounterVec
	Errors       *prometheus.CounterVec
	State        *prometheus.GaugeVec
	Runs         *prometheus.CounterVec
	RunSeconds   prometheus.Gauge
}

// NewRegistry creates and registers all metrics on a private registry.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		BytesRead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deltafw_storage_read_bytes_total",
				Help: "Bytes read from the source and patch streams",
			},
			[]string{"stream"},
		),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deltafw_storage_written_bytes_total",
			Help: "Image bytes accepted by the destination write context",
		}),
		BytesErased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deltafw_storage_erased_bytes_total",
			Help: "Bytes erased in the destination partition",
		}),
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deltafw_storage_operations_total",
				Help: "Storage callback invocations by operation",
			},
			[]string{"op"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deltafw_errors_total",
				Help: "Failures by error kind",
			},
			[]string{"kind"},
		),
		State: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "deltafw_upgrade_state",
				Help: "1 for the current state of the update state machine",
			},
			[]string{"state"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deltafw_runs_total",
				Help: "Finished update runs by result (ok or the failing error kind)",
			},
			[]string{"result"},
		),
		RunSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deltafw_run_duration_seconds",
			Help: "Wall time from start of the run to the last state change",
		}),
	}

	r.reg.MustRegister(r.BytesRead, r.BytesWritten, r.BytesErased, r.Operations, r.Errors, r.State, r.Runs, r.RunSeconds)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// SetState marks state as current and clears the previous one.
func (r *Registry) SetState(prev, next string) {
	if prev != "" {
		r.State.WithLabelValues(prev).Set(0)
	}
	r.State.WithLabelValues(next).Set(1)
}

// ObserveRun records the elapsed time since start.
func (r *Registry) ObserveRun(start time.Time) {
	r.RunSeconds.Set(time.Since(start).Seconds())
}

// WriteTextfile atomically writes the registry in text exposition format.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}
