// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors a Coordinator updates. A nil
// *Metrics records nothing.
type Metrics struct {
	// sessions counts finished sessions.
	// Labels: outcome (committed, empty, aborted)
	sessions *prometheus.CounterVec

	// phaseDuration measures time spent in each phase.
	// Labels: state (fetching, mutating, flushing)
	phaseDuration *prometheus.HistogramVec

	// batchOps is the size of delivered batches.
	batchOps prometheus.Histogram
}

// NewMetrics creates the session collectors and registers them with
// registerer. Pass prometheus.DefaultRegisterer to expose them on the
// default registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livestate",
			Subsystem: "session",
			Name:      "sessions_total",
			Help:      "Mutation sessions by outcome",
		}, []string{"outcome"}),
		phaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "livestate",
			Subsystem: "session",
			Name:      "phase_duration_seconds",
			Help:      "Time spent in each session phase",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"state"}),
		batchOps: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "livestate",
			Subsystem: "session",
			Name:      "batch_ops",
			Help:      "Ops per delivered batch",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

func (m *Metrics) observePhase(state State, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(state.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) finish(outcome string, ops int) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(outcome).Inc()
	if outcome == "committed" {
		m.batchOps.Observe(float64(ops))
	}
}
