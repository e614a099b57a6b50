// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics wires github.com/prometheus/client_golang counters and
// gauges for the step execution and federation peer bookkeeping, the
// ambient observability surface the distilled spec leaves implicit.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StepExecutions counts step evaluations by kind and terminal status.
var StepExecutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "branchctl_step_executions_total",
		Help: "Total step evaluations, labelled by step kind and terminal status.",
	},
	[]string{"step", "status"},
)

// PassDuration observes the wall-clock duration of one control-loop pass.
var PassDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "branchctl_pass_duration_seconds",
		Help:    "Duration of one control-loop pass over all environments.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{},
)

// FederationPeers reports whether the federation peer link is currently
// connected (1) or not (0).
var FederationPeers = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "branchctl_federation_peer_connected",
		Help: "1 if the federation peer link is connected, 0 otherwise.",
	},
)

// MustRegister registers every metric in this package against reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(StepExecutions, PassDuration, FederationPeers)
}
