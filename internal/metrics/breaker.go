// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xg2g_drm_breaker_state",
		Help: "Current breaker state: 0 closed, 1 half-open, 2 open",
	}, []string{"breaker"})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_drm_breaker_transitions_total",
		Help: "Breaker state changes",
	}, []string{"breaker", "from", "to"})

	breakerRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_drm_breaker_rejected_total",
		Help: "Calls refused without reaching the upstream because the breaker was open",
	}, []string{"breaker"})
)

func stateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// SetBreakerState publishes the initial state of a breaker.
func SetBreakerState(breaker, state string) {
	breakerState.WithLabelValues(breaker).Set(stateValue(state))
}

// ObserveBreakerTransition counts a state change and updates the gauge.
func ObserveBreakerTransition(breaker, from, to string) {
	breakerTransitions.WithLabelValues(breaker, from, to).Inc()
	breakerState.WithLabelValues(breaker).Set(stateValue(to))
}

func RecordBreakerRejected(breaker string) {
	breakerRejected.WithLabelValues(breaker).Inc()
}
