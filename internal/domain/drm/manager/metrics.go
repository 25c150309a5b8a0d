// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xg2g_drm_sessions_active",
		Help: "Number of DRM sessions not yet released.",
	})

	sessionAcquiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xg2g_drm_session_acquired_total",
			Help: "Total DRM sessions acquired by mode.",
		},
		[]string{"mode"},
	)

	fsmTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xg2g_drm_fsm_transitions_total",
			Help: "DRM session state transitions",
		},
		[]string{"state_from", "state_to"},
	)

	provisioningTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xg2g_drm_provisioning_total",
			Help: "Provisioning requests by result (started, coalesced, ok, error).",
		},
		[]string{"result"},
	)

	provisioningInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xg2g_drm_provisioning_in_flight",
		Help: "1 while a provisioning exchange is outstanding.",
	})

	keyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xg2g_drm_key_requests_total",
			Help: "License key exchanges by key type and result.",
		},
		[]string{"key_type", "result"},
	)

	sessionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xg2g_drm_session_errors_total",
			Help: "Session failures reported to the event sink, by kind.",
		},
		[]string{"kind"},
	)

	staleDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xg2g_drm_stale_drops_total",
			Help: "Responses and events dropped because their session moved on.",
		},
		[]string{"source"},
	)
)

const (
	staleKeyResponse  = "key_response"
	staleProvisioning = "provisioning"
	staleEngineEvent  = "engine_event"
	staleQueued       = "queued"
)
