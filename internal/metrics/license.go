// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics holds process-wide Prometheus collectors for outbound
// license traffic.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	licenseRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xg2g_drm_license_request_duration_seconds",
		Help:    "Latency of license and provisioning server exchanges",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"kind", "scheme", "status"})

	licenseRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_drm_license_rate_limited_total",
		Help: "Outbound exchanges that waited on or were rejected by the client rate limiter",
	}, []string{"kind"})

	provisioningShared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xg2g_drm_provisioning_shared_total",
		Help: "Provisioning exchanges answered by an identical in-flight request",
	})
)

// ObserveLicenseRequest records one exchange. status is the HTTP status code
// or 0 when no response was received.
func ObserveLicenseRequest(kind, scheme string, status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	licenseRequestDuration.WithLabelValues(kind, scheme, label).Observe(d.Seconds())
}

func RecordRateLimited(kind string) {
	licenseRateLimited.WithLabelValues(kind).Inc()
}

func RecordProvisioningShared() {
	provisioningShared.Inc()
}
