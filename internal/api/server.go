// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api is the drmd admin HTTP surface: session inspection, offline
// license management, health and metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/manager"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/store"
	"github.com/ManuGH/xg2g-drm/internal/health"
	xglog "github.com/ManuGH/xg2g-drm/internal/log"
)

// Deps wires the server to the session manager. Manager and Loop are
// required.
type Deps struct {
	Manager *manager.Manager
	Loop    *manager.Loop
	Store   store.LicenseStore
	Events  *EventRecorder
	// Readiness backs /readyz. Without it /readyz mirrors /healthz.
	Readiness *health.Manager
	// RateLimit is requests per minute per client IP on /api/v1. 0 disables it.
	RateLimit int
	// Mount adds extra routes, e.g. the simulated license server.
	Mount func(r chi.Router)
}

type Server struct {
	mgr    *manager.Manager
	loop   *manager.Loop
	store  store.LicenseStore
	events *EventRecorder
	logger zerolog.Logger
	router chi.Router
}

func New(deps Deps) *Server {
	s := &Server{
		mgr:    deps.Manager,
		loop:   deps.Loop,
		store:  deps.Store,
		events: deps.Events,
		logger: xglog.WithComponent("api"),
	}
	if s.events == nil {
		s.events = NewEventRecorder(0)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(accessLog(s.logger))

	r.Get("/healthz", s.handleHealth)
	if deps.Readiness != nil {
		r.Get("/readyz", deps.Readiness.ServeReady)
	} else {
		r.Get("/readyz", s.handleHealth)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if deps.RateLimit > 0 {
			r.Use(rateLimit(deps.RateLimit, time.Minute))
		}
		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions", s.handleAcquireSession)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Delete("/sessions/{id}", s.handleReleaseSession)
		r.Get("/sessions/{id}/keystatus", s.handleKeyStatus)
		r.Post("/capabilities", s.handleCapabilities)
		r.Get("/events", s.handleEvents)

		r.Get("/licenses", s.handleListLicenses)
		r.Post("/licenses/{contentID}/release", s.handleReleaseLicense)
	})
	if deps.Mount != nil {
		deps.Mount(r)
	}
	s.router = r
	return s
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "drmd",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"scheme":   s.mgr.Scheme().String(),
		"sessions": len(s.mgr.Sessions()),
	})
}
