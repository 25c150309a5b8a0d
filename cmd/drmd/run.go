// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ManuGH/xg2g-drm/internal/api"
	"github.com/ManuGH/xg2g-drm/internal/config"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/manager"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/schemedata"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/store"
	"github.com/ManuGH/xg2g-drm/internal/health"
	"github.com/ManuGH/xg2g-drm/internal/infra/license"
	"github.com/ManuGH/xg2g-drm/internal/infra/simengine"
	xglog "github.com/ManuGH/xg2g-drm/internal/log"
	"github.com/ManuGH/xg2g-drm/internal/telemetry"
	"github.com/ManuGH/xg2g-drm/internal/version"
)

const (
	shutdownTimeout = 10 * time.Second
	expiryInterval  = time.Second
	simLicensePath  = "/sim/license"
)

func run(ctx context.Context, cfg config.Config, configPath string, simLicense bool) error {
	logger := xglog.WithComponent("daemon")

	scheme, err := cfg.SchemeID()
	if err != nil {
		return err
	}

	if err := health.PerformStartupChecks(cfg); err != nil {
		return err
	}

	cfg.Telemetry.ServiceVersion = version.Version
	tp, err := telemetry.NewProvider(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	st, err := store.OpenLicenseStore(store.Options{
		Backend: cfg.Store.Backend,
		Path:    cfg.Store.Path,
		Redis: store.RedisConfig{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		},
	}, xglog.WithComponent("store"))
	if err != nil {
		return fmt.Errorf("license store: %w", err)
	}
	defer func() { _ = st.Close() }()

	licenseURL := cfg.License.LicenseURL()
	provisioningURL := cfg.License.ProvisioningURL
	var mount func(chi.Router)
	if simLicense {
		base := "http://" + cfg.API.ListenAddr + simLicensePath
		licenseURL = base
		provisioningURL = base + "?provision=1"
		mount = func(r chi.Router) { r.Handle(simLicensePath, &simengine.LicenseServer{DurationSeconds: 3600}) }
	}

	engine := simengine.New(simengine.Options{ProvisioningURL: provisioningURL})
	transport := license.NewClient(license.Options{
		LicenseURL:       licenseURL,
		ProvisioningURL:  provisioningURL,
		Headers:          cfg.License.Headers,
		Timeout:          cfg.License.Timeout,
		RateLimit:        rate.Limit(cfg.License.RateLimit),
		RateLimitBurst:   cfg.License.Burst,
		BreakerThreshold: cfg.License.Breaker.Threshold,
		BreakerReset:     cfg.License.Breaker.ResetTimeout,
		UserAgent:        "xg2g-drm/" + version.Version,
	})

	events := api.NewEventRecorder(0)
	mgr, err := manager.New(manager.Config{
		Scheme:           scheme,
		RenewalThreshold: cfg.Session.RenewalThreshold,
		SessionSharing:   cfg.Session.SessionSharing,
		KeyRequestParams: cfg.License.EffectiveKeyRequestParams(),
		StoreTimeout:     cfg.Session.StoreTimeout,
	}, manager.Deps{
		Engine:    engine,
		Transport: transport,
		Sink:      events,
		Normalizer: schemedata.LegacyNormalizer{
			ExtractPSSH:       cfg.Session.LegacyPSSHExtraction,
			ClearKeyCencAlias: cfg.Session.ClearKeyCencAlias,
		},
		Store: st,
	})
	if err != nil {
		return err
	}
	loop := manager.NewLoop()

	readiness := health.NewManager(version.Version)
	readiness.RegisterChecker(health.StoreChecker{Store: st})
	readiness.RegisterChecker(health.BreakerChecker{State: transport.BreakerState})
	readiness.RegisterChecker(health.ProvisioningChecker{Provisioned: engine.Provisioned})

	srv := &http.Server{
		Addr: cfg.API.ListenAddr,
		Handler: api.New(api.Deps{
			Manager:   mgr,
			Loop:      loop,
			Store:     st,
			Events:    events,
			Readiness: readiness,
			RateLimit: cfg.API.RateLimit,
			Mount:     mount,
		}).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	watcher := config.NewWatcher(configPath, cfg, func(next config.Config) {
		mgr.SetKeyRequestParams(next.License.EffectiveKeyRequestParams())
		xglog.Reconfigure(xglog.Config{Level: next.Log.Level, Service: "xg2g-drm", Version: version.Version})
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", srv.Addr).
			Str(xglog.FieldScheme, cfg.Scheme).
			Str("store", cfg.Store.Backend).
			Msg("drmd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx, expiryInterval) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if cerr := mgr.Close(shutdownCtx); cerr != nil {
			logger.Warn().Err(cerr).Msg("drm manager did not drain in time")
		}
		loop.Stop()
		<-loop.Done()
		return err
	})
	return g.Wait()
}
