// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command drmd runs the DRM session manager behind an admin HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/xg2g-drm/internal/config"
	xglog "github.com/ManuGH/xg2g-drm/internal/log"
	"github.com/ManuGH/xg2g-drm/internal/version"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(runHealthcheckCLI(os.Args[2:]))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	simLicense := flag.Bool("sim-license-server", false, "serve a simulated license server under /sim/license and use it")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	xglog.Configure(xglog.Config{Level: "info", Service: "xg2g-drm", Version: version.Version})
	logger := xglog.WithComponent("daemon")

	cfg, err := config.Load(strings.TrimSpace(*configPath))
	if err != nil {
		logger.Fatal().Err(err).Str(xglog.FieldEvent, "config.load_failed").Msg("failed to load configuration")
	}
	xglog.Reconfigure(xglog.Config{Level: cfg.Log.Level, Service: "xg2g-drm", Version: version.Version})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, strings.TrimSpace(*configPath), *simLicense); err != nil {
		logger.Error().Err(err).Msg("drmd exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("drmd stopped")
}
