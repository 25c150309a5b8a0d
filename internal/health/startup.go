// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/xg2g-drm/internal/config"
	"github.com/ManuGH/xg2g-drm/internal/log"
)

// PerformStartupChecks validates the environment before the daemon starts
// serving.
func PerformStartupChecks(cfg config.Config) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkListenAddr(logger, cfg.API.ListenAddr); err != nil {
		return err
	}
	if err := checkLicenseURLs(logger, cfg.License); err != nil {
		return err
	}
	if err := checkStore(logger, cfg.Store); err != nil {
		return fmt.Errorf("license store check failed: %w", err)
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkListenAddr(logger zerolog.Logger, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid API listen address %q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid API listen port %q in %q", port, addr)
	}
	logger.Debug().Str("addr", addr).Msg("API listen address is valid")
	return nil
}

func checkLicenseURLs(logger zerolog.Logger, lc config.LicenseConfig) error {
	for name, raw := range map[string]string{"license": lc.LicenseURL(), "provisioning": lc.ProvisioningURL} {
		if raw == "" {
			logger.Warn().Str("url", name).Msg("URL not configured; requests must carry their own")
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s URL: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%s URL scheme must be http or https, got: %s", name, u.Scheme)
		}
	}
	return nil
}

func checkStore(logger zerolog.Logger, sc config.StoreConfig) error {
	switch sc.Backend {
	case "memory":
		logger.Warn().Msg("in-memory license store; offline licenses are lost on restart")
		return nil
	case "redis":
		return nil
	}

	if err := os.MkdirAll(sc.Path, 0o750); err != nil {
		return fmt.Errorf("create store directory %s: %w", sc.Path, err)
	}
	probe := filepath.Join(sc.Path, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("store directory is not writable: %s (error: %v)", sc.Path, err)
	}
	_ = os.Remove(probe)

	tmp := filepath.Clean(os.TempDir())
	dir := filepath.Clean(sc.Path)
	if tmp != "." && (dir == tmp || strings.HasPrefix(dir, tmp+string(filepath.Separator))) {
		logger.Warn().Str("path", sc.Path).Msg("license store is under temp; offline licenses may be lost on reboot")
	}
	return nil
}
