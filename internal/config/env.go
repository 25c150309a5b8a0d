// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/xg2g-drm/internal/log"
)

// Environment variable names. All of them override the YAML file.
const (
	EnvScheme            = "XG2G_DRM_SCHEME"
	EnvLicenseURL        = "XG2G_DRM_LICENSE_URL"
	EnvServerPrefix      = "XG2G_DRM_LICENSE_SERVER_PREFIX"
	EnvProvisioningURL   = "XG2G_DRM_PROVISIONING_URL"
	EnvLicenseTimeout    = "XG2G_DRM_LICENSE_TIMEOUT"
	EnvLicenseRateLimit  = "XG2G_DRM_LICENSE_RATE_LIMIT"
	EnvPlayReadyData     = "XG2G_DRM_PLAYREADY_CUSTOM_DATA"
	EnvRenewalThreshold  = "XG2G_DRM_RENEWAL_THRESHOLD"
	EnvSessionSharing    = "XG2G_DRM_SESSION_SHARING"
	EnvStoreBackend      = "XG2G_DRM_STORE_BACKEND"
	EnvStorePath         = "XG2G_DRM_STORE_PATH"
	EnvRedisAddr         = "XG2G_DRM_REDIS_ADDR"
	EnvRedisPassword     = "XG2G_DRM_REDIS_PASSWORD"
	EnvListenAddr        = "XG2G_DRM_LISTEN_ADDR"
	EnvLogLevel          = "XG2G_DRM_LOG_LEVEL"
	EnvTelemetryEnabled  = "XG2G_DRM_TELEMETRY_ENABLED"
	EnvTelemetryEndpoint = "XG2G_DRM_OTLP_ENDPOINT"
)

func applyEnv(cfg *Config) {
	cfg.Scheme = ParseString(EnvScheme, cfg.Scheme)
	cfg.License.URL = ParseString(EnvLicenseURL, cfg.License.URL)
	cfg.License.ServerPrefix = ParseString(EnvServerPrefix, cfg.License.ServerPrefix)
	cfg.License.ProvisioningURL = ParseString(EnvProvisioningURL, cfg.License.ProvisioningURL)
	cfg.License.Timeout = ParseDuration(EnvLicenseTimeout, cfg.License.Timeout)
	cfg.License.RateLimit = ParseFloat(EnvLicenseRateLimit, cfg.License.RateLimit)
	cfg.License.PlayReadyCustomData = ParseString(EnvPlayReadyData, cfg.License.PlayReadyCustomData)
	cfg.Session.RenewalThreshold = ParseDuration(EnvRenewalThreshold, cfg.Session.RenewalThreshold)
	cfg.Session.SessionSharing = ParseBool(EnvSessionSharing, cfg.Session.SessionSharing)
	cfg.Store.Backend = ParseString(EnvStoreBackend, cfg.Store.Backend)
	cfg.Store.Path = ParseString(EnvStorePath, cfg.Store.Path)
	cfg.Store.RedisAddr = ParseString(EnvRedisAddr, cfg.Store.RedisAddr)
	cfg.Store.RedisPassword = ParseString(EnvRedisPassword, cfg.Store.RedisPassword)
	cfg.API.ListenAddr = ParseString(EnvListenAddr, cfg.API.ListenAddr)
	cfg.Log.Level = ParseString(EnvLogLevel, cfg.Log.Level)
	cfg.Telemetry.Enabled = ParseBool(EnvTelemetryEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = ParseString(EnvTelemetryEndpoint, cfg.Telemetry.Endpoint)
}

// ParseString reads a string from the environment or returns defaultValue.
// Values of keys that look like secrets are never logged.
func ParseString(key, defaultValue string) string {
	return parseEnv(log.WithComponent("config"), key, defaultValue, func(v string) (string, error) { return v, nil })
}

// ParseInt reads an integer, falling back to defaultValue on parse errors.
func ParseInt(key string, defaultValue int) int {
	return parseEnv(log.WithComponent("config"), key, defaultValue, strconv.Atoi)
}

// ParseFloat reads a float64, falling back to defaultValue on parse errors.
func ParseFloat(key string, defaultValue float64) float64 {
	return parseEnv(log.WithComponent("config"), key, defaultValue, func(v string) (float64, error) {
		return strconv.ParseFloat(v, 64)
	})
}

// ParseDuration reads a Go duration ("5s"), falling back to defaultValue on
// parse errors.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(log.WithComponent("config"), key, defaultValue, time.ParseDuration)
}

// ParseBool accepts true/false, 1/0 and yes/no (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	return parseEnv(log.WithComponent("config"), key, defaultValue, parseBool)
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

func parseEnv[T any](logger zerolog.Logger, key string, defaultValue T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		logger.Debug().
			Str("key", key).
			Interface("default", redact(key, defaultValue)).
			Str("source", "default").
			Msg("using default value")
		return defaultValue
	}
	v, err := parse(raw)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Interface("value", redact(key, raw)).
			Interface("default", redact(key, defaultValue)).
			Msg("invalid value in environment variable, using default")
		return defaultValue
	}
	logger.Debug().
		Str("key", key).
		Interface("value", redact(key, v)).
		Str("source", "environment").
		Msg("using environment variable")
	return v
}

func redact(key string, v any) any {
	lower := strings.ToLower(key)
	if strings.Contains(lower, "password") || strings.Contains(lower, "custom_data") {
		return "***"
	}
	return v
}
