// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads the drmd configuration. Precedence is defaults, then
// the YAML file, then XG2G_DRM_* environment variables.
package config

import (
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
	"github.com/ManuGH/xg2g-drm/internal/telemetry"
)

type Config struct {
	// Scheme is a well-known name (widevine, playready, clearkey) or a UUID.
	Scheme    string           `yaml:"scheme" validate:"required,drmscheme"`
	License   LicenseConfig    `yaml:"license"`
	Session   SessionConfig    `yaml:"session"`
	Store     StoreConfig      `yaml:"store"`
	API       APIConfig        `yaml:"api"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Log       LogConfig        `yaml:"log"`
}

type LicenseConfig struct {
	// ServerPrefix derives the Widevine license URL as <prefix>/wv when URL
	// is empty.
	ServerPrefix        string            `yaml:"serverPrefix" validate:"omitempty,url"`
	URL                 string            `yaml:"url" validate:"omitempty,url"`
	ProvisioningURL     string            `yaml:"provisioningUrl" validate:"omitempty,url"`
	Headers             map[string]string `yaml:"headers"`
	KeyRequestParams    map[string]string `yaml:"keyRequestParams"`
	PlayReadyCustomData string            `yaml:"playReadyCustomData"`
	Timeout             time.Duration     `yaml:"timeout" validate:"gt=0"`
	// RateLimit is requests per second towards the license server. 0 disables it.
	RateLimit float64       `yaml:"rateLimit" validate:"gte=0"`
	Burst     int           `yaml:"burst" validate:"gte=0"`
	Breaker   BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	Threshold    int           `yaml:"threshold" validate:"gte=1"`
	ResetTimeout time.Duration `yaml:"resetTimeout" validate:"gt=0"`
}

type SessionConfig struct {
	RenewalThreshold     time.Duration `yaml:"renewalThreshold" validate:"gte=0"`
	SessionSharing       bool          `yaml:"sessionSharing"`
	LegacyPSSHExtraction bool          `yaml:"legacyPsshExtraction"`
	ClearKeyCencAlias    bool          `yaml:"clearKeyCencAlias"`
	StoreTimeout         time.Duration `yaml:"storeTimeout" validate:"gt=0"`
}

type StoreConfig struct {
	Backend       string `yaml:"backend" validate:"oneof=memory sqlite badger redis file"`
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb" validate:"gte=0"`
}

type APIConfig struct {
	ListenAddr string `yaml:"listenAddr" validate:"required,hostname_port"`
	// RateLimit is requests per minute per client IP. 0 disables it.
	RateLimit int `yaml:"rateLimit" validate:"gte=0"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Scheme: "widevine",
		License: LicenseConfig{
			Timeout:   30 * time.Second,
			RateLimit: 10,
			Burst:     5,
			Breaker:   BreakerConfig{Threshold: 5, ResetTimeout: 30 * time.Second},
		},
		Session: SessionConfig{
			RenewalThreshold:     60 * time.Second,
			SessionSharing:       true,
			LegacyPSSHExtraction: true,
			ClearKeyCencAlias:    true,
			StoreTimeout:         5 * time.Second,
		},
		Store: StoreConfig{Backend: "memory"},
		API:   APIConfig{ListenAddr: "127.0.0.1:8089", RateLimit: 120},
		Telemetry: telemetry.Config{
			ServiceName:  "xg2g-drm",
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
		Log: LogConfig{Level: "info"},
	}
}

// SchemeID resolves Scheme to the system UUID.
func (c Config) SchemeID() (uuid.UUID, error) {
	return model.ParseScheme(c.Scheme)
}

// LicenseURL returns the effective key request URL.
func (c LicenseConfig) LicenseURL() string {
	if c.URL != "" || c.ServerPrefix == "" {
		return c.URL
	}
	return strings.TrimRight(c.ServerPrefix, "/") + "/wv"
}

// EffectiveKeyRequestParams merges the configured optional parameters with
// the PlayReady custom data.
func (c LicenseConfig) EffectiveKeyRequestParams() map[string]string {
	out := make(map[string]string, len(c.KeyRequestParams)+1)
	maps.Copy(out, c.KeyRequestParams)
	if c.PlayReadyCustomData != "" {
		out[model.PlayReadyCustomDataKey] = c.PlayReadyCustomData
	}
	return out
}
