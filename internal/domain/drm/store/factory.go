// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/xg2g-drm/internal/persistence/sqlite"
)

// Backend names accepted by OpenLicenseStore.
const (
	BackendMemory = "memory"
	BackendSqlite = "sqlite"
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendFile   = "file"
)

// Options selects and configures a license store backend.
type Options struct {
	Backend string
	// Path is the data directory for sqlite, badger and file backends.
	Path  string
	Redis RedisConfig
}

// OpenLicenseStore returns the configured backend.
func OpenLicenseStore(opts Options, logger zerolog.Logger) (LicenseStore, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSqlite:
		path := filepath.Join(opts.Path, "licenses.sqlite")
		if err := verifySqlite(path, logger); err != nil {
			return nil, err
		}
		return NewSqliteStore(path)
	case BackendBadger:
		return OpenBadgerStore(filepath.Join(opts.Path, "licenses.badger"))
	case BackendRedis:
		return NewRedisStore(opts.Redis, logger)
	case BackendFile:
		return OpenFileStore(filepath.Join(opts.Path, "licenses.json"))
	default:
		return nil, fmt.Errorf("unknown license store backend: %q", opts.Backend)
	}
}

// verifySqlite runs a quick integrity check on an existing database file.
func verifySqlite(path string, logger zerolog.Logger) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	issues, err := sqlite.VerifyIntegrity(path, "quick")
	if err != nil {
		return fmt.Errorf("verify license database: %w", err)
	}
	if len(issues) > 0 {
		logger.Error().Strs("issues", issues).Str("path", path).Msg("license database failed integrity check")
		return fmt.Errorf("license database %s is corrupt: %s", path, issues[0])
	}
	return nil
}
