// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
	"github.com/ManuGH/xg2g-drm/internal/persistence/sqlite"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS offline_licenses (
		content_id TEXT PRIMARY KEY,
		scheme TEXT NOT NULL,
		key_set_id BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`ALTER TABLE offline_licenses ADD COLUMN renew_count INTEGER NOT NULL DEFAULT 0`,
}

// SqliteStore implements LicenseStore using SQLite.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens (and migrates) the license database at dbPath.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(context.Background(), db, sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("license store: migration failed: %w", err)
	}
	return &SqliteStore{DB: db}, nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

func (s *SqliteStore) GetLicense(ctx context.Context, contentID string) (*model.OfflineLicense, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT content_id, scheme, key_set_id, created_at, updated_at, renew_count
		FROM offline_licenses WHERE content_id = ?`, contentID)
	lic, err := scanLicense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get license %q: %w", contentID, err)
	}
	return lic, nil
}

func (s *SqliteStore) PutLicense(ctx context.Context, lic *model.OfflineLicense) error {
	if err := validate(lic); err != nil {
		return err
	}
	lic = stamp(lic)
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO offline_licenses (content_id, scheme, key_set_id, created_at, updated_at, renew_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_id) DO UPDATE SET
			scheme = excluded.scheme,
			key_set_id = excluded.key_set_id,
			updated_at = excluded.updated_at,
			renew_count = excluded.renew_count`,
		lic.ContentID, lic.Scheme, []byte(lic.KeySetID), lic.CreatedAtUnix, lic.UpdatedAtUnix, lic.RenewCount)
	if err != nil {
		return fmt.Errorf("put license %q: %w", lic.ContentID, err)
	}
	return nil
}

func (s *SqliteStore) DeleteLicense(ctx context.Context, contentID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM offline_licenses WHERE content_id = ?`, contentID)
	return err
}

func (s *SqliteStore) ListLicenses(ctx context.Context) ([]*model.OfflineLicense, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT content_id, scheme, key_set_id, created_at, updated_at, renew_count
		FROM offline_licenses ORDER BY content_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.OfflineLicense
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lic)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLicense(sc scanner) (*model.OfflineLicense, error) {
	var lic model.OfflineLicense
	var keySetID []byte
	if err := sc.Scan(&lic.ContentID, &lic.Scheme, &keySetID, &lic.CreatedAtUnix, &lic.UpdatedAtUnix, &lic.RenewCount); err != nil {
		return nil, err
	}
	lic.KeySetID = model.KeySetID(keySetID)
	return &lic, nil
}
