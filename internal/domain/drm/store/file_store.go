// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
)

// FileStore keeps all licenses in a single JSON document. Every write
// replaces the file atomically.
type FileStore struct {
	mu       sync.Mutex
	path     string
	licenses map[string]*model.OfflineLicense
}

type fileDocument struct {
	Version  int                     `json:"version"`
	Licenses []*model.OfflineLicense `json:"licenses"`
}

const fileDocumentVersion = 1

func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create license dir: %w", err)
	}
	s := &FileStore{path: path, licenses: make(map[string]*model.OfflineLicense)}

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read license file: %w", err)
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode license file %s: %w", path, err)
	}
	if doc.Version != fileDocumentVersion {
		return nil, fmt.Errorf("license file %s: unsupported version %d", path, doc.Version)
	}
	for _, lic := range doc.Licenses {
		if validate(lic) == nil {
			s.licenses[lic.ContentID] = lic
		}
	}
	return s, nil
}

func (s *FileStore) GetLicense(ctx context.Context, contentID string) (*model.OfflineLicense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lic, ok := s.licenses[contentID]
	if !ok {
		return nil, nil
	}
	return stamp(lic), nil
}

func (s *FileStore) PutLicense(ctx context.Context, lic *model.OfflineLicense) error {
	if err := validate(lic); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.licenses[lic.ContentID]
	s.licenses[lic.ContentID] = stamp(lic)
	if err := s.flushLocked(); err != nil {
		if had {
			s.licenses[lic.ContentID] = prev
		} else {
			delete(s.licenses, lic.ContentID)
		}
		return err
	}
	return nil
}

func (s *FileStore) DeleteLicense(ctx context.Context, contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.licenses[contentID]
	if !had {
		return nil
	}
	delete(s.licenses, contentID)
	if err := s.flushLocked(); err != nil {
		s.licenses[contentID] = prev
		return err
	}
	return nil
}

func (s *FileStore) ListLicenses(ctx context.Context) ([]*model.OfflineLicense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked(), nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) sortedLocked() []*model.OfflineLicense {
	out := make([]*model.OfflineLicense, 0, len(s.licenses))
	for _, lic := range s.licenses {
		out = append(out, stamp(lic))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentID < out[j].ContentID })
	return out
}

func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(fileDocument{Version: fileDocumentVersion, Licenses: s.sortedLocked()}, "", "  ")
	if err != nil {
		return err
	}

	pending, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending license file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write license file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace license file: %w", err)
	}
	return nil
}
