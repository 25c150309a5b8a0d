// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
)

// MemoryStore keeps licenses in process memory. Not durable; for tests and
// the QUERY-only daemon profile.
type MemoryStore struct {
	mu       sync.RWMutex
	licenses map[string]*model.OfflineLicense
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{licenses: make(map[string]*model.OfflineLicense)}
}

func (m *MemoryStore) GetLicense(ctx context.Context, contentID string) (*model.OfflineLicense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lic, ok := m.licenses[contentID]
	if !ok {
		return nil, nil
	}
	return stamp(lic), nil
}

func (m *MemoryStore) PutLicense(ctx context.Context, lic *model.OfflineLicense) error {
	if err := validate(lic); err != nil {
		return err
	}
	m.mu.Lock()
	m.licenses[lic.ContentID] = stamp(lic)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteLicense(ctx context.Context, contentID string) error {
	m.mu.Lock()
	delete(m.licenses, contentID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListLicenses(ctx context.Context) ([]*model.OfflineLicense, error) {
	m.mu.RLock()
	out := make([]*model.OfflineLicense, 0, len(m.licenses))
	for _, lic := range m.licenses {
		out = append(out, stamp(lic))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ContentID < out[j].ContentID })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
