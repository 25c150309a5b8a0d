// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
)

// EventSink is notified of license outcomes. Calls are advisory and arrive on
// the playback loop; implementations must not block.
type EventSink interface {
	OnKeysLoaded(sessionID string)
	OnKeysRestored(sessionID string)
	OnKeysRemoved(sessionID string)
	OnSessionError(sessionID string, err error)
}

// NopSink discards every notification.
type NopSink struct{}

func (NopSink) OnKeysLoaded(string)          {}
func (NopSink) OnKeysRestored(string)        {}
func (NopSink) OnKeysRemoved(string)         {}
func (NopSink) OnSessionError(string, error) {}

// Normalizer rewrites scheme data for engines that need legacy formats.
type Normalizer interface {
	Normalize(managerScheme uuid.UUID, data model.SchemeData) model.SchemeData
}

// OfflineLicenseStore persists offline key-set ids by content id.
// GetLicense returns (nil, nil) when no license is stored.
type OfflineLicenseStore interface {
	GetLicense(ctx context.Context, contentID string) (*model.OfflineLicense, error)
	PutLicense(ctx context.Context, lic *model.OfflineLicense) error
	DeleteLicense(ctx context.Context, contentID string) error
}
