// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package store persists offline license handles so downloaded licenses
// survive process restarts.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/ports"
)

var ErrInvalidLicense = errors.New("invalid offline license")

// LicenseStore is an OfflineLicenseStore with listing and lifecycle.
type LicenseStore interface {
	ports.OfflineLicenseStore
	ListLicenses(ctx context.Context) ([]*model.OfflineLicense, error)
	Close() error
}

func validate(lic *model.OfflineLicense) error {
	if lic == nil || lic.ContentID == "" {
		return fmt.Errorf("%w: content id is required", ErrInvalidLicense)
	}
	if lic.KeySetID.Empty() {
		return fmt.Errorf("%w: key-set id is required", ErrInvalidLicense)
	}
	return nil
}

// stamp fills timestamps a caller left empty.
func stamp(lic *model.OfflineLicense) *model.OfflineLicense {
	out := *lic
	out.KeySetID = lic.KeySetID.Clone()
	now := time.Now().Unix()
	if out.CreatedAtUnix == 0 {
		out.CreatedAtUnix = now
	}
	if out.UpdatedAtUnix == 0 {
		out.UpdatedAtUnix = now
	}
	return &out
}

func licenseKey(contentID string) string {
	return "drm:license:" + contentID
}
