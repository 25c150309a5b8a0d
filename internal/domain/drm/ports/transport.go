// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
)

// Transport executes license and provisioning exchanges against remote
// servers. Calls may block; the manager never invokes them on the playback
// loop.
type Transport interface {
	ExecuteKeyRequest(ctx context.Context, scheme uuid.UUID, req model.KeyRequest) ([]byte, error)
	ExecuteProvisionRequest(ctx context.Context, scheme uuid.UUID, req model.ProvisionRequest) ([]byte, error)
}

// TransportFuncs adapts plain functions to Transport.
type TransportFuncs struct {
	KeyFunc       func(ctx context.Context, scheme uuid.UUID, req model.KeyRequest) ([]byte, error)
	ProvisionFunc func(ctx context.Context, scheme uuid.UUID, req model.ProvisionRequest) ([]byte, error)
}

func (f TransportFuncs) ExecuteKeyRequest(ctx context.Context, scheme uuid.UUID, req model.KeyRequest) ([]byte, error) {
	return f.KeyFunc(ctx, scheme, req)
}

func (f TransportFuncs) ExecuteProvisionRequest(ctx context.Context, scheme uuid.UUID, req model.ProvisionRequest) ([]byte, error) {
	return f.ProvisionFunc(ctx, scheme, req)
}

var _ Transport = TransportFuncs{}
