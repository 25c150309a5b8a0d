// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package health

import (
	"context"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/store"
	"github.com/ManuGH/xg2g-drm/internal/resilience"
)

type pinger interface {
	HealthCheck(ctx context.Context) error
}

// StoreChecker probes the offline license store. Backends with a native
// ping use it; the rest are listed.
type StoreChecker struct {
	Store store.LicenseStore
}

func (StoreChecker) Name() string { return "license_store" }

func (c StoreChecker) Check(ctx context.Context) CheckResult {
	var err error
	if p, ok := c.Store.(pinger); ok {
		err = p.HealthCheck(ctx)
	} else {
		_, err = c.Store.ListLicenses(ctx)
	}
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// BreakerChecker reports the license server circuit. An open circuit
// degrades the daemon; existing sessions keep their keys.
type BreakerChecker struct {
	State func() resilience.State
}

func (BreakerChecker) Name() string { return "license_server" }

func (c BreakerChecker) Check(context.Context) CheckResult {
	switch st := c.State(); st {
	case resilience.StateClosed:
		return CheckResult{Status: StatusHealthy}
	default:
		return CheckResult{Status: StatusDegraded, Message: "circuit " + string(st)}
	}
}

// ProvisioningChecker reports whether the engine holds a device certificate.
type ProvisioningChecker struct {
	Provisioned func() bool
}

func (ProvisioningChecker) Name() string { return "provisioning" }

func (c ProvisioningChecker) Check(context.Context) CheckResult {
	if c.Provisioned() {
		return CheckResult{Status: StatusHealthy}
	}
	return CheckResult{Status: StatusDegraded, Message: "device not provisioned, first session will provision"}
}
