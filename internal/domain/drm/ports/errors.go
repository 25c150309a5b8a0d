// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ports

import (
	"errors"
	"fmt"
)

// Engine contract errors. Implementations wrap these so the manager can
// classify failures with errors.Is.
var (
	// ErrNotProvisioned signals that the device needs a provisioning exchange
	// before the engine can open sessions or accept key responses.
	ErrNotProvisioned = errors.New("device not provisioned")
	// ErrDeniedByServer signals that the provisioning server rejected the
	// device.
	ErrDeniedByServer = errors.New("provisioning denied by server")
)

// HTTPStatusError reports a non-2xx answer from a license or provisioning
// server.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "license server error"
	}
	return fmt.Sprintf("license server %s answered %d", e.URL, e.StatusCode)
}
