// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// OfflineLicense is the persisted record of a downloaded license.
type OfflineLicense struct {
	ContentID     string   `json:"contentId"`
	Scheme        string   `json:"scheme"`
	KeySetID      KeySetID `json:"keySetId"`
	CreatedAtUnix int64    `json:"createdAtUnix"`
	UpdatedAtUnix int64    `json:"updatedAtUnix"`
	// RenewCount counts successful offline renewals after the first download.
	RenewCount int `json:"renewCount"`
}
