// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"encoding/hex"
	"strings"
)

// EngineSessionID is the opaque device-session handle issued by the engine.
type EngineSessionID []byte

// Key returns a map key for the handle.
func (id EngineSessionID) Key() string {
	return hex.EncodeToString(id)
}

// String renders the handle as space separated hex bytes ("0x0A 1B ...").
func (id EngineSessionID) String() string {
	if len(id) == 0 {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("0x")
	for i, c := range id {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
	}
	return b.String()
}

// KeySetID is the opaque handle of a persisted (offline) license.
type KeySetID []byte

// Empty reports whether the id carries no bytes.
func (k KeySetID) Empty() bool { return len(k) == 0 }

// Clone returns an independent copy.
func (k KeySetID) Clone() KeySetID {
	if k == nil {
		return nil
	}
	out := make(KeySetID, len(k))
	copy(out, k)
	return out
}

// CryptoHandle is the opaque decryption context bound to an open session.
type CryptoHandle interface{}

// KeyRequest is an engine-built license request.
type KeyRequest struct {
	Data []byte
	// LicenseServerURL is set when the request carries its own destination.
	LicenseServerURL string
}

// ProvisionRequest is an engine-built device provisioning request.
type ProvisionRequest struct {
	Data       []byte
	DefaultURL string
}

// Key status properties reported by Widevine engines.
const (
	PropLicenseDurationRemaining  = "LicenseDurationRemaining"
	PropPlaybackDurationRemaining = "PlaybackDurationRemaining"
)

// PropSessionSharing is the engine property enabling session sharing.
const PropSessionSharing = "sessionSharing"
