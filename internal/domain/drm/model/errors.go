// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// ErrorKind classifies session failures. Keep these stable: metrics labels
// and event sink consumers depend on them.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindSchemeUnsupported ErrorKind = "SCHEME_UNSUPPORTED"
	KindNotProvisioned    ErrorKind = "NOT_PROVISIONED"
	KindDeniedByServer    ErrorKind = "DENIED_BY_SERVER"
	KindKeysExpired       ErrorKind = "KEYS_EXPIRED"
	KindTransport         ErrorKind = "TRANSPORT_ERROR"
	KindEngine            ErrorKind = "ENGINE_ERROR"
)

// Recoverable reports whether the manager retries on its own.
func (k ErrorKind) Recoverable() bool {
	return k == KindNotProvisioned
}
