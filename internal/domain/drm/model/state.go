// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// SessionState is the lifecycle state of a DRM session.
type SessionState string

const (
	StateClosed         SessionState = "CLOSED"
	StateOpening        SessionState = "OPENING"
	StateOpened         SessionState = "OPENED"
	StateOpenedWithKeys SessionState = "OPENED_WITH_KEYS"
	StateError          SessionState = "ERROR"
	StateReleased       SessionState = "RELEASED"
)

// IsOpen reports whether the engine session exists and a crypto handle is bound.
func (s SessionState) IsOpen() bool {
	return s == StateOpened || s == StateOpenedWithKeys
}

// AcceptsProvisioning reports whether a provisioning outcome still applies to
// a session in this state. Anything else is stale.
func (s SessionState) AcceptsProvisioning() bool {
	return s == StateOpening || s.IsOpen()
}

// IsTerminal returns true once the session has been released.
func (s SessionState) IsTerminal() bool {
	return s == StateReleased
}

// Mode selects which license operation a session performs once opened.
type Mode string

const (
	// ModePlayback loads and refreshes (if necessary) a license for playback.
	// Supports streaming and offline licenses.
	ModePlayback Mode = "PLAYBACK"
	// ModeQuery restores an offline license so its status can be queried.
	ModeQuery Mode = "QUERY"
	// ModeDownload downloads an offline license or renews an existing one.
	ModeDownload Mode = "DOWNLOAD"
	// ModeRelease releases an existing offline license.
	ModeRelease Mode = "RELEASE"
)

// RequiresKeySetID reports whether the mode can only operate on an existing
// offline license.
func (m Mode) RequiresKeySetID() bool {
	return m == ModeQuery || m == ModeRelease
}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModePlayback, ModeQuery, ModeDownload, ModeRelease:
		return true
	}
	return false
}

// ParseMode maps a case-sensitive mode name to a Mode.
func ParseMode(s string) (Mode, bool) {
	m := Mode(s)
	return m, m.Valid()
}

// KeyType is the kind of license requested from the engine.
type KeyType int

const (
	KeyTypeStreaming KeyType = iota + 1
	KeyTypeOffline
	KeyTypeRelease
)

func (k KeyType) String() string {
	switch k {
	case KeyTypeStreaming:
		return "streaming"
	case KeyTypeOffline:
		return "offline"
	case KeyTypeRelease:
		return "release"
	default:
		return "unknown"
	}
}
