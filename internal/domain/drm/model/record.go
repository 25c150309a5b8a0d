// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// SessionRecord is the observable part of a DRM session. The manager owns
// the live record; snapshots are handed out by value.
type SessionRecord struct {
	SessionID     string       `json:"sessionId"`
	Scheme        string       `json:"scheme"`
	State         SessionState `json:"state"`
	Mode          Mode         `json:"mode"`
	ContentID     string       `json:"contentId,omitempty"`
	EngineSession string       `json:"engineSession,omitempty"`
	HasKeySetID   bool         `json:"hasKeySetId"`
	LastErrorKind ErrorKind    `json:"lastErrorKind,omitempty"`
	LastError     string       `json:"lastError,omitempty"`
	CreatedAtUnix int64        `json:"createdAtUnix"`
	UpdatedAtUnix int64        `json:"updatedAtUnix"`
}
