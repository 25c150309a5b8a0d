// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import "github.com/ManuGH/xg2g-drm/internal/domain/drm/model"

// EventKind is a domain event in the DRM session lifecycle.
type EventKind int

const (
	EvUnknown EventKind = iota
	EvOpenRequested
	EvOpened
	EvKeysLoaded
	EvKeysLost // key expiry or re-provisioning while open
	EvFailed
	EvReleased
)

func (k EventKind) String() string {
	switch k {
	case EvOpenRequested:
		return "open_requested"
	case EvOpened:
		return "opened"
	case EvKeysLoaded:
		return "keys_loaded"
	case EvKeysLost:
		return "keys_lost"
	case EvFailed:
		return "failed"
	case EvReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Event carries optional domain metadata for a transition.
type Event struct {
	Kind      EventKind
	ErrorKind model.ErrorKind
	Cause     error
}
