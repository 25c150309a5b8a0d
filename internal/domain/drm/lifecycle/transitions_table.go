// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import "github.com/ManuGH/xg2g-drm/internal/domain/drm/model"

// Transition is a single allowed edge in the lifecycle state machine.
type Transition struct {
	From  model.SessionState
	To    model.SessionState
	Event EventKind
}

var transitionsTable = []Transition{
	// Open path
	{From: model.StateClosed, To: model.StateOpening, Event: EvOpenRequested},
	{From: model.StateOpening, To: model.StateOpened, Event: EvOpened},

	// Keys
	{From: model.StateOpened, To: model.StateOpenedWithKeys, Event: EvKeysLoaded},
	{From: model.StateOpenedWithKeys, To: model.StateOpenedWithKeys, Event: EvKeysLoaded},
	{From: model.StateOpenedWithKeys, To: model.StateOpened, Event: EvKeysLost},
	{From: model.StateOpened, To: model.StateOpened, Event: EvKeysLost},

	// Failures. A session holding keys is never demoted by a late error.
	{From: model.StateClosed, To: model.StateError, Event: EvFailed},
	{From: model.StateOpening, To: model.StateError, Event: EvFailed},
	{From: model.StateOpened, To: model.StateError, Event: EvFailed},
	{From: model.StateOpenedWithKeys, To: model.StateOpenedWithKeys, Event: EvFailed},
	{From: model.StateError, To: model.StateError, Event: EvFailed},

	// Release
	{From: model.StateClosed, To: model.StateReleased, Event: EvReleased},
	{From: model.StateOpening, To: model.StateReleased, Event: EvReleased},
	{From: model.StateOpened, To: model.StateReleased, Event: EvReleased},
	{From: model.StateOpenedWithKeys, To: model.StateReleased, Event: EvReleased},
	{From: model.StateError, To: model.StateReleased, Event: EvReleased},
}

// TransitionFor returns the allowed transition for a given state+event.
func TransitionFor(from model.SessionState, ev EventKind) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}
