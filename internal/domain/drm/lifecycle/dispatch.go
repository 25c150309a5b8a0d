// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"time"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
)

// Dispatch resolves the next transition for ev and applies it to rec.
// It is the only place that mutates rec.State.
func Dispatch(rec *model.SessionRecord, ev Event, now time.Time) (Transition, error) {
	if rec.State.IsTerminal() {
		return illegalTransition(rec, rec.State, ev.Kind, now)
	}
	tr, ok := TransitionFor(rec.State, ev.Kind)
	if !ok {
		return illegalTransition(rec, rec.State, ev.Kind, now)
	}
	ApplyTransition(rec, tr, ev, now)
	return tr, nil
}
