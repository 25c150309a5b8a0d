// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"time"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
)

// ApplyTransition mutates the session record according to the transition.
func ApplyTransition(rec *model.SessionRecord, tr Transition, ev Event, now time.Time) {
	rec.State = tr.To
	switch {
	case ev.Kind == EvFailed:
		rec.LastErrorKind = ev.ErrorKind
		if ev.Cause != nil {
			rec.LastError = ev.Cause.Error()
		}
	case tr.To == model.StateReleased:
		rec.LastErrorKind = model.KindNone
		rec.LastError = ""
		rec.EngineSession = ""
		rec.HasKeySetID = false
	}
	rec.UpdatedAtUnix = now.Unix()
}
