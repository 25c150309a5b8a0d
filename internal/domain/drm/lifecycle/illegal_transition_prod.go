// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build !debug

package lifecycle

import (
	"fmt"
	"time"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
)

// illegalTransition leaves rec untouched and reports the violation.
func illegalTransition(rec *model.SessionRecord, from model.SessionState, ev EventKind, now time.Time) (Transition, error) {
	_ = rec
	_ = now
	return Transition{From: from, To: from, Event: ev}, fmt.Errorf("%w: %s + %v", ErrIllegalTransition, from, ev)
}
