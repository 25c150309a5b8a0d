// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package manager

import (
	"errors"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/lifecycle"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
)

var (
	ErrLoopMismatch     = errors.New("manager is bound to a different playback loop")
	ErrNilLoop          = errors.New("playback loop is required")
	ErrLoopStopped      = errors.New("loop stopped")
	ErrSessionReleased  = errors.New("session already released")
	ErrForeignSession   = errors.New("session belongs to another manager")
	ErrKeySetIDRequired = errors.New("mode requires an offline key-set id")
	ErrInvalidMode      = errors.New("invalid drm mode")
	ErrManagerClosed    = errors.New("drm manager closed")

	ErrInvalidState      = lifecycle.ErrInvalidState
	ErrSchemeUnsupported = lifecycle.ErrSchemeUnsupported
	ErrKeysExpired       = lifecycle.ErrKeysExpired
)

// transportError marks a failed network exchange. Errors that already carry
// a kind keep it.
func transportError(op string, err error) error {
	var serr *lifecycle.SessionError
	if errors.As(err, &serr) {
		return err
	}
	return lifecycle.NewSessionError(model.KindTransport, op, err)
}
