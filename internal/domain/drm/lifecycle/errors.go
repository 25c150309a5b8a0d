// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"errors"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/ports"
)

var (
	ErrSchemeUnsupported = errors.New("drm scheme unsupported")
	ErrKeysExpired       = errors.New("offline license expired")
	ErrTransport         = errors.New("license transport failure")
	ErrEngine            = errors.New("decryption engine failure")
	ErrInvalidState      = errors.New("invalid session state")
	ErrIllegalTransition = errors.New("illegal lifecycle transition")
)

// KindClass maps an error kind to the sentinel it matches with errors.Is.
func KindClass(kind model.ErrorKind) error {
	switch kind {
	case model.KindSchemeUnsupported:
		return ErrSchemeUnsupported
	case model.KindNotProvisioned:
		return ports.ErrNotProvisioned
	case model.KindDeniedByServer:
		return ports.ErrDeniedByServer
	case model.KindKeysExpired:
		return ErrKeysExpired
	case model.KindTransport:
		return ErrTransport
	case model.KindEngine:
		return ErrEngine
	default:
		return nil
	}
}

// SessionError is a failure attributed to one session.
type SessionError struct {
	Kind model.ErrorKind
	Op   string
	Err  error
}

func (e *SessionError) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func (e *SessionError) Is(target error) bool {
	if target == nil {
		return false
	}
	class := KindClass(e.Kind)
	return class != nil && target == class
}

// NewSessionError wraps err with kind. A nil err yields the kind sentinel as cause.
func NewSessionError(kind model.ErrorKind, op string, err error) error {
	if err == nil {
		err = KindClass(kind)
	}
	return &SessionError{Kind: kind, Op: op, Err: err}
}

// Wrap classifies err and wraps it for op. Errors already carrying a kind are
// returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var serr *SessionError
	if errors.As(err, &serr) {
		return err
	}
	return &SessionError{Kind: KindOf(err), Op: op, Err: err}
}

// KindOf classifies an arbitrary error. Unknown failures are engine errors.
func KindOf(err error) model.ErrorKind {
	if err == nil {
		return model.KindNone
	}
	var serr *SessionError
	if errors.As(err, &serr) {
		return serr.Kind
	}
	var httpErr *ports.HTTPStatusError
	switch {
	case errors.Is(err, ports.ErrNotProvisioned):
		return model.KindNotProvisioned
	case errors.Is(err, ports.ErrDeniedByServer):
		return model.KindDeniedByServer
	case errors.Is(err, ErrSchemeUnsupported):
		return model.KindSchemeUnsupported
	case errors.Is(err, ErrKeysExpired):
		return model.KindKeysExpired
	case errors.Is(err, ErrTransport), errors.As(err, &httpErr):
		return model.KindTransport
	default:
		return model.KindEngine
	}
}
