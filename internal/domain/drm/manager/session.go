// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package manager

import (
	"context"
	"fmt"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
)

// Session is one DRM session, usually one per elementary stream. All fields
// are guarded by the owning manager's mu.
type Session struct {
	m   *Manager
	rec model.SessionRecord

	mode      model.Mode
	contentID string

	initData []byte
	mimeType string

	engineID model.EngineSessionID
	keySetID model.KeySetID
	handle   model.CryptoHandle
	lastErr  error

	awaitingProvisioning bool
	// reprovisioned is set once a key exchange has re-entered provisioning;
	// a second NotProvisioned answer is then terminal.
	reprovisioned bool

	ctx    context.Context
	cancel context.CancelFunc
	worker *Loop
}

// ID returns the manager-local session id.
func (s *Session) ID() string {
	return s.rec.SessionID
}

// State returns the current lifecycle state.
func (s *Session) State() model.SessionState {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.rec.State
}

// Mode returns the license mode the session was acquired with.
func (s *Session) Mode() model.Mode {
	return s.mode
}

// CryptoHandle returns the decryption context. It is only available while
// the session is OPENED or OPENED_WITH_KEYS.
func (s *Session) CryptoHandle() (model.CryptoHandle, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if !s.rec.State.IsOpen() {
		return nil, fmt.Errorf("%w: crypto handle unavailable in %s", ErrInvalidState, s.rec.State)
	}
	return s.handle, nil
}

// Error returns the last failure while the session is in ERROR, nil otherwise.
func (s *Session) Error() error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.rec.State != model.StateError {
		return nil
	}
	return s.lastErr
}

// OfflineKeySetID returns a copy of the persisted license handle, if any.
func (s *Session) OfflineKeySetID() model.KeySetID {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.keySetID.Clone()
}

// QueryKeyStatus asks the engine for the key status of this session. It
// needs an engine session.
func (s *Session) QueryKeyStatus() (map[string]string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if len(s.engineID) == 0 {
		return nil, fmt.Errorf("%w: no engine session in %s", ErrInvalidState, s.rec.State)
	}
	return s.m.queryKeyStatusLocked(s)
}

// RequiresSecureDecoder reports whether mimeType needs a secure decoder with
// this session's crypto handle. Same state precondition as CryptoHandle.
func (s *Session) RequiresSecureDecoder(mimeType string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if !s.rec.State.IsOpen() {
		return false, fmt.Errorf("%w: crypto handle unavailable in %s", ErrInvalidState, s.rec.State)
	}
	s.m.engineMu.Lock()
	defer s.m.engineMu.Unlock()
	return s.m.engine.RequiresSecureDecoder(s.handle, mimeType), nil
}

// Record returns a snapshot of the observable session state.
func (s *Session) Record() model.SessionRecord {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.rec
}

// clear drops every engine-side reference. Caller holds mu.
func (s *Session) clear() {
	s.engineID = nil
	s.handle = nil
	s.keySetID = nil
	s.initData = nil
	s.mimeType = ""
	s.lastErr = nil
	s.awaitingProvisioning = false
}
