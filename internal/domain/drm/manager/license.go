// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package manager

import (
	"context"
	"errors"
	"math"
	"strconv"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/lifecycle"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/ports"
	"github.com/ManuGH/xg2g-drm/internal/log"
)

// unboundedValidity is reported for schemes without license duration.
const unboundedValidity = math.MaxInt64

// doLicense performs the license operation selected by the session mode.
// Caller holds mu.
func (m *Manager) doLicense(s *Session) {
	switch s.mode {
	case model.ModePlayback, model.ModeQuery:
		if s.keySetID.Empty() {
			m.postKeyRequest(s, model.KeyTypeStreaming)
			return
		}
		if !m.restoreKeys() || !s.rec.State.IsOpen() {
			return
		}
		remaining := m.licenseDurationRemaining(s)
		m.sessionLogger(s).Debug().Int64(log.FieldRemaining, remaining).Msg("offline license restored")
		switch {
		case remaining <= 0:
			m.onError(s, lifecycle.NewSessionError(model.KindKeysExpired, "restore", nil))
		case s.mode == model.ModePlayback && remaining <= int64(m.renewalThreshold.Seconds()):
			m.postKeyRequest(s, model.KeyTypeOffline)
		default:
			m.transition(s, lifecycle.Event{Kind: lifecycle.EvKeysLoaded})
			id := s.rec.SessionID
			m.notify(func(sink ports.EventSink) { sink.OnKeysRestored(id) })
		}

	case model.ModeDownload:
		if s.keySetID.Empty() {
			m.postKeyRequest(s, model.KeyTypeOffline)
			return
		}
		if m.restoreKeys() && s.rec.State.IsOpen() {
			m.postKeyRequest(s, model.KeyTypeOffline)
		}

	case model.ModeRelease:
		if m.restoreKeys() && s.rec.State.IsOpen() {
			m.postKeyRequest(s, model.KeyTypeRelease)
		}
	}
}

// restoreKeys loads the offline license of every open session that carries
// one. It reports whether at least one restore succeeded. Caller holds mu.
func (m *Manager) restoreKeys() bool {
	restored := false
	for _, s := range m.sessions {
		if len(s.engineID) == 0 || s.keySetID.Empty() || !s.rec.State.IsOpen() {
			continue
		}
		m.engineMu.Lock()
		err := m.engine.RestoreKeys(s.engineID, s.keySetID)
		m.engineMu.Unlock()
		if err != nil {
			m.sessionLogger(s).Warn().Err(err).Msg("restore keys failed")
			m.onError(s, lifecycle.Wrap("restore keys", err))
			continue
		}
		restored = true
	}
	return restored
}

// licenseDurationRemaining returns the remaining offline license validity in
// seconds. Only Widevine reports a duration. Caller holds mu.
func (m *Manager) licenseDurationRemaining(s *Session) int64 {
	if m.scheme != model.WidevineUUID {
		return unboundedValidity
	}
	status, err := m.queryKeyStatusLocked(s)
	if err != nil {
		m.sessionLogger(s).Warn().Err(err).Msg("query key status failed")
		return 0
	}
	license := parseSeconds(status[model.PropLicenseDurationRemaining])
	playback := parseSeconds(status[model.PropPlaybackDurationRemaining])
	return min(license, playback)
}

func parseSeconds(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (m *Manager) queryKeyStatusLocked(s *Session) (map[string]string, error) {
	m.engineMu.Lock()
	defer m.engineMu.Unlock()
	return m.engine.QueryKeyStatus(s.engineID)
}

// postKeyRequest builds a key request and hands it to the session's request
// worker. Caller holds mu.
func (m *Manager) postKeyRequest(s *Session, keyType model.KeyType) {
	scope := keyScope(s, keyType)
	params := cloneParams(m.keyParams)

	m.engineMu.Lock()
	req, err := m.engine.GetKeyRequest(scope, s.initData, s.mimeType, keyType, params)
	m.engineMu.Unlock()
	if err != nil {
		keyRequestsTotal.WithLabelValues(keyType.String(), "engine_error").Inc()
		m.onKeyError(s, lifecycle.Wrap("key request", err))
		return
	}

	if s.worker == nil {
		s.worker = startLoop(m.workers.Go)
	}
	ctx := s.ctx
	posted := s.worker.post(m, tagCall, func() {
		resp, err := m.transport.ExecuteKeyRequest(ctx, m.scheme, req)
		m.postResult(tagKeyResponse, func() { m.onKeyResponse(s, keyType, resp, err) })
	})
	if !posted {
		m.sessionLogger(s).Debug().Msg("request worker stopped, key request dropped")
		return
	}
	m.sessionLogger(s).Debug().Str(log.FieldKeyType, keyType.String()).Msg("key request posted")
}

func keyScope(s *Session, keyType model.KeyType) []byte {
	if keyType == model.KeyTypeRelease {
		return s.keySetID
	}
	return s.engineID
}

// onKeyResponse runs on the playback loop.
func (m *Manager) onKeyResponse(s *Session, keyType model.KeyType, resp []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !s.rec.State.IsOpen() {
		staleDropsTotal.WithLabelValues(staleKeyResponse).Inc()
		return
	}
	if err != nil {
		keyRequestsTotal.WithLabelValues(keyType.String(), "transport_error").Inc()
		m.onKeyError(s, transportError("key request", err))
		return
	}

	m.engineMu.Lock()
	keySetID, err := m.engine.ProvideKeyResponse(keyScope(s, keyType), resp)
	m.engineMu.Unlock()
	if err != nil {
		keyRequestsTotal.WithLabelValues(keyType.String(), "engine_error").Inc()
		m.onKeyError(s, lifecycle.Wrap("key response", err))
		return
	}
	keyRequestsTotal.WithLabelValues(keyType.String(), "ok").Inc()
	s.reprovisioned = false
	id := s.rec.SessionID

	if s.mode == model.ModeRelease {
		if s.contentID != "" {
			m.deleteLicense(s.contentID)
		}
		m.sessionLogger(s).Info().Msg("offline license released")
		m.notify(func(sink ports.EventSink) { sink.OnKeysRemoved(id) })
		return
	}

	if !keySetID.Empty() && (s.mode == model.ModeDownload || (s.mode == model.ModePlayback && !s.keySetID.Empty())) {
		renewal := !s.keySetID.Empty()
		s.keySetID = keySetID.Clone()
		s.rec.HasKeySetID = true
		if s.contentID != "" {
			m.persistLicense(s.contentID, s.keySetID.Clone(), renewal)
		}
	}
	m.transition(s, lifecycle.Event{Kind: lifecycle.EvKeysLoaded})
	m.notify(func(sink ports.EventSink) { sink.OnKeysLoaded(id) })
}

// onKeyError re-enters provisioning once on NotProvisioned, otherwise fails
// the session. Caller holds mu.
func (m *Manager) onKeyError(s *Session, err error) {
	if errors.Is(err, ports.ErrNotProvisioned) && !s.reprovisioned {
		s.reprovisioned = true
		m.postProvisionRequest(s)
		return
	}
	m.onError(s, err)
}

// onError records a terminal failure for s and forwards it to the sink.
// Caller holds mu.
func (m *Manager) onError(s *Session, err error) {
	if s.rec.State.IsTerminal() {
		return
	}
	kind := lifecycle.KindOf(err)
	var serr *lifecycle.SessionError
	if !errors.As(err, &serr) {
		err = lifecycle.NewSessionError(kind, "", err)
	}
	s.lastErr = err
	m.transition(s, lifecycle.Event{Kind: lifecycle.EvFailed, ErrorKind: kind, Cause: err})
	sessionErrorsTotal.WithLabelValues(string(kind)).Inc()
	m.sessionLogger(s).Warn().Err(err).Str(log.FieldErrorKind, string(kind)).Msg("drm session error")

	id := s.rec.SessionID
	m.notify(func(sink ports.EventSink) { sink.OnSessionError(id, err) })
}

// persistLicense queues a store write. Caller holds mu.
func (m *Manager) persistLicense(contentID string, keySetID model.KeySetID, renewal bool) {
	if m.store == nil {
		return
	}
	scheme := model.SchemeName(m.scheme)
	now := m.now().Unix()
	m.postStoreWrite(contentID, func(ctx context.Context) error {
		lic := &model.OfflineLicense{
			ContentID:     contentID,
			Scheme:        scheme,
			KeySetID:      keySetID,
			CreatedAtUnix: now,
			UpdatedAtUnix: now,
		}
		if renewal {
			if prev, err := m.store.GetLicense(ctx, contentID); err == nil && prev != nil {
				lic.CreatedAtUnix = prev.CreatedAtUnix
				lic.RenewCount = prev.RenewCount + 1
			}
		}
		return m.store.PutLicense(ctx, lic)
	})
}

// deleteLicense queues a store delete. Caller holds mu.
func (m *Manager) deleteLicense(contentID string) {
	if m.store == nil {
		return
	}
	m.postStoreWrite(contentID, func(ctx context.Context) error {
		return m.store.DeleteLicense(ctx, contentID)
	})
}

// postStoreWrite runs fn on the store worker. Writes apply in the order they
// were posted, so a read-modify-write renewal never interleaves with a
// delete of the same content. Caller holds mu.
func (m *Manager) postStoreWrite(contentID string, fn func(ctx context.Context) error) {
	if m.storeLoop == nil {
		m.storeLoop = startLoop(m.workers.Go)
	}
	ok := m.storeLoop.post(m, tagCall, func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.storeTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			m.logger.Error().Err(err).Str(log.FieldContentID, contentID).Msg("offline license store write failed")
		}
	})
	if !ok {
		m.logger.Warn().Str(log.FieldContentID, contentID).Msg("store worker stopped, offline license write dropped")
	}
}
