// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package manager

import (
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/lifecycle"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/ports"
	"github.com/ManuGH/xg2g-drm/internal/log"
)

// handleEngineEvent is registered with the engine. It only forwards to the
// playback loop and never takes mu.
func (m *Manager) handleEngineEvent(ev ports.EngineEvent) {
	if !m.listening.Load() {
		staleDropsTotal.WithLabelValues(staleEngineEvent).Inc()
		return
	}
	loop := m.loopRef.Load()
	if loop == nil {
		return
	}
	ev.SessionID = append(model.EngineSessionID(nil), ev.SessionID...)
	loop.post(m, tagEngineEvent, func() { m.onEngineEvent(ev) })
}

// onEngineEvent runs on the playback loop. Events are routed by engine
// session id.
func (m *Manager) onEngineEvent(ev ports.EngineEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byEngineID[ev.SessionID.Key()]
	if !ok || !s.rec.State.IsOpen() || s.mode != model.ModePlayback {
		staleDropsTotal.WithLabelValues(staleEngineEvent).Inc()
		return
	}
	m.sessionLogger(s).Debug().Str(log.FieldEvent, ev.Type.String()).Msg("engine event")

	switch ev.Type {
	case ports.EventKeyRequired:
		m.doLicense(s)
	case ports.EventKeyExpired:
		if s.rec.State != model.StateOpenedWithKeys {
			return
		}
		m.transition(s, lifecycle.Event{Kind: lifecycle.EvKeysLost})
		m.onError(s, lifecycle.NewSessionError(model.KindKeysExpired, "key expired event", nil))
	case ports.EventProvisioningRequired:
		m.transition(s, lifecycle.Event{Kind: lifecycle.EvKeysLost})
		m.postProvisionRequest(s)
	}
}
