// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package manager

import (
	"errors"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/lifecycle"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/ports"
)

// openInternal opens an engine session for s and, on success, starts license
// acquisition. Caller holds mu.
func (m *Manager) openInternal(s *Session, allowProvisioning bool) {
	m.engineMu.Lock()
	id, err := m.engine.OpenSession()
	var handle model.CryptoHandle
	if err == nil {
		handle, err = m.engine.CreateCryptoHandle(m.scheme, id)
		if err != nil {
			m.engine.CloseSession(id)
		}
	}
	m.engineMu.Unlock()

	if err != nil {
		if errors.Is(err, ports.ErrNotProvisioned) && allowProvisioning {
			m.postProvisionRequest(s)
			return
		}
		m.onError(s, lifecycle.Wrap("open session", err))
		return
	}

	s.engineID = id
	s.handle = handle
	s.rec.EngineSession = id.String()
	m.byEngineID[id.Key()] = s
	m.transition(s, lifecycle.Event{Kind: lifecycle.EvOpened})
	m.doLicense(s)
}

// postProvisionRequest marks s as awaiting provisioning and starts the
// exchange unless one is already outstanding. Caller holds mu.
func (m *Manager) postProvisionRequest(s *Session) {
	s.awaitingProvisioning = true
	if m.provisioning {
		provisioningTotal.WithLabelValues("coalesced").Inc()
		m.sessionLogger(s).Debug().Msg("provisioning already in flight, awaiting outcome")
		return
	}

	m.engineMu.Lock()
	req, err := m.engine.GetProvisionRequest()
	m.engineMu.Unlock()
	if err != nil {
		provisioningTotal.WithLabelValues("error").Inc()
		m.fanOutProvisioning(lifecycle.Wrap("provision request", err))
		return
	}

	m.provisioning = true
	provisioningInFlight.Set(1)
	provisioningTotal.WithLabelValues("started").Inc()
	m.logger.Info().Msg("provisioning device")

	ctx := m.ctx
	posted := m.provLoop.post(m, tagCall, func() {
		resp, err := m.transport.ExecuteProvisionRequest(ctx, m.scheme, req)
		if !m.postResult(tagProvision, func() { m.onProvisionResponse(resp, err) }) {
			// No playback loop left to deliver to; release the flag here.
			m.mu.Lock()
			m.provisioning = false
			provisioningInFlight.Set(0)
			m.mu.Unlock()
		}
	})
	if !posted {
		m.provisioning = false
		provisioningInFlight.Set(0)
		m.fanOutProvisioning(ErrManagerClosed)
	}
}

// onProvisionResponse runs on the playback loop.
func (m *Manager) onProvisionResponse(resp []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.provisioning = false
	provisioningInFlight.Set(0)

	if err != nil {
		err = transportError("provision", err)
	} else {
		m.engineMu.Lock()
		err = m.engine.ProvideProvisionResponse(resp)
		m.engineMu.Unlock()
		if err != nil {
			err = lifecycle.Wrap("provision response", err)
		}
	}

	if err != nil {
		provisioningTotal.WithLabelValues("error").Inc()
		m.logger.Warn().Err(err).Msg("provisioning failed")
	} else {
		provisioningTotal.WithLabelValues("ok").Inc()
		m.logger.Info().Msg("device provisioned")
	}
	m.fanOutProvisioning(err)
}

// fanOutProvisioning resumes or fails every session awaiting provisioning.
// Caller holds mu.
func (m *Manager) fanOutProvisioning(err error) {
	waiting := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.awaitingProvisioning {
			s.awaitingProvisioning = false
			waiting = append(waiting, s)
		}
	}
	for _, s := range waiting {
		if !s.rec.State.AcceptsProvisioning() {
			staleDropsTotal.WithLabelValues(staleProvisioning).Inc()
			continue
		}
		if err != nil {
			m.onError(s, err)
			continue
		}
		if s.rec.State == model.StateOpening {
			m.openInternal(s, false)
		} else {
			m.doLicense(s)
		}
	}
}

// postResult delivers a worker result to the playback loop.
func (m *Manager) postResult(tag msgTag, fn func()) bool {
	loop := m.loopRef.Load()
	if loop == nil {
		return false
	}
	return loop.post(m, tag, fn)
}
