// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package manager drives DRM sessions through open, provisioning and license
// acquisition against a single decryption engine.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/lifecycle"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/ports"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/schemedata"
	"github.com/ManuGH/xg2g-drm/internal/log"
)

const (
	defaultRenewalThreshold = 60 * time.Second
	defaultStoreTimeout     = 5 * time.Second
)

// Config tunes a Manager. Zero values select defaults.
type Config struct {
	// Scheme is the DRM system this manager serves (e.g. model.WidevineUUID).
	Scheme uuid.UUID
	// RenewalThreshold is the remaining offline license validity at or below
	// which PLAYBACK renews the license.
	RenewalThreshold time.Duration
	// SessionSharing sets sessionSharing=enable on the engine at construction.
	SessionSharing bool
	// KeyRequestParams are passed to every key request (e.g. PRCustomData).
	KeyRequestParams map[string]string
	StoreTimeout     time.Duration
}

// Deps are the collaborators of a Manager. Engine and Transport are required.
type Deps struct {
	Engine     ports.Engine
	Transport  ports.Transport
	Sink       ports.EventSink
	Normalizer ports.Normalizer
	Store      ports.OfflineLicenseStore
	Now        func() time.Time
}

// Request is the per-acquisition configuration.
type Request struct {
	Mode model.Mode
	// OfflineKeySetID selects restore/renew/release of a persisted license.
	OfflineKeySetID model.KeySetID
	// ContentID keys the offline license store. Optional.
	ContentID string
}

// Manager owns every DRM session of one scheme on one engine.
type Manager struct {
	scheme     uuid.UUID
	engine     ports.Engine
	transport  ports.Transport
	sink       ports.EventSink
	normalizer ports.Normalizer
	store      ports.OfflineLicenseStore
	now        func() time.Time
	logger     zerolog.Logger

	renewalThreshold time.Duration
	storeTimeout     time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	workers  workerRegistry
	provLoop *Loop

	// loopRef and listening are read by the engine event handler, which may
	// run inside an engine call and therefore must not take mu.
	loopRef   atomic.Pointer[Loop]
	listening atomic.Bool

	engineMu sync.Mutex

	mu           sync.Mutex
	loop         *Loop
	sessions     map[string]*Session
	byEngineID   map[string]*Session
	provisioning bool
	mode         model.Mode
	nextKeySetID model.KeySetID
	keyParams    map[string]string
	storeLoop    *Loop
	closed       bool
}

// New creates a manager and registers its engine event handler.
func New(cfg Config, deps Deps) (*Manager, error) {
	if deps.Engine == nil {
		return nil, errors.New("drm engine must be set")
	}
	if deps.Transport == nil {
		return nil, errors.New("license transport must be set")
	}
	if cfg.Scheme == uuid.Nil {
		return nil, errors.New("drm scheme must be set")
	}

	m := &Manager{
		scheme:           cfg.Scheme,
		engine:           deps.Engine,
		transport:        deps.Transport,
		sink:             deps.Sink,
		normalizer:       deps.Normalizer,
		store:            deps.Store,
		now:              deps.Now,
		renewalThreshold: cfg.RenewalThreshold,
		storeTimeout:     cfg.StoreTimeout,
		sessions:         make(map[string]*Session),
		byEngineID:       make(map[string]*Session),
		mode:             model.ModePlayback,
		keyParams:        cloneParams(cfg.KeyRequestParams),
	}
	if m.sink == nil {
		m.sink = ports.NopSink{}
	}
	if m.normalizer == nil {
		m.normalizer = schemedata.LegacyNormalizer{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.renewalThreshold <= 0 {
		m.renewalThreshold = defaultRenewalThreshold
	}
	if m.storeTimeout <= 0 {
		m.storeTimeout = defaultStoreTimeout
	}
	m.logger = log.WithComponent("drm").With().Str(log.FieldScheme, model.SchemeName(m.scheme)).Logger()
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.provLoop = startLoop(m.workers.Go)

	if cfg.SessionSharing {
		if err := m.engine.SetPropertyString(model.PropSessionSharing, "enable"); err != nil {
			m.logger.Warn().Err(err).Msg("engine rejected session sharing")
		}
	}
	m.engine.SetEventHandler(m.handleEngineEvent)
	return m, nil
}

// Scheme returns the DRM system this manager serves.
func (m *Manager) Scheme() uuid.UUID {
	return m.scheme
}

// SetMode selects the mode of subsequent acquisitions. keySetID is consumed
// by the next AcquireSession only. QUERY and RELEASE need a key-set id.
func (m *Manager) SetMode(mode model.Mode, keySetID model.KeySetID) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if mode.RequiresKeySetID() && keySetID.Empty() {
		return fmt.Errorf("%w: %s", ErrKeySetIDRequired, mode)
	}
	m.mu.Lock()
	m.mode = mode
	m.nextKeySetID = keySetID.Clone()
	m.mu.Unlock()
	return nil
}

// SetKeyRequestParams replaces the optional parameters sent with key
// requests issued from now on.
func (m *Manager) SetKeyRequestParams(params map[string]string) {
	m.mu.Lock()
	m.keyParams = cloneParams(params)
	m.mu.Unlock()
}

// CanAcquireSession reports whether initData carries this manager's scheme
// with an encryption scheme the engine can decrypt.
func (m *Manager) CanAcquireSession(initData model.InitData) bool {
	if _, ok := initData.Get(m.scheme); !ok {
		return false
	}
	m.engineMu.Lock()
	pattern := m.engine.SupportsPatternEncryption()
	m.engineMu.Unlock()
	return schemedata.EncryptionSupported(initData.SchemeType, pattern)
}

// AcquireSession creates a session using the mode and one-shot key-set id
// staged by SetMode.
func (m *Manager) AcquireSession(loop *Loop, initData model.InitData) (*Session, error) {
	m.mu.Lock()
	staged := m.nextKeySetID
	req := Request{Mode: m.mode, OfflineKeySetID: staged}
	m.nextKeySetID = nil
	m.mu.Unlock()

	s, err := m.AcquireSessionWith(context.Background(), loop, initData, req)
	if err != nil {
		// A failed acquisition leaves the stage for the retry unless SetMode
		// replaced it meanwhile.
		m.mu.Lock()
		if m.nextKeySetID == nil {
			m.nextKeySetID = staged
		}
		m.mu.Unlock()
	}
	return s, err
}

// AcquireSessionWith creates and opens a session with an explicit
// per-acquisition configuration. The first call binds the manager to loop;
// later calls must pass the same loop. The returned session may already be
// in ERROR. Network exchanges continue asynchronously.
func (m *Manager) AcquireSessionWith(ctx context.Context, loop *Loop, initData model.InitData, req Request) (*Session, error) {
	if loop == nil {
		return nil, ErrNilLoop
	}
	if req.Mode == "" {
		req.Mode = model.ModePlayback
	}
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
	keySetID := req.OfflineKeySetID.Clone()
	if keySetID.Empty() && req.ContentID != "" && m.store != nil {
		lic, err := m.store.GetLicense(ctx, req.ContentID)
		if err != nil {
			return nil, fmt.Errorf("lookup offline license %q: %w", req.ContentID, err)
		}
		if lic != nil {
			keySetID = lic.KeySetID.Clone()
		}
	}
	if req.Mode.RequiresKeySetID() && keySetID.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrKeySetIDRequired, req.Mode)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if m.loop == nil {
		m.loop = loop
		m.loopRef.Store(loop)
	} else if m.loop != loop {
		return nil, ErrLoopMismatch
	}

	now := m.now()
	s := &Session{
		m:         m,
		mode:      req.Mode,
		contentID: req.ContentID,
		keySetID:  keySetID,
		rec: model.SessionRecord{
			SessionID:     uuid.NewString(),
			Scheme:        model.SchemeName(m.scheme),
			State:         model.StateClosed,
			Mode:          req.Mode,
			ContentID:     req.ContentID,
			HasKeySetID:   !keySetID.Empty(),
			CreatedAtUnix: now.Unix(),
			UpdatedAtUnix: now.Unix(),
		},
	}
	s.ctx, s.cancel = context.WithCancel(m.ctx)
	m.sessions[s.rec.SessionID] = s
	m.listening.Store(true)
	sessionsActive.Inc()
	sessionAcquiredTotal.WithLabelValues(string(req.Mode)).Inc()

	m.sessionLogger(s).Debug().Bool("offline", !keySetID.Empty()).Msg("session acquired")

	if keySetID.Empty() {
		data, ok := initData.Get(m.scheme)
		if !ok {
			m.onError(s, lifecycle.NewSessionError(model.KindSchemeUnsupported, "acquire",
				fmt.Errorf("%w: media does not carry %s", lifecycle.ErrSchemeUnsupported, m.scheme)))
			return s, nil
		}
		data = m.normalizer.Normalize(m.scheme, data)
		s.initData = data.Data
		s.mimeType = data.MimeType
	}

	m.transition(s, lifecycle.Event{Kind: lifecycle.EvOpenRequested})
	m.openInternal(s, true)
	return s, nil
}

// ReleaseSession tears down s. Releasing twice returns ErrSessionReleased.
func (m *Manager) ReleaseSession(s *Session) error {
	if s == nil || s.m != m {
		return ErrForeignSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.rec.State.IsTerminal() {
		return ErrSessionReleased
	}
	m.releaseLocked(s)
	return nil
}

func (m *Manager) releaseLocked(s *Session) {
	delete(m.sessions, s.rec.SessionID)
	if len(s.engineID) > 0 {
		delete(m.byEngineID, s.engineID.Key())
	}
	if len(m.sessions) == 0 {
		m.listening.Store(false)
		if m.loop != nil {
			if n := m.loop.purge(m, tagEngineEvent, tagKeyResponse); n > 0 {
				staleDropsTotal.WithLabelValues(staleQueued).Add(float64(n))
			}
		}
	}

	s.cancel()
	if s.worker != nil {
		s.worker.Stop()
		s.worker = nil
	}
	if len(s.engineID) > 0 {
		m.engineMu.Lock()
		m.engine.CloseSession(s.engineID)
		m.engineMu.Unlock()
	}
	s.clear()
	// m.provisioning stays set: the exchange in flight clears it on completion.
	m.transition(s, lifecycle.Event{Kind: lifecycle.EvReleased})
	sessionsActive.Dec()
	m.sessionLogger(s).Debug().Msg("session released")
}

// Sessions returns snapshots of all live sessions, oldest first.
func (m *Manager) Sessions() []model.SessionRecord {
	m.mu.Lock()
	out := make([]model.SessionRecord, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.rec)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtUnix != out[j].CreatedAtUnix {
			return out[i].CreatedAtUnix < out[j].CreatedAtUnix
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// Session looks up a live session by id.
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close releases every session, cancels in-flight exchanges and waits for
// worker goroutines.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, s := range m.sessions {
		m.releaseLocked(s)
	}
	storeLoop := m.storeLoop
	m.mu.Unlock()

	if storeLoop != nil {
		if err := storeLoop.Flush(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("pending offline license writes not flushed")
		}
		storeLoop.Stop()
	}
	m.cancel()
	m.provLoop.Stop()
	return m.workers.CloseAndWait(ctx)
}

// PropertyString reads an engine property. Usable in any state.
func (m *Manager) PropertyString(key string) (string, error) {
	m.engineMu.Lock()
	defer m.engineMu.Unlock()
	return m.engine.PropertyString(key)
}

// SetPropertyString writes an engine property. Usable in any state.
func (m *Manager) SetPropertyString(key, value string) error {
	m.engineMu.Lock()
	defer m.engineMu.Unlock()
	return m.engine.SetPropertyString(key, value)
}

// PropertyBytes reads a binary engine property.
func (m *Manager) PropertyBytes(key string) ([]byte, error) {
	m.engineMu.Lock()
	defer m.engineMu.Unlock()
	return m.engine.PropertyBytes(key)
}

// SetPropertyBytes writes a binary engine property.
func (m *Manager) SetPropertyBytes(key string, value []byte) error {
	m.engineMu.Lock()
	defer m.engineMu.Unlock()
	return m.engine.SetPropertyBytes(key, value)
}

// transition dispatches ev for s. Caller holds mu.
func (m *Manager) transition(s *Session, ev lifecycle.Event) bool {
	from := s.rec.State
	tr, err := lifecycle.Dispatch(&s.rec, ev, m.now())
	if err != nil {
		m.sessionLogger(s).Error().Err(err).Str("event", ev.Kind.String()).Msg("illegal session transition")
		return false
	}
	if tr.From != tr.To {
		fsmTransitions.WithLabelValues(string(from), string(tr.To)).Inc()
		m.sessionLogger(s).Debug().
			Str(log.FieldOldState, string(from)).
			Str(log.FieldNewState, string(tr.To)).
			Msg("session state changed")
	}
	return true
}

// notify delivers a sink call on the playback loop, outside mu.
func (m *Manager) notify(fn func(ports.EventSink)) {
	loop := m.loopRef.Load()
	if loop == nil {
		return
	}
	sink := m.sink
	loop.post(m, tagCall, func() { fn(sink) })
}

func (m *Manager) sessionLogger(s *Session) *zerolog.Logger {
	l := m.logger.With().
		Str(log.FieldSessionID, s.rec.SessionID).
		Str(log.FieldMode, string(s.mode)).
		Logger()
	if len(s.engineID) > 0 {
		l = l.With().Str(log.FieldDRMSession, s.engineID.String()).Logger()
	}
	return &l
}

func cloneParams(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
