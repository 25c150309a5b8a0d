// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package manager

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/ports"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/store"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	t         *testing.T
	engine    *stubEngine
	transport *stubTransport
	sink      *recordingSink
	loop      *Loop
	m         *Manager
}

type harnessOption func(cfg *Config, deps *Deps, e *stubEngine, tr *stubTransport)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		engine:    newStubEngine(),
		transport: newStubTransport(),
		sink:      &recordingSink{},
		loop:      NewLoop(),
	}
	cfg := Config{Scheme: model.WidevineUUID}
	deps := Deps{Engine: h.engine, Transport: h.transport, Sink: h.sink}
	for _, opt := range opts {
		opt(&cfg, &deps, h.engine, h.transport)
	}
	m, err := New(cfg, deps)
	require.NoError(t, err)
	h.m = m

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		require.NoError(t, h.m.Close(ctx))
		h.loop.Stop()
		<-h.loop.Done()
	})
	return h
}

func widevineInit() model.InitData {
	return model.InitData{Schemes: []model.SchemeData{{
		UUID:     model.WidevineUUID,
		MimeType: model.MimeVideoMP4,
		Data:     []byte("pssh"),
	}}}
}

func (h *harness) acquire() *Session {
	h.t.Helper()
	s, err := h.m.AcquireSession(h.loop, widevineInit())
	require.NoError(h.t, err)
	return s
}

func (h *harness) waitState(s *Session, want model.SessionState) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return s.State() == want }, waitFor, tick,
		"session never reached %s (at %s)", want, s.State())
}

func (h *harness) flush() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(h.t, h.loop.Flush(ctx))
}

func (h *harness) setValidity(sec int) {
	h.engine.set(func(e *stubEngine) {
		e.keyStatus = map[string]string{
			model.PropLicenseDurationRemaining:  strconv.Itoa(sec),
			model.PropPlaybackDurationRemaining: strconv.Itoa(sec + 1000),
		}
	})
}

func TestAcquire_StreamingLicense(t *testing.T) {
	h := newHarness(t)
	s := h.acquire()

	h.waitState(s, model.StateOpenedWithKeys)
	assert.Equal(t, int32(1), h.transport.keyCalls.Load())
	assert.Equal(t, []model.KeyType{model.KeyTypeStreaming}, h.engine.requestedKeyTypes())
	assert.True(t, s.OfflineKeySetID().Empty())

	require.Eventually(t, func() bool { return h.sink.count("loaded", s.ID()) == 1 }, waitFor, tick)
	assert.Nil(t, s.Error())
}

func TestCryptoHandle_RequiresOpenState(t *testing.T) {
	h := newHarness(t)

	unsupported, err := h.m.AcquireSession(h.loop, model.InitData{Schemes: []model.SchemeData{{UUID: model.PlayReadyUUID}}})
	require.NoError(t, err)
	_, err = unsupported.CryptoHandle()
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = unsupported.RequiresSecureDecoder("video/avc")
	require.ErrorIs(t, err, ErrInvalidState)

	s := h.acquire()
	h.waitState(s, model.StateOpenedWithKeys)
	handle, err := s.CryptoHandle()
	require.NoError(t, err)
	assert.NotNil(t, handle)
	secure, err := s.RequiresSecureDecoder("video/avc")
	require.NoError(t, err)
	assert.True(t, secure)

	require.NoError(t, h.m.ReleaseSession(s))
	_, err = s.CryptoHandle()
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, model.StateReleased, s.State())
}

func TestAcquire_SchemeUnsupported(t *testing.T) {
	h := newHarness(t)
	s, err := h.m.AcquireSession(h.loop, model.InitData{Schemes: []model.SchemeData{{UUID: model.PlayReadyUUID, Data: []byte("x")}}})
	require.NoError(t, err)

	assert.Equal(t, model.StateError, s.State())
	require.ErrorIs(t, s.Error(), ErrSchemeUnsupported)
	open, _, _, _ := h.engine.counts()
	assert.Zero(t, open, "session must not be opened")

	h.flush()
	assert.Equal(t, 1, h.sink.count("error", s.ID()))
}

func TestAcquire_LoopBindingIsOneTime(t *testing.T) {
	h := newHarness(t)
	h.acquire()

	other := NewLoop()
	defer func() { other.Stop(); <-other.Done() }()
	_, err := h.m.AcquireSession(other, widevineInit())
	require.ErrorIs(t, err, ErrLoopMismatch)

	_, err = h.m.AcquireSession(nil, widevineInit())
	require.ErrorIs(t, err, ErrNilLoop)
}

func TestSetMode_Preconditions(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.m.SetMode(model.ModeQuery, nil), ErrKeySetIDRequired)
	require.ErrorIs(t, h.m.SetMode(model.ModeRelease, model.KeySetID{}), ErrKeySetIDRequired)
	require.ErrorIs(t, h.m.SetMode("REWIND", nil), ErrInvalidMode)
	require.NoError(t, h.m.SetMode(model.ModeDownload, nil))

	_, err := h.m.AcquireSessionWith(context.Background(), h.loop, widevineInit(), Request{Mode: model.ModeQuery})
	require.ErrorIs(t, err, ErrKeySetIDRequired)
}

func TestSetMode_StagedKeySetSurvivesFailedAcquire(t *testing.T) {
	h := newHarness(t)
	h.acquire()
	require.NoError(t, h.m.SetMode(model.ModeQuery, model.KeySetID("stored")))

	other := NewLoop()
	defer func() { other.Stop(); <-other.Done() }()
	_, err := h.m.AcquireSession(other, widevineInit())
	require.ErrorIs(t, err, ErrLoopMismatch)

	s, err := h.m.AcquireSession(h.loop, widevineInit())
	require.NoError(t, err)
	assert.Equal(t, model.KeySetID("stored"), s.OfflineKeySetID())

	_, err = h.m.AcquireSession(h.loop, widevineInit())
	require.ErrorIs(t, err, ErrKeySetIDRequired, "stage is one-shot once consumed")
}

func TestNotProvisioned_SingleProvisioningRoundTrip(t *testing.T) {
	h := newHarness(t, func(_ *Config, _ *Deps, e *stubEngine, _ *stubTransport) {
		e.notProvisioned = true
	})
	s := h.acquire()

	h.waitState(s, model.StateOpenedWithKeys)
	open, provided, _, _ := h.engine.counts()
	assert.Equal(t, 2, open, "one failed open, one retry")
	assert.Equal(t, 1, provided)
	assert.Equal(t, int32(1), h.transport.provCalls.Load())
	assert.Zero(t, h.sink.count("error", s.ID()))
}

func TestNotProvisioned_RetryFailureIsTerminal(t *testing.T) {
	h := newHarness(t, func(_ *Config, _ *Deps, e *stubEngine, _ *stubTransport) {
		e.notProvisioned = true
		e.stayUnprovisioned = true
	})
	s := h.acquire()

	h.waitState(s, model.StateError)
	require.ErrorIs(t, s.Error(), ports.ErrNotProvisioned)
	assert.Equal(t, int32(1), h.transport.provCalls.Load())
	open, _, _, _ := h.engine.counts()
	assert.Equal(t, 2, open)
	require.Eventually(t, func() bool { return h.sink.count("error", s.ID()) == 1 }, waitFor, tick)
}

func TestProvisioning_CoalescesConcurrentSessions(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, func(_ *Config, _ *Deps, e *stubEngine, tr *stubTransport) {
		e.notProvisioned = true
		tr.provGate = gate
	})

	sessions := []*Session{h.acquire(), h.acquire(), h.acquire()}
	for _, s := range sessions {
		assert.Equal(t, model.StateOpening, s.State())
	}
	require.Eventually(t, func() bool { return h.transport.provCalls.Load() == 1 }, waitFor, tick)
	close(gate)

	for _, s := range sessions {
		h.waitState(s, model.StateOpenedWithKeys)
	}
	assert.Equal(t, int32(1), h.transport.provCalls.Load())
	assert.Equal(t, int32(1), h.transport.maxProvInflight.Load())
	_, provided, _, _ := h.engine.counts()
	assert.Equal(t, 1, provided, "response is fed to the engine once")
}

func TestProvisioning_FailureReachesEveryAwaitingSession(t *testing.T) {
	h := newHarness(t, func(_ *Config, _ *Deps, e *stubEngine, tr *stubTransport) {
		e.notProvisioned = true
		tr.provGate = make(chan struct{})
		tr.provErr = errors.New("connection reset")
		close(tr.provGate)
	})

	a, b := h.acquire(), h.acquire()
	h.waitState(a, model.StateError)
	h.waitState(b, model.StateError)
	for _, s := range []*Session{a, b} {
		var serr interface{ Unwrap() error }
		require.ErrorAs(t, s.Error(), &serr)
		assert.ErrorContains(t, s.Error(), "connection reset")
		assert.ErrorContains(t, s.Error(), string(model.KindTransport))
	}
	require.Eventually(t, func() bool {
		return h.sink.count("error", a.ID()) == 1 && h.sink.count("error", b.ID()) == 1
	}, waitFor, tick)
}

func TestProvisioning_DeniedByServer(t *testing.T) {
	h := newHarness(t, func(_ *Config, _ *Deps, e *stubEngine, _ *stubTransport) {
		e.notProvisioned = true
		e.provisionErr = ports.ErrDeniedByServer
	})
	s := h.acquire()
	h.waitState(s, model.StateError)
	require.ErrorIs(t, s.Error(), ports.ErrDeniedByServer)
}

func TestProvisioning_ReleasedSessionIsSkipped(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, func(_ *Config, _ *Deps, e *stubEngine, tr *stubTransport) {
		e.notProvisioned = true
		tr.provGate = gate
	})

	gone, kept := h.acquire(), h.acquire()
	require.Eventually(t, func() bool { return h.transport.provCalls.Load() == 1 }, waitFor, tick)
	require.NoError(t, h.m.ReleaseSession(gone))
	close(gate)

	h.waitState(kept, model.StateOpenedWithKeys)
	assert.Equal(t, model.StateReleased, gone.State())
	assert.Zero(t, h.sink.count("error", gone.ID()))
	assert.Zero(t, h.sink.count("loaded", gone.ID()))
}

func TestRestore_RenewalThresholdBoundary(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		mode      model.Mode
		want      model.SessionState
		renew     bool
		expired   bool
	}{
		{name: "at threshold renews", remaining: 60, mode: model.ModePlayback, want: model.StateOpenedWithKeys, renew: true},
		{name: "above threshold restores", remaining: 61, mode: model.ModePlayback, want: model.StateOpenedWithKeys},
		{name: "zero expires", remaining: 0, mode: model.ModePlayback, want: model.StateError, expired: true},
		{name: "negative expires", remaining: -5, mode: model.ModePlayback, want: model.StateError, expired: true},
		{name: "query never renews", remaining: 30, mode: model.ModeQuery, want: model.StateOpenedWithKeys},
		{name: "query expires", remaining: 0, mode: model.ModeQuery, want: model.StateError, expired: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.setValidity(tc.remaining)
			require.NoError(t, h.m.SetMode(tc.mode, model.KeySetID("stored")))
			s := h.acquire()

			h.waitState(s, tc.want)
			_, _, _, restores := h.engine.counts()
			assert.Equal(t, 1, restores)
			if tc.renew {
				require.Eventually(t, func() bool { return h.transport.keyCalls.Load() == 1 }, waitFor, tick)
				assert.Equal(t, []model.KeyType{model.KeyTypeOffline}, h.engine.requestedKeyTypes())
				assert.Equal(t, model.KeySetID("ks-1"), s.OfflineKeySetID(), "renewal replaces the key-set id")
			} else {
				h.flush()
				assert.Zero(t, h.transport.keyCalls.Load())
			}
			if tc.expired {
				require.ErrorIs(t, s.Error(), ErrKeysExpired)
			}
			if !tc.renew && !tc.expired {
				require.Eventually(t, func() bool { return h.sink.count("restored", s.ID()) == 1 }, waitFor, tick)
			}
		})
	}
}

func TestRestore_NonWidevineIsUnbounded(t *testing.T) {
	h := newHarness(t, func(cfg *Config, _ *Deps, _ *stubEngine, _ *stubTransport) {
		cfg.Scheme = model.ClearKeyUUID
	})
	require.NoError(t, h.m.SetMode(model.ModePlayback, model.KeySetID("stored")))
	s, err := h.m.AcquireSession(h.loop, model.InitData{})
	require.NoError(t, err)
	h.waitState(s, model.StateOpenedWithKeys)
	assert.Zero(t, h.transport.keyCalls.Load())
}

func TestRestore_FailureIsReportedPerSession(t *testing.T) {
	h := newHarness(t, func(_ *Config, _ *Deps, e *stubEngine, _ *stubTransport) {
		e.restoreErr = errors.New("license not found")
	})
	require.NoError(t, h.m.SetMode(model.ModeQuery, model.KeySetID("stored")))
	s := h.acquire()
	h.waitState(s, model.StateError)
	assert.ErrorContains(t, s.Error(), "license not found")
}

func TestKeyResponse_AfterReleaseIsDropped(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, func(_ *Config, _ *Deps, _ *stubEngine, tr *stubTransport) {
		tr.keyGate = gate
	})
	s := h.acquire()
	select {
	case <-h.transport.keyStarted:
	case <-time.After(waitFor):
		t.Fatal("key request never started")
	}
	h.waitState(s, model.StateOpened)

	require.NoError(t, h.m.ReleaseSession(s))
	close(gate)
	h.flush()
	h.flush()

	assert.Equal(t, model.StateReleased, s.State())
	_, _, provideKey, _ := h.engine.counts()
	assert.Zero(t, provideKey, "stale response must not reach the engine")
	assert.Empty(t, h.sink.snapshot())
}

func TestKeyExchange_NotProvisionedReentersProvisioningOnce(t *testing.T) {
	h := newHarness(t, func(_ *Config, _ *Deps, e *stubEngine, _ *stubTransport) {
		e.keyResponseErrs = []error{ports.ErrNotProvisioned}
	})
	s := h.acquire()
	h.waitState(s, model.StateOpenedWithKeys)
	assert.Equal(t, int32(1), h.transport.provCalls.Load())
	assert.Equal(t, int32(2), h.transport.keyCalls.Load())

	h2 := newHarness(t, func(_ *Config, _ *Deps, e *stubEngine, _ *stubTransport) {
		e.keyResponseErrs = []error{ports.ErrNotProvisioned, ports.ErrNotProvisioned}
	})
	s2 := h2.acquire()
	h2.waitState(s2, model.StateError)
	require.ErrorIs(t, s2.Error(), ports.ErrNotProvisioned)
	assert.Equal(t, int32(1), h2.transport.provCalls.Load())
}

func TestKeyExchange_TransportErrorFailsSession(t *testing.T) {
	h := newHarness(t, func(_ *Config, _ *Deps, _ *stubEngine, tr *stubTransport) {
		tr.keyErr = &ports.HTTPStatusError{URL: "http://license.invalid", StatusCode: 403}
	})
	s := h.acquire()
	h.waitState(s, model.StateError)
	var statusErr *ports.HTTPStatusError
	require.ErrorAs(t, s.Error(), &statusErr)
	assert.Equal(t, 403, statusErr.StatusCode)
}

func TestEngineEvents_RoutedBySessionID(t *testing.T) {
	h := newHarness(t)
	a, b := h.acquire(), h.acquire()
	h.waitState(a, model.StateOpenedWithKeys)
	h.waitState(b, model.StateOpenedWithKeys)

	h.engine.emit(ports.EngineEvent{Type: ports.EventKeyExpired, SessionID: b.engineIDForTest()})
	h.waitState(b, model.StateError)
	require.ErrorIs(t, b.Error(), ErrKeysExpired)
	assert.Equal(t, model.StateOpenedWithKeys, a.State(), "event must only reach its own session")

	require.NoError(t, h.m.ReleaseSession(b))
	before := h.transport.keyCalls.Load()
	h.engine.emit(ports.EngineEvent{Type: ports.EventKeyRequired, SessionID: a.engineIDForTest()})
	require.Eventually(t, func() bool { return h.transport.keyCalls.Load() == before+1 }, waitFor, tick)
	h.waitState(a, model.StateOpenedWithKeys)
}

func TestEngineEvents_StopAfterLastRelease(t *testing.T) {
	h := newHarness(t)
	s := h.acquire()
	h.waitState(s, model.StateOpenedWithKeys)
	h.flush()
	id := s.engineIDForTest()
	events := len(h.sink.snapshot())

	require.NoError(t, h.m.ReleaseSession(s))
	h.engine.emit(ports.EngineEvent{Type: ports.EventKeyRequired, SessionID: id})
	h.engine.emit(ports.EngineEvent{Type: ports.EventKeyExpired, SessionID: id})
	h.flush()

	assert.Equal(t, 0, h.loop.Len())
	assert.Len(t, h.sink.snapshot(), events)
	assert.Equal(t, int32(1), h.transport.keyCalls.Load())
}

func TestEngineEvents_ProvisioningRequiredDemotes(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, func(_ *Config, _ *Deps, _ *stubEngine, tr *stubTransport) {
		tr.provGate = gate
	})
	s := h.acquire()
	h.waitState(s, model.StateOpenedWithKeys)

	h.engine.emit(ports.EngineEvent{Type: ports.EventProvisioningRequired, SessionID: s.engineIDForTest()})
	h.waitState(s, model.StateOpened)
	close(gate)
	require.Eventually(t, func() bool { return h.transport.keyCalls.Load() == 2 }, waitFor, tick)
	h.waitState(s, model.StateOpenedWithKeys)
}

func TestEngineEvents_IgnoredOutsidePlayback(t *testing.T) {
	h := newHarness(t)
	s, err := h.m.AcquireSessionWith(context.Background(), h.loop, widevineInit(), Request{Mode: model.ModeDownload})
	require.NoError(t, err)
	h.waitState(s, model.StateOpenedWithKeys)

	h.engine.emit(ports.EngineEvent{Type: ports.EventKeyExpired, SessionID: s.engineIDForTest()})
	h.flush()
	assert.Equal(t, model.StateOpenedWithKeys, s.State())
}

func TestRoundTrip_DownloadThenQuery(t *testing.T) {
	h := newHarness(t)
	h.setValidity(3600)

	require.NoError(t, h.m.SetMode(model.ModeDownload, nil))
	dl := h.acquire()
	h.waitState(dl, model.StateOpenedWithKeys)
	keySetID := dl.OfflineKeySetID()
	require.False(t, keySetID.Empty())
	require.NoError(t, h.m.ReleaseSession(dl))

	calls := h.transport.keyCalls.Load()
	require.NoError(t, h.m.SetMode(model.ModeQuery, keySetID))
	q := h.acquire()
	h.waitState(q, model.StateOpenedWithKeys)

	assert.Equal(t, calls, h.transport.keyCalls.Load(), "restore must not hit the network")
	_, _, _, restores := h.engine.counts()
	assert.Equal(t, 1, restores)
	require.Eventually(t, func() bool { return h.sink.count("restored", q.ID()) == 1 }, waitFor, tick)
	assert.Equal(t, keySetID, q.OfflineKeySetID())
}

func TestRelease_ReleaseModeNotifiesRemoval(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.PutLicense(context.Background(), &model.OfflineLicense{ContentID: "movie-1", KeySetID: model.KeySetID("ks-old")}))
	h := newHarness(t, func(_ *Config, deps *Deps, _ *stubEngine, _ *stubTransport) {
		deps.Store = st
	})

	s, err := h.m.AcquireSessionWith(context.Background(), h.loop, widevineInit(), Request{Mode: model.ModeRelease, ContentID: "movie-1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.sink.count("removed", s.ID()) == 1 }, waitFor, tick)
	assert.Equal(t, []model.KeyType{model.KeyTypeRelease}, h.engine.requestedKeyTypes())
	assert.Equal(t, model.StateOpened, s.State())
	require.Eventually(t, func() bool {
		lic, err := st.GetLicense(context.Background(), "movie-1")
		return err == nil && lic == nil
	}, waitFor, tick)
}

func TestStore_DownloadPersistsAndQueryLooksUp(t *testing.T) {
	st := store.NewMemoryStore()
	h := newHarness(t, func(_ *Config, deps *Deps, _ *stubEngine, _ *stubTransport) {
		deps.Store = st
	})
	h.setValidity(3600)
	ctx := context.Background()

	dl, err := h.m.AcquireSessionWith(ctx, h.loop, widevineInit(), Request{Mode: model.ModeDownload, ContentID: "movie-2"})
	require.NoError(t, err)
	h.waitState(dl, model.StateOpenedWithKeys)

	var lic *model.OfflineLicense
	require.Eventually(t, func() bool {
		lic, err = st.GetLicense(ctx, "movie-2")
		return err == nil && lic != nil
	}, waitFor, tick)
	assert.Equal(t, dl.OfflineKeySetID(), lic.KeySetID)
	assert.Equal(t, "widevine", lic.Scheme)
	assert.Zero(t, lic.RenewCount)

	q, err := h.m.AcquireSessionWith(ctx, h.loop, widevineInit(), Request{Mode: model.ModeQuery, ContentID: "movie-2"})
	require.NoError(t, err)
	h.waitState(q, model.StateOpenedWithKeys)
	assert.Equal(t, lic.KeySetID, q.OfflineKeySetID())

	_, err = h.m.AcquireSessionWith(ctx, h.loop, widevineInit(), Request{Mode: model.ModeQuery, ContentID: "unknown"})
	require.ErrorIs(t, err, ErrKeySetIDRequired)
}

// gatedStore holds PutLicense until the gate opens and logs operation order.
type gatedStore struct {
	*store.MemoryStore
	gate chan struct{}
	mu   sync.Mutex
	ops  []string
}

func (g *gatedStore) record(op string) {
	g.mu.Lock()
	g.ops = append(g.ops, op)
	g.mu.Unlock()
}

func (g *gatedStore) PutLicense(ctx context.Context, lic *model.OfflineLicense) error {
	<-g.gate
	g.record("put")
	return g.MemoryStore.PutLicense(ctx, lic)
}

func (g *gatedStore) DeleteLicense(ctx context.Context, contentID string) error {
	g.record("delete")
	return g.MemoryStore.DeleteLicense(ctx, contentID)
}

func (g *gatedStore) snapshot() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.ops...)
}

func TestStore_WritesApplyInOrder(t *testing.T) {
	st := &gatedStore{MemoryStore: store.NewMemoryStore(), gate: make(chan struct{})}
	h := newHarness(t, func(_ *Config, deps *Deps, _ *stubEngine, _ *stubTransport) {
		deps.Store = st
	})
	var once sync.Once
	openGate := func() { once.Do(func() { close(st.gate) }) }
	t.Cleanup(openGate)
	h.setValidity(3600)
	ctx := context.Background()

	dl, err := h.m.AcquireSessionWith(ctx, h.loop, widevineInit(), Request{Mode: model.ModeDownload, ContentID: "movie-3"})
	require.NoError(t, err)
	h.waitState(dl, model.StateOpenedWithKeys)

	rel, err := h.m.AcquireSessionWith(ctx, h.loop, widevineInit(), Request{
		Mode: model.ModeRelease, ContentID: "movie-3", OfflineKeySetID: dl.OfflineKeySetID(),
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.sink.count("removed", rel.ID()) == 1 }, waitFor, tick)
	assert.Empty(t, st.snapshot(), "delete must wait for the earlier put")

	openGate()
	require.Eventually(t, func() bool { return len(st.snapshot()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"put", "delete"}, st.snapshot())
	lic, err := st.GetLicense(ctx, "movie-3")
	require.NoError(t, err)
	assert.Nil(t, lic)
}

func TestRelease_Twice(t *testing.T) {
	h := newHarness(t)
	s := h.acquire()
	require.NoError(t, h.m.ReleaseSession(s))
	require.ErrorIs(t, h.m.ReleaseSession(s), ErrSessionReleased)
	assert.Empty(t, h.m.Sessions())

	other := newHarness(t)
	require.ErrorIs(t, other.m.ReleaseSession(s), ErrForeignSession)
}

func TestRelease_ClosesEngineSession(t *testing.T) {
	h := newHarness(t)
	s := h.acquire()
	h.waitState(s, model.StateOpenedWithKeys)
	require.NoError(t, h.m.ReleaseSession(s))

	h.engine.set(func(e *stubEngine) {
		assert.Empty(t, e.open)
		assert.Equal(t, 1, e.closedSessions)
	})
	rec := s.Record()
	assert.Empty(t, rec.EngineSession)
	assert.False(t, rec.HasKeySetID)
	_, err := s.QueryKeyStatus()
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestOpen_CryptoHandleFailureClosesEngineSession(t *testing.T) {
	h := newHarness(t, func(_ *Config, _ *Deps, e *stubEngine, _ *stubTransport) {
		e.handleErr = errors.New("unsupported scheme in engine")
	})
	s := h.acquire()
	assert.Equal(t, model.StateError, s.State())
	h.engine.set(func(e *stubEngine) {
		assert.Empty(t, e.open)
	})
}

func TestCanAcquireSession(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.m.CanAcquireSession(widevineInit()))
	assert.False(t, h.m.CanAcquireSession(model.InitData{Schemes: []model.SchemeData{{UUID: model.PlayReadyUUID}}}))
	assert.True(t, h.m.CanAcquireSession(model.InitData{Schemes: []model.SchemeData{{UUID: uuid.Nil}}}))

	cbcs := widevineInit()
	cbcs.SchemeType = model.SchemeCBCS
	assert.False(t, h.m.CanAcquireSession(cbcs))
	h.engine.set(func(e *stubEngine) { e.pattern = true })
	assert.True(t, h.m.CanAcquireSession(cbcs))
}

func TestProperties_PassThroughInAnyState(t *testing.T) {
	h := newHarness(t, func(cfg *Config, _ *Deps, _ *stubEngine, _ *stubTransport) {
		cfg.SessionSharing = true
	})
	v, err := h.m.PropertyString(model.PropSessionSharing)
	require.NoError(t, err)
	assert.Equal(t, "enable", v)

	require.NoError(t, h.m.SetPropertyBytes("deviceUniqueId", []byte{1, 2}))
	b, err := h.m.PropertyBytes("deviceUniqueId")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, b)
}

func TestKeyRequestParams_AppliedAndReplaceable(t *testing.T) {
	h := newHarness(t, func(cfg *Config, _ *Deps, _ *stubEngine, _ *stubTransport) {
		cfg.KeyRequestParams = map[string]string{model.PlayReadyCustomDataKey: "v1"}
	})
	s := h.acquire()
	h.waitState(s, model.StateOpenedWithKeys)

	h.m.SetKeyRequestParams(map[string]string{model.PlayReadyCustomDataKey: "v2"})
	h.engine.emit(ports.EngineEvent{Type: ports.EventKeyRequired, SessionID: s.engineIDForTest()})
	require.Eventually(t, func() bool { return h.transport.keyCalls.Load() == 2 }, waitFor, tick)

	h.engine.set(func(e *stubEngine) {
		require.Len(t, e.keyParams, 2)
		assert.Equal(t, "v1", e.keyParams[0][model.PlayReadyCustomDataKey])
		assert.Equal(t, "v2", e.keyParams[1][model.PlayReadyCustomDataKey])
	})
}

func TestSessions_Snapshot(t *testing.T) {
	h := newHarness(t)
	a := h.acquire()
	h.waitState(a, model.StateOpenedWithKeys)

	recs := h.m.Sessions()
	require.Len(t, recs, 1)
	assert.Equal(t, a.ID(), recs[0].SessionID)
	assert.Equal(t, "widevine", recs[0].Scheme)
	assert.Equal(t, model.ModePlayback, recs[0].Mode)
	assert.NotEmpty(t, recs[0].EngineSession)

	got, ok := h.m.Session(a.ID())
	require.True(t, ok)
	assert.Same(t, a, got)
}

func TestClose_RejectsNewSessions(t *testing.T) {
	h := newHarness(t)
	s := h.acquire()
	require.NoError(t, h.m.Close(context.Background()))
	assert.Equal(t, model.StateReleased, s.State())
	_, err := h.m.AcquireSession(h.loop, widevineInit())
	require.ErrorIs(t, err, ErrManagerClosed)
}

func (s *Session) engineIDForTest() model.EngineSessionID {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return append(model.EngineSessionID(nil), s.engineID...)
}
