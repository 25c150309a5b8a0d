// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/ports"
)

// stubEngine is an in-memory ports.Engine with scriptable failures.
type stubEngine struct {
	mu      sync.Mutex
	handler ports.EngineEventHandler

	next int
	open map[string]bool

	notProvisioned    bool
	stayUnprovisioned bool
	provisionErr      error
	handleErr         error
	restoreErr        error
	keyResponseErrs   []error
	keyStatus         map[string]string
	pattern           bool
	props             map[string]string

	openCalls      int
	provideProv    int
	provideKey     int
	restoreCalls   int
	keyTypes       []model.KeyType
	keyParams      []map[string]string
	lastKeyType    map[string]model.KeyType
	offlineSeq     int
	closedSessions int
}

var _ ports.Engine = (*stubEngine)(nil)

func newStubEngine() *stubEngine {
	return &stubEngine{
		open:        make(map[string]bool),
		lastKeyType: make(map[string]model.KeyType),
		props:       make(map[string]string),
	}
}

func (e *stubEngine) OpenSession() (model.EngineSessionID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openCalls++
	if e.notProvisioned {
		return nil, fmt.Errorf("open session: %w", ports.ErrNotProvisioned)
	}
	e.next++
	id := model.EngineSessionID{0xd0, byte(e.next)}
	e.open[id.Key()] = true
	return id, nil
}

func (e *stubEngine) CloseSession(id model.EngineSessionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.open, id.Key())
	e.closedSessions++
}

func (e *stubEngine) CreateCryptoHandle(scheme uuid.UUID, id model.EngineSessionID) (model.CryptoHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handleErr != nil {
		return nil, e.handleErr
	}
	return "handle-" + id.Key(), nil
}

func (e *stubEngine) GetKeyRequest(scope []byte, initData []byte, mimeType string, keyType model.KeyType, params map[string]string) (model.KeyRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keyTypes = append(e.keyTypes, keyType)
	e.keyParams = append(e.keyParams, params)
	e.lastKeyType[string(scope)] = keyType
	return model.KeyRequest{Data: append([]byte("req:"), scope...)}, nil
}

func (e *stubEngine) ProvideKeyResponse(scope []byte, response []byte) (model.KeySetID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.provideKey++
	if len(e.keyResponseErrs) > 0 {
		err := e.keyResponseErrs[0]
		e.keyResponseErrs = e.keyResponseErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if e.lastKeyType[string(scope)] == model.KeyTypeOffline {
		e.offlineSeq++
		return model.KeySetID(fmt.Sprintf("ks-%d", e.offlineSeq)), nil
	}
	return nil, nil
}

func (e *stubEngine) GetProvisionRequest() (model.ProvisionRequest, error) {
	return model.ProvisionRequest{Data: []byte("prov"), DefaultURL: "http://provisioning.invalid/?a=1"}, nil
}

func (e *stubEngine) ProvideProvisionResponse(response []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.provideProv++
	if e.provisionErr != nil {
		return e.provisionErr
	}
	if !e.stayUnprovisioned {
		e.notProvisioned = false
	}
	return nil
}

func (e *stubEngine) RestoreKeys(id model.EngineSessionID, keySetID model.KeySetID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.restoreCalls++
	return e.restoreErr
}

func (e *stubEngine) QueryKeyStatus(id model.EngineSessionID) (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.keyStatus))
	for k, v := range e.keyStatus {
		out[k] = v
	}
	return out, nil
}

func (e *stubEngine) SetEventHandler(h ports.EngineEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

func (e *stubEngine) PropertyString(key string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.props[key]
	if !ok {
		return "", errors.New("unknown property")
	}
	return v, nil
}

func (e *stubEngine) SetPropertyString(key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.props[key] = value
	return nil
}

func (e *stubEngine) PropertyBytes(key string) ([]byte, error) {
	v, err := e.PropertyString(key)
	return []byte(v), err
}

func (e *stubEngine) SetPropertyBytes(key string, value []byte) error {
	return e.SetPropertyString(key, string(value))
}

func (e *stubEngine) RequiresSecureDecoder(handle model.CryptoHandle, mimeType string) bool {
	return mimeType == "video/avc"
}

func (e *stubEngine) SupportsPatternEncryption() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pattern
}

func (e *stubEngine) emit(ev ports.EngineEvent) {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (e *stubEngine) set(fn func(e *stubEngine)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
}

func (e *stubEngine) counts() (open, provideProv, provideKey, restore int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openCalls, e.provideProv, e.provideKey, e.restoreCalls
}

func (e *stubEngine) requestedKeyTypes() []model.KeyType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.KeyType(nil), e.keyTypes...)
}

// stubTransport counts exchanges and can hold them on a gate.
type stubTransport struct {
	keyCalls  atomic.Int32
	provCalls atomic.Int32

	provInflight    atomic.Int32
	maxProvInflight atomic.Int32

	provGate chan struct{}
	keyGate  chan struct{}
	provErr  error
	keyErr   error

	keyStarted chan struct{}
}

func newStubTransport() *stubTransport {
	return &stubTransport{keyStarted: make(chan struct{}, 64)}
}

func (t *stubTransport) ExecuteKeyRequest(ctx context.Context, scheme uuid.UUID, req model.KeyRequest) ([]byte, error) {
	t.keyCalls.Add(1)
	t.keyStarted <- struct{}{}
	if t.keyGate != nil {
		select {
		case <-t.keyGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.keyErr != nil {
		return nil, t.keyErr
	}
	return []byte("license"), nil
}

func (t *stubTransport) ExecuteProvisionRequest(ctx context.Context, scheme uuid.UUID, req model.ProvisionRequest) ([]byte, error) {
	t.provCalls.Add(1)
	n := t.provInflight.Add(1)
	defer t.provInflight.Add(-1)
	for {
		cur := t.maxProvInflight.Load()
		if n <= cur || t.maxProvInflight.CompareAndSwap(cur, n) {
			break
		}
	}
	if t.provGate != nil {
		select {
		case <-t.provGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.provErr != nil {
		return nil, t.provErr
	}
	return []byte("certificate"), nil
}

// recordingSink records sink notifications as "kind:sessionID".
type recordingSink struct {
	mu     sync.Mutex
	events []string
	errs   []error
}

func (s *recordingSink) add(kind, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, kind+":"+id)
}

func (s *recordingSink) OnKeysLoaded(id string)   { s.add("loaded", id) }
func (s *recordingSink) OnKeysRestored(id string) { s.add("restored", id) }
func (s *recordingSink) OnKeysRemoved(id string)  { s.add("removed", id) }
func (s *recordingSink) OnSessionError(id string, err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
	s.add("error", id)
}

func (s *recordingSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *recordingSink) count(kind, id string) int {
	n := 0
	for _, ev := range s.snapshot() {
		if ev == kind+":"+id {
			n++
		}
	}
	return n
}
