// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package simengine is a software DRM engine. It speaks a JSON license
// format, keeps offline licenses in memory and reports Widevine-style key
// status, so the session manager can run without device hardware.
package simengine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/ports"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/schemedata"
	"github.com/ManuGH/xg2g-drm/internal/log"
)

var (
	ErrUnknownSession = errors.New("unknown engine session")
	ErrUnknownKeySet  = errors.New("unknown key set")
	ErrNoKeys         = errors.New("license carries no keys")
)

// Well-known property names.
const (
	PropVendor         = "vendor"
	PropVersion        = "version"
	PropSecurityLevel  = "securityLevel"
	PropSessionSharing = "sessionSharing"
	PropDeviceUniqueID = "deviceUniqueId"
)

type Options struct {
	// Provisioned starts the engine with a device certificate installed.
	Provisioned       bool
	PatternEncryption bool
	SecurityLevel     string
	ProvisioningURL   string
	Now               func() time.Time
}

type keySet struct {
	keys    map[string]string
	expires time.Time
}

type session struct {
	keys    map[string]string
	expires time.Time
	pending model.KeyType
}

// CryptoContext is the handle returned by CreateCryptoHandle.
type CryptoContext struct {
	Scheme    uuid.UUID
	SessionID model.EngineSessionID
}

// Engine implements ports.Engine. It is safe for concurrent use.
type Engine struct {
	mu          sync.Mutex
	now         func() time.Time
	provisioned bool
	pattern     bool
	provURL     string
	nonce       string
	sessions    map[string]*session
	offline     map[string]*keySet
	props       map[string]string
	bprops      map[string][]byte
	handler     ports.EngineEventHandler
	logger      zerolog.Logger
}

var _ ports.Engine = (*Engine)(nil)

func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SecurityLevel == "" {
		opts.SecurityLevel = "L3"
	}
	if opts.ProvisioningURL == "" {
		opts.ProvisioningURL = "https://provisioning.invalid/certificateprovisioning/v1/devicecertificates/create?key=sim"
	}
	device := uuid.New()
	return &Engine{
		now:         opts.Now,
		provisioned: opts.Provisioned,
		pattern:     opts.PatternEncryption,
		provURL:     opts.ProvisioningURL,
		sessions:    make(map[string]*session),
		offline:     make(map[string]*keySet),
		props: map[string]string{
			PropVendor:        "xg2g",
			PropVersion:       "1.0",
			PropSecurityLevel: opts.SecurityLevel,
		},
		bprops: map[string][]byte{
			PropDeviceUniqueID: device[:],
		},
		logger: log.WithComponent("simengine"),
	}
}

func (e *Engine) OpenSession() (model.EngineSessionID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.provisioned {
		return nil, fmt.Errorf("open session: %w", ports.ErrNotProvisioned)
	}
	id := uuid.New()
	sid := model.EngineSessionID(id[:])
	e.sessions[sid.Key()] = &session{keys: make(map[string]string)}
	return sid, nil
}

func (e *Engine) CloseSession(id model.EngineSessionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, id.Key())
}

func (e *Engine) CreateCryptoHandle(scheme uuid.UUID, id model.EngineSessionID) (model.CryptoHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[id.Key()]; !ok {
		return nil, ErrUnknownSession
	}
	return &CryptoContext{Scheme: scheme, SessionID: append(model.EngineSessionID(nil), id...)}, nil
}

func (e *Engine) GetKeyRequest(scope []byte, initData []byte, mimeType string, keyType model.KeyType, params map[string]string) (model.KeyRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	req := keyRequest{Params: params}
	switch keyType {
	case model.KeyTypeRelease:
		if _, ok := e.offline[string(scope)]; !ok {
			return model.KeyRequest{}, ErrUnknownKeySet
		}
		req.Type = typeRelease
		req.KeySetID = b64.EncodeToString(scope)
	case model.KeyTypeStreaming, model.KeyTypeOffline:
		if !e.provisioned {
			return model.KeyRequest{}, fmt.Errorf("key request: %w", ports.ErrNotProvisioned)
		}
		s, ok := e.sessions[model.EngineSessionID(scope).Key()]
		if !ok {
			return model.KeyRequest{}, ErrUnknownSession
		}
		s.pending = keyType
		req.Type = typeTemporary
		if keyType == model.KeyTypeOffline {
			req.Type = typePersistent
		}
		req.KIDs = keyIDs(initData)
	default:
		return model.KeyRequest{}, fmt.Errorf("unsupported key type %v", keyType)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return model.KeyRequest{}, err
	}
	return model.KeyRequest{Data: data}, nil
}

// keyIDs extracts key ids from a PSSH box, falling back to a single id
// derived from the raw init data.
func keyIDs(initData []byte) []string {
	if box, err := schemedata.ParseBox(initData); err == nil && len(box.KeyIDs) > 0 {
		out := make([]string, 0, len(box.KeyIDs))
		for _, kid := range box.KeyIDs {
			out = append(out, b64.EncodeToString(kid[:]))
		}
		return out
	}
	kid := uuid.NewSHA1(uuid.NameSpaceOID, initData)
	return []string{b64.EncodeToString(kid[:])}
}

func (e *Engine) ProvideKeyResponse(scope []byte, response []byte) (model.KeySetID, error) {
	var resp keyResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("decode license: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if resp.Type == typeRelease {
		if _, ok := e.offline[string(scope)]; !ok {
			return nil, ErrUnknownKeySet
		}
		delete(e.offline, string(scope))
		return nil, nil
	}
	if !e.provisioned {
		return nil, fmt.Errorf("key response: %w", ports.ErrNotProvisioned)
	}
	s, ok := e.sessions[model.EngineSessionID(scope).Key()]
	if !ok {
		return nil, ErrUnknownSession
	}
	if len(resp.Keys) == 0 {
		return nil, ErrNoKeys
	}

	var expires time.Time
	if resp.DurationSeconds > 0 {
		expires = e.now().Add(time.Duration(resp.DurationSeconds) * time.Second)
	}
	s.keys = make(map[string]string, len(resp.Keys))
	for _, k := range resp.Keys {
		s.keys[k.KID] = k.K
	}
	s.expires = expires

	if s.pending != model.KeyTypeOffline {
		return nil, nil
	}
	ks := uuid.New()
	set := &keySet{keys: make(map[string]string, len(s.keys)), expires: expires}
	for k, v := range s.keys {
		set.keys[k] = v
	}
	e.offline[string(ks[:])] = set
	return model.KeySetID(ks[:]), nil
}

func (e *Engine) GetProvisionRequest() (model.ProvisionRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nonce = uuid.NewString()
	return model.ProvisionRequest{
		Data:       []byte(b64.EncodeToString([]byte(e.nonce))),
		DefaultURL: e.provURL,
	}, nil
}

// ProvideProvisionResponse installs the device certificate. An empty
// response is treated as a denial.
func (e *Engine) ProvideProvisionResponse(response []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(response) == 0 {
		return fmt.Errorf("provision response: %w", ports.ErrDeniedByServer)
	}
	e.provisioned = true
	e.logger.Info().Int("cert_bytes", len(response)).Msg("device provisioned")
	return nil
}

func (e *Engine) RestoreKeys(id model.EngineSessionID, keySetID model.KeySetID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id.Key()]
	if !ok {
		return ErrUnknownSession
	}
	set, ok := e.offline[string(keySetID)]
	if !ok {
		return ErrUnknownKeySet
	}
	s.keys = make(map[string]string, len(set.keys))
	for k, v := range set.keys {
		s.keys[k] = v
	}
	s.expires = set.expires
	return nil
}

// QueryKeyStatus reports remaining validity in seconds. Licenses without a
// duration report a large constant.
func (e *Engine) QueryKeyStatus(id model.EngineSessionID) (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id.Key()]
	if !ok {
		return nil, ErrUnknownSession
	}
	remaining := int64(1 << 31)
	if !s.expires.IsZero() {
		remaining = max(0, int64(s.expires.Sub(e.now())/time.Second))
	}
	r := strconv.FormatInt(remaining, 10)
	return map[string]string{
		model.PropLicenseDurationRemaining:  r,
		model.PropPlaybackDurationRemaining: r,
		"KeyCount":                          strconv.Itoa(len(s.keys)),
	}, nil
}

func (e *Engine) SetEventHandler(h ports.EngineEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

func (e *Engine) PropertyString(key string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.props[key]
	if !ok {
		return "", fmt.Errorf("unknown property %q", key)
	}
	return v, nil
}

func (e *Engine) SetPropertyString(key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.props[key] = value
	return nil
}

func (e *Engine) PropertyBytes(key string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.bprops[key]
	if !ok {
		return nil, fmt.Errorf("unknown property %q", key)
	}
	return append([]byte(nil), v...), nil
}

func (e *Engine) SetPropertyBytes(key string, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bprops[key] = append([]byte(nil), value...)
	return nil
}

// RequiresSecureDecoder is true for video on hardware-backed security levels.
func (e *Engine) RequiresSecureDecoder(handle model.CryptoHandle, mimeType string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.props[PropSecurityLevel] == "L1" && strings.HasPrefix(mimeType, "video/")
}

func (e *Engine) SupportsPatternEncryption() bool {
	return e.pattern
}

// Provisioned reports whether a device certificate is installed.
func (e *Engine) Provisioned() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.provisioned
}

// Revoke drops the device certificate and tells listeners that provisioning
// is required for every open session.
func (e *Engine) Revoke() {
	e.mu.Lock()
	e.provisioned = false
	ids := e.sessionIDsLocked()
	h := e.handler
	e.mu.Unlock()
	for _, id := range ids {
		emit(h, ports.EngineEvent{Type: ports.EventProvisioningRequired, SessionID: id})
	}
}

// CheckExpiry emits KeyExpired for every session whose keys have lapsed.
func (e *Engine) CheckExpiry() int {
	e.mu.Lock()
	now := e.now()
	var expired []model.EngineSessionID
	for key, s := range e.sessions {
		if len(s.keys) > 0 && !s.expires.IsZero() && !now.Before(s.expires) {
			s.keys = make(map[string]string)
			id, _ := idFromKey(key)
			expired = append(expired, id)
		}
	}
	h := e.handler
	e.mu.Unlock()
	for _, id := range expired {
		emit(h, ports.EngineEvent{Type: ports.EventKeyExpired, SessionID: id})
	}
	return len(expired)
}

// Run polls for key expiry until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := e.CheckExpiry(); n > 0 {
				e.logger.Debug().Int("sessions", n).Msg("keys expired")
			}
		}
	}
}

func (e *Engine) sessionIDsLocked() []model.EngineSessionID {
	out := make([]model.EngineSessionID, 0, len(e.sessions))
	for key := range e.sessions {
		if id, err := idFromKey(key); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func emit(h ports.EngineEventHandler, ev ports.EngineEvent) {
	if h != nil {
		h(ev)
	}
}

func idFromKey(key string) (model.EngineSessionID, error) {
	b, err := hex.DecodeString(key)
	return model.EngineSessionID(b), err
}
