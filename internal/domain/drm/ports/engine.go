// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ports

import (
	"github.com/google/uuid"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
)

// EngineEventType tags asynchronous engine notifications.
type EngineEventType int

const (
	EventKeyRequired EngineEventType = iota + 1
	EventKeyExpired
	EventProvisioningRequired
)

func (t EngineEventType) String() string {
	switch t {
	case EventKeyRequired:
		return "key_required"
	case EventKeyExpired:
		return "key_expired"
	case EventProvisioningRequired:
		return "provisioning_required"
	default:
		return "unknown"
	}
}

// EngineEvent is an asynchronous notification for one engine session.
type EngineEvent struct {
	Type      EngineEventType
	SessionID model.EngineSessionID
	Extra     int
	Data      []byte
}

// EngineEventHandler receives engine events. It may be invoked from any
// goroutine and must not block.
type EngineEventHandler func(EngineEvent)

// Engine is the native decryption engine. Implementations need not be safe
// for concurrent use; the manager serializes every call.
type Engine interface {
	OpenSession() (model.EngineSessionID, error)
	CloseSession(id model.EngineSessionID)
	CreateCryptoHandle(scheme uuid.UUID, id model.EngineSessionID) (model.CryptoHandle, error)

	// GetKeyRequest builds a license request. scope is the engine session id,
	// or the offline key-set id for release requests.
	GetKeyRequest(scope []byte, initData []byte, mimeType string, keyType model.KeyType, params map[string]string) (model.KeyRequest, error)
	// ProvideKeyResponse loads a license response. For offline licenses the
	// returned key-set id identifies the persisted license.
	ProvideKeyResponse(scope []byte, response []byte) (model.KeySetID, error)

	GetProvisionRequest() (model.ProvisionRequest, error)
	ProvideProvisionResponse(response []byte) error

	RestoreKeys(id model.EngineSessionID, keySetID model.KeySetID) error
	QueryKeyStatus(id model.EngineSessionID) (map[string]string, error)

	SetEventHandler(h EngineEventHandler)

	PropertyString(key string) (string, error)
	SetPropertyString(key, value string) error
	PropertyBytes(key string) ([]byte, error)
	SetPropertyBytes(key string, value []byte) error

	// RequiresSecureDecoder reports whether content of mimeType needs a secure
	// decoder with the given crypto handle.
	RequiresSecureDecoder(handle model.CryptoHandle, mimeType string) bool
	// SupportsPatternEncryption reports support for cbc1, cbcs and cens.
	SupportsPatternEncryption() bool
}
