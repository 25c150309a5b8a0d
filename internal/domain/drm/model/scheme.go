// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Well-known content protection system IDs.
var (
	CommonPSSHUUID = uuid.MustParse("1077efec-c0b2-4d02-ace3-3c1e52e2fb4b")
	ClearKeyUUID   = uuid.MustParse("e2719d58-a985-b3c9-781a-b030af78d30e")
	WidevineUUID   = uuid.MustParse("edef8ba9-79d6-4ace-a3c8-27dcd51d21ed")
	PlayReadyUUID  = uuid.MustParse("9a04f079-9840-4286-ab92-e65be0885f95")
)

// Encryption scheme types as signalled in the container.
const (
	SchemeCENC = "cenc"
	SchemeCBC1 = "cbc1"
	SchemeCBCS = "cbcs"
	SchemeCENS = "cens"
)

// Container mime types relevant to scheme-data normalization.
const (
	MimeVideoMP4 = "video/mp4"
	MimeAudioMP4 = "audio/mp4"
)

// PlayReadyCustomDataKey is the optional key-request parameter carrying
// PlayReady CustomData.
const PlayReadyCustomDataKey = "PRCustomData"

// SchemeData is the initialization payload for one DRM scheme.
type SchemeData struct {
	UUID     uuid.UUID
	MimeType string
	Data     []byte
}

// InitData is the DRM metadata of one elementary stream, keyed by scheme.
type InitData struct {
	// SchemeType is the encryption scheme ("cenc", "cbcs", ...). Empty means
	// patternless AES-CTR.
	SchemeType string
	Schemes    []SchemeData
}

// Get returns the scheme data matching id. Scheme data carrying the nil UUID
// applies to every scheme; an exact match wins over it.
func (d InitData) Get(id uuid.UUID) (SchemeData, bool) {
	var wildcard *SchemeData
	for i := range d.Schemes {
		s := d.Schemes[i]
		if s.UUID == id {
			return s, true
		}
		if s.UUID == uuid.Nil && wildcard == nil {
			wildcard = &d.Schemes[i]
		}
	}
	if wildcard != nil {
		return *wildcard, true
	}
	return SchemeData{}, false
}

// SchemeName returns a short human name for well-known scheme UUIDs.
func SchemeName(id uuid.UUID) string {
	switch id {
	case WidevineUUID:
		return "widevine"
	case PlayReadyUUID:
		return "playready"
	case ClearKeyUUID:
		return "clearkey"
	case CommonPSSHUUID:
		return "common"
	default:
		return id.String()
	}
}

// ParseScheme accepts a well-known scheme name or a UUID string.
func ParseScheme(s string) (uuid.UUID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "widevine":
		return WidevineUUID, nil
	case "playready":
		return PlayReadyUUID, nil
	case "clearkey":
		return ClearKeyUUID, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("unknown drm scheme %q: %w", s, err)
	}
	return id, nil
}
