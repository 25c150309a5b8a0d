// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package schemedata

import (
	"github.com/google/uuid"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
)

// cencMimeType is the only MP4 scheme mime type older ClearKey engines accept.
const cencMimeType = "cenc"

// LegacyNormalizer rewrites scheme data for engines that predate raw PSSH
// and MP4 mime type support.
type LegacyNormalizer struct {
	// ExtractPSSH replaces a Widevine PSSH box with its payload.
	ExtractPSSH bool
	// ClearKeyCencAlias maps MP4 mime types to "cenc" for ClearKey.
	ClearKeyCencAlias bool
}

func (n LegacyNormalizer) Normalize(managerScheme uuid.UUID, data model.SchemeData) model.SchemeData {
	out := data
	if n.ExtractPSSH && managerScheme == model.WidevineUUID {
		// Data that is not a Widevine PSSH atom is left unchanged.
		if payload, ok := SchemeSpecificData(data.Data, model.WidevineUUID); ok {
			out.Data = payload
		}
	}
	if n.ClearKeyCencAlias && managerScheme == model.ClearKeyUUID &&
		(data.MimeType == model.MimeVideoMP4 || data.MimeType == model.MimeAudioMP4) {
		out.MimeType = cencMimeType
	}
	return out
}

// EncryptionSupported reports whether an encryption scheme type can be
// decrypted. Empty and "cenc" mean patternless AES-CTR which every engine
// handles; CBC and pattern modes need engine support. Unknown types are
// assumed supported.
func EncryptionSupported(schemeType string, patternSupported bool) bool {
	switch schemeType {
	case "", model.SchemeCENC:
		return true
	case model.SchemeCBC1, model.SchemeCBCS, model.SchemeCENS:
		return patternSupported
	default:
		return true
	}
}
