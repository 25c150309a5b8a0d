// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package simengine

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// License types carried in key requests, named as in the W3C ClearKey format.
const (
	typeTemporary  = "temporary"
	typePersistent = "persistent-license"
	typeRelease    = "release"
)

// keyRequest is the JSON body the engine emits for a key request.
type keyRequest struct {
	KIDs     []string          `json:"kids"`
	Type     string            `json:"type"`
	KeySetID string            `json:"keySetId,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

type jwk struct {
	Kty string `json:"kty"`
	KID string `json:"kid"`
	K   string `json:"k"`
}

// keyResponse is the JSON license the engine accepts.
type keyResponse struct {
	Keys            []jwk  `json:"keys"`
	Type            string `json:"type"`
	DurationSeconds int64  `json:"durationSeconds,omitempty"`
}

var b64 = base64.RawURLEncoding

func decodeKeyRequest(data []byte) (keyRequest, error) {
	var req keyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return keyRequest{}, fmt.Errorf("decode key request: %w", err)
	}
	return req, nil
}

// IssueLicense answers a key request with a license granting every
// requested key id for duration seconds. Key material is derived from the
// key id.
func IssueLicense(request []byte, durationSeconds int64) ([]byte, error) {
	req, err := decodeKeyRequest(request)
	if err != nil {
		return nil, err
	}
	resp := keyResponse{Type: req.Type, DurationSeconds: durationSeconds}
	if req.Type != typeRelease {
		for _, kid := range req.KIDs {
			resp.Keys = append(resp.Keys, jwk{Kty: "oct", KID: kid, K: deriveKey(kid)})
		}
	}
	return json.Marshal(resp)
}

func deriveKey(kid string) string {
	raw, err := b64.DecodeString(kid)
	if err != nil {
		raw = []byte(kid)
	}
	k := make([]byte, 16)
	for i := range k {
		if len(raw) > 0 {
			k[i] = raw[i%len(raw)] ^ 0x5a
		}
	}
	return b64.EncodeToString(k)
}
