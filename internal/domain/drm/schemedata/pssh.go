// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package schemedata handles container-level DRM initialization data: PSSH
// box parsing and the legacy rewrites some engines still need.
package schemedata

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotPSSH        = errors.New("not a pssh box")
	ErrTruncated      = errors.New("pssh box truncated")
	ErrUnsupportedVer = errors.New("unsupported pssh version")
)

const (
	psshHeaderSize = 32 // size + type + version/flags + system id + data size (v0)
	keyIDSize      = 16
)

// Box is a parsed 'pssh' atom.
type Box struct {
	Version  uint8
	SystemID uuid.UUID
	KeyIDs   []uuid.UUID
	Data     []byte
}

// ParseBox parses a single PSSH box (version 0 or 1). The declared atom size
// must match len(b).
func ParseBox(b []byte) (Box, error) {
	if len(b) < psshHeaderSize {
		return Box{}, fmt.Errorf("%w: %d bytes", ErrTruncated, len(b))
	}
	if size := binary.BigEndian.Uint32(b[0:4]); int(size) != len(b) {
		return Box{}, fmt.Errorf("%w: atom size %d, have %d", ErrTruncated, size, len(b))
	}
	if string(b[4:8]) != "pssh" {
		return Box{}, fmt.Errorf("%w: type %q", ErrNotPSSH, string(b[4:8]))
	}

	box := Box{Version: b[8]}
	if box.Version > 1 {
		return Box{}, fmt.Errorf("%w: %d", ErrUnsupportedVer, box.Version)
	}
	copy(box.SystemID[:], b[12:28])

	off := 28
	if box.Version == 1 {
		count := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if count < 0 || len(b) < off+count*keyIDSize+4 {
			return Box{}, fmt.Errorf("%w: %d key ids", ErrTruncated, count)
		}
		box.KeyIDs = make([]uuid.UUID, count)
		for i := range box.KeyIDs {
			copy(box.KeyIDs[i][:], b[off:off+keyIDSize])
			off += keyIDSize
		}
	}

	if len(b) < off+4 {
		return Box{}, fmt.Errorf("%w: missing data size", ErrTruncated)
	}
	dataSize := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if dataSize < 0 || len(b) != off+dataSize {
		return Box{}, fmt.Errorf("%w: data size %d, have %d", ErrTruncated, dataSize, len(b)-off)
	}
	box.Data = b[off : off+dataSize]
	return box, nil
}

// SchemeSpecificData returns the payload of b when it is a PSSH box for
// system. ok is false if b is not a well-formed box or belongs to another
// system.
func SchemeSpecificData(b []byte, system uuid.UUID) ([]byte, bool) {
	box, err := ParseBox(b)
	if err != nil || box.SystemID != system {
		return nil, false
	}
	return box.Data, true
}

// BuildBox serializes a PSSH box. Key ids switch the box to version 1.
func BuildBox(system uuid.UUID, keyIDs []uuid.UUID, data []byte) []byte {
	size := psshHeaderSize + len(data)
	version := byte(0)
	if len(keyIDs) > 0 {
		version = 1
		size += 4 + len(keyIDs)*keyIDSize
	}

	out := make([]byte, 0, size)
	out = binary.BigEndian.AppendUint32(out, uint32(size))
	out = append(out, "pssh"...)
	out = append(out, version, 0, 0, 0)
	out = append(out, system[:]...)
	if version == 1 {
		out = binary.BigEndian.AppendUint32(out, uint32(len(keyIDs)))
		for _, id := range keyIDs {
			out = append(out, id[:]...)
		}
	}
	out = binary.BigEndian.AppendUint32(out, uint32(len(data)))
	return append(out, data...)
}
