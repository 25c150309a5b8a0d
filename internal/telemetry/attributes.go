// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	SchemeKey      = "drm.scheme"
	ExchangeKey    = "drm.exchange"
	KeyTypeKey     = "drm.key_type"
	RequestTypeKey = "drm.request_type"
	PayloadSizeKey = "drm.payload_bytes"
	ErrorKindKey   = "drm.error_kind"
)

// ExchangeAttributes describes one license or provisioning round trip.
func ExchangeAttributes(scheme, exchange string, payloadBytes int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SchemeKey, scheme),
		attribute.String(ExchangeKey, exchange),
		attribute.Int(PayloadSizeKey, payloadBytes),
	}
}

// RecordError marks span as failed with a DRM error kind.
func RecordError(span trace.Span, err error, kind string) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String(ErrorKindKey, kind))
	span.SetStatus(codes.Error, err.Error())
}
