// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldContentID     = "content_id"

	// Engine fields
	FieldDRMSession = "drm_session"
	FieldScheme     = "scheme"
	FieldMimeType   = "mime_type"

	// License fields
	FieldMode      = "mode"
	FieldKeyType   = "key_type"
	FieldErrorKind = "error_kind"
	FieldRemaining = "remaining_sec"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Network fields
	FieldURL    = "url"
	FieldStatus = "status"
)
