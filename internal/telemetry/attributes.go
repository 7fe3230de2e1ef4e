// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	SessionIDKey  = "capture.session_id"
	DecodeModeKey = "capture.mode"

	FrameSeqKey    = "frame.seq"
	FrameWidthKey  = "frame.width"
	FrameHeightKey = "frame.height"

	DecodeOutcomeKey = "decode.outcome"
	DecodeFormatKey  = "decode.format"

	ErrorKey = "error"
)

// FrameAttributes creates frame-related span attributes.
func FrameAttributes(seq uint64, width, height int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(FrameSeqKey, int64(seq)),
		attribute.Int(FrameWidthKey, width),
		attribute.Int(FrameHeightKey, height),
	}
}

// DecodeAttributes creates decode outcome span attributes. format is omitted when empty.
func DecodeAttributes(outcome, format string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	attrs = append(attrs, attribute.String(DecodeOutcomeKey, outcome))
	if format != "" {
		attrs = append(attrs, attribute.String(DecodeFormatKey, format))
	}
	return attrs
}

// SessionAttributes creates session span attributes.
func SessionAttributes(sessionID, mode string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SessionIDKey, sessionID),
		attribute.String(DecodeModeKey, mode),
	}
}
