package propagatez

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// TraceparentHeader is the W3C Trace Context header name.
const TraceparentHeader = "traceparent"

// TraceparentVersion is the only traceparent version produced and accepted.
const TraceparentVersion = "00"

// traceparentLen is the fixed length of a version 00 value: 2+1+32+1+16+1+2.
const traceparentLen = 55

// ErrInvalidTraceparent is wrapped by every decode failure.
var ErrInvalidTraceparent = errors.New("invalid traceparent")

// Decode failures, one per rejection reason.
var (
	ErrTraceparentMissing = fmt.Errorf("%w: empty value", ErrInvalidTraceparent)
	ErrTraceparentFields  = fmt.Errorf("%w: expected 4 hyphen-separated fields", ErrInvalidTraceparent)
	ErrTraceparentWidth   = fmt.Errorf("%w: field has wrong width", ErrInvalidTraceparent)
	ErrTraceparentHex     = fmt.Errorf("%w: field is not hexadecimal", ErrInvalidTraceparent)
	ErrTraceparentVersion = fmt.Errorf("%w: unsupported version", ErrInvalidTraceparent)
	ErrZeroTraceID        = fmt.Errorf("%w: all-zero trace id", ErrInvalidTraceparent)
	ErrZeroSpanID         = fmt.Errorf("%w: all-zero span id", ErrInvalidTraceparent)
)

// field widths in hex digits: version, trace id, parent id, flags.
var traceparentWidths = [4]int{2, 32, 16, 2}

// FormatTraceparent encodes sc as a version 00 traceparent value.
// The output depends only on sc.
func FormatTraceparent(sc SpanContext) string {
	var buf [traceparentLen]byte
	copy(buf[0:2], TraceparentVersion)
	buf[2] = '-'
	hex.Encode(buf[3:35], sc.TraceID[:])
	buf[35] = '-'
	hex.Encode(buf[36:52], sc.SpanID[:])
	buf[52] = '-'
	hex.Encode(buf[53:55], []byte{byte(sc.TraceFlags)})
	return string(buf[:])
}

// ParseTraceparent decodes a traceparent value. The returned context is
// marked Remote. On failure the error is one of the ErrTraceparent* or
// ErrZero* values and the context is zero.
//
// Hex digits are accepted in either case.
func ParseTraceparent(value string) (SpanContext, error) {
	if value == "" {
		return SpanContext{}, ErrTraceparentMissing
	}

	fields := strings.Split(value, "-")
	if len(fields) != len(traceparentWidths) {
		return SpanContext{}, ErrTraceparentFields
	}
	for i, f := range fields {
		if len(f) != traceparentWidths[i] {
			return SpanContext{}, ErrTraceparentWidth
		}
		if !isHex(f) {
			return SpanContext{}, ErrTraceparentHex
		}
	}

	if fields[0] != TraceparentVersion {
		return SpanContext{}, ErrTraceparentVersion
	}

	sc := SpanContext{Remote: true}
	// Widths and digits were checked above; Decode cannot fail.
	_, _ = hex.Decode(sc.TraceID[:], []byte(fields[1]))
	_, _ = hex.Decode(sc.SpanID[:], []byte(fields[2]))
	var flags [1]byte
	_, _ = hex.Decode(flags[:], []byte(fields[3]))
	sc.TraceFlags = TraceFlags(flags[0])

	if !sc.TraceID.IsValid() {
		return SpanContext{}, ErrZeroTraceID
	}
	if !sc.SpanID.IsValid() {
		return SpanContext{}, ErrZeroSpanID
	}
	return sc, nil
}

// DecodeTraceparent is ParseTraceparent without the reason: ok is false for
// any value that does not carry a usable parent.
func DecodeTraceparent(value string) (SpanContext, bool) {
	sc, err := ParseTraceparent(value)
	return sc, err == nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// rejectReason is the short tag value recorded on spans for a decode failure.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrTraceparentMissing):
		return "empty"
	case errors.Is(err, ErrTraceparentFields):
		return "fields"
	case errors.Is(err, ErrTraceparentWidth):
		return "width"
	case errors.Is(err, ErrTraceparentHex):
		return "hex"
	case errors.Is(err, ErrTraceparentVersion):
		return "version"
	case errors.Is(err, ErrZeroTraceID):
		return "zero_trace_id"
	case errors.Is(err, ErrZeroSpanID):
		return "zero_span_id"
	default:
		return "invalid"
	}
}
