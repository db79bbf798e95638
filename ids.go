package propagatez

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"time"
)

// TraceID is a 128-bit trace identifier. The zero value is invalid.
type TraceID [16]byte

// SpanID is a 64-bit span identifier. The zero value is invalid.
type SpanID [8]byte

// TraceFlags is the W3C trace-flags byte.
type TraceFlags byte

// FlagsSampled marks a trace whose spans should be recorded.
const FlagsSampled TraceFlags = 0x01

var (
	errTraceIDLength = errors.New("trace id must be 32 hex digits")
	errSpanIDLength  = errors.New("span id must be 16 hex digits")
)

// String returns the lowercase hex form of the trace ID.
func (id TraceID) String() string {
	return hex.EncodeToString(id[:])
}

// IsValid reports whether the trace ID is non-zero.
func (id TraceID) IsValid() bool {
	return id != TraceID{}
}

// IsZero reports whether the trace ID is all zeros.
func (id TraceID) IsZero() bool {
	return !id.IsValid()
}

// MarshalText encodes the trace ID as lowercase hex.
func (id TraceID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes a 32 digit hex trace ID.
func (id *TraceID) UnmarshalText(text []byte) error {
	if len(text) != 2*len(id) {
		return errTraceIDLength
	}
	_, err := hex.Decode(id[:], text)
	return err
}

// String returns the lowercase hex form of the span ID.
func (id SpanID) String() string {
	return hex.EncodeToString(id[:])
}

// IsValid reports whether the span ID is non-zero.
func (id SpanID) IsValid() bool {
	return id != SpanID{}
}

// IsZero reports whether the span ID is all zeros.
func (id SpanID) IsZero() bool {
	return !id.IsValid()
}

// MarshalText encodes the span ID as lowercase hex.
func (id SpanID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes a 16 digit hex span ID.
func (id *SpanID) UnmarshalText(text []byte) error {
	if len(text) != 2*len(id) {
		return errSpanIDLength
	}
	_, err := hex.Decode(id[:], text)
	return err
}

// IsSampled reports whether the sampled bit is set.
func (f TraceFlags) IsSampled() bool {
	return f&FlagsSampled == FlagsSampled
}

// String returns the two digit hex form of the flags.
func (f TraceFlags) String() string {
	return hex.EncodeToString([]byte{byte(f)})
}

// randomTraceID returns a non-zero random trace ID.
// now seeds the fallback when crypto/rand is unavailable.
func randomTraceID(now func() time.Time) TraceID {
	var id TraceID
	for !id.IsValid() {
		if _, err := rand.Read(id[:]); err != nil {
			// Fallback to time-based ID if crypto/rand fails.
			ts := uint64(now().UnixNano())
			binary.BigEndian.PutUint64(id[:8], ts)
			binary.BigEndian.PutUint64(id[8:], ts^0x9e3779b97f4a7c15)
		}
	}
	return id
}

// randomSpanID returns a non-zero random span ID.
func randomSpanID(now func() time.Time) SpanID {
	var id SpanID
	for !id.IsValid() {
		if _, err := rand.Read(id[:]); err != nil {
			binary.BigEndian.PutUint64(id[:], uint64(now().UnixNano())|1)
		}
	}
	return id
}
