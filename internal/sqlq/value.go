package sqlq

import (
	"fmt"
	"strconv"
	"time"
)

// Value is a sealed interface over the result-set value types.
// Only Null, Int, Float, Str, Bytes, Bool, and Time implement it.
//
// Floats are allowed here (unlike in content-addressed IDs) because result
// sets come from real databases; determinism is recovered at the encoding
// boundary by formatting every float with a single fixed format.
type Value interface {
	canonical() string
	value()
}

// Null represents SQL NULL.
type Null struct{}

func (Null) value() {}

// canonical returns an encoding that cannot collide with any real string.
// The 0x00 prefix is unreachable from Str encoding, which escapes it.
func (Null) canonical() string { return "\x00NULL" }

// Int is a 64-bit integer value.
type Int int64

func (Int) value()              {}
func (v Int) canonical() string { return "i:" + strconv.FormatInt(int64(v), 10) }

// Float is a 64-bit floating point value.
type Float float64

func (Float) value() {}

// canonical formats with strconv 'g'/-1 so every float has exactly one
// encoding. Integral floats stay distinct from Ints on purpose: a column
// that changes declared type between rewrites is a real schema difference.
func (v Float) canonical() string {
	return "f:" + strconv.FormatFloat(float64(v), 'g', -1, 64)
}

// Str is a text value.
type Str string

func (Str) value() {}

func (v Str) canonical() string { return "s:" + escapeNUL(normalizeNFC(string(v))) }

// Bytes is a raw binary value.
type Bytes []byte

func (Bytes) value()              {}
func (v Bytes) canonical() string { return "b:" + escapeNUL(string(v)) }

// Bool is a boolean value.
type Bool bool

func (Bool) value() {}
func (v Bool) canonical() string {
	if v {
		return "t:1"
	}
	return "t:0"
}

// Time is a timestamp value, always canonicalized to UTC RFC 3339 nanos.
type Time time.Time

func (Time) value() {}
func (v Time) canonical() string {
	return "d:" + time.Time(v).UTC().Format(time.RFC3339Nano)
}

// FromDriver converts a database/sql scan result into a Value.
// Drivers disagree about integer widths and []byte-vs-string, so this is
// the single normalization point for everything read off a connection.
func FromDriver(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case int64:
		return Int(val), nil
	case int:
		return Int(int64(val)), nil
	case int32:
		return Int(int64(val)), nil
	case float64:
		return Float(val), nil
	case float32:
		return Float(float64(val)), nil
	case string:
		return Str(val), nil
	case []byte:
		// Copy: drivers reuse scan buffers between rows.
		b := make([]byte, len(val))
		copy(b, val)
		return Bytes(b), nil
	case bool:
		return Bool(val), nil
	case time.Time:
		return Time(val), nil
	default:
		return nil, fmt.Errorf("unsupported driver value type %T", v)
	}
}

// escapeNUL makes the canonical encoding prefix-safe: a literal NUL in a
// string or blob can never be confused with the Null marker or a field
// separator.
func escapeNUL(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0x00 {
			out = append(out, '\\', '0')
			continue
		}
		if s[i] == '\\' {
			out = append(out, '\\', '\\')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
