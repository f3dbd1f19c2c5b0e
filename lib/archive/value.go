package archive

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// ValueType enumerates the metadata types known to the cluster.
type ValueType int

const (
	TypeUnknown ValueType = iota
	TypeLong
	TypeDouble
	TypeString
	TypeChar
	TypeDate
	TypeTime
	TypeTimestamp
	TypeBinary
	TypeObjectID
)

var valueTypeNames = []string{
	TypeUnknown:   "unknown",
	TypeLong:      "long",
	TypeDouble:    "double",
	TypeString:    "string",
	TypeChar:      "char",
	TypeDate:      "date",
	TypeTime:      "time",
	TypeTimestamp: "timestamp",
	TypeBinary:    "binary",
	TypeObjectID:  "objectid",
}

func (t ValueType) String() string {
	if t < 0 || int(t) >= len(valueTypeNames) {
		return fmt.Sprintf("ValueType(%d)", int(t))
	}
	return valueTypeNames[t]
}

// ParseValueType maps a schema type name to its ValueType.
func ParseValueType(name string) (ValueType, error) {
	for i, n := range valueTypeNames {
		if n == name && i != int(TypeUnknown) {
			return ValueType(i), nil
		}
	}
	return TypeUnknown, Errorf(RetCMalformedWireData, "unknown value type %q", name)
}

// --------------------------------------------------------------------------
// Value
// --------------------------------------------------------------------------

// Value is a tagged union over the metadata types. The zero Value has type
// TypeUnknown and is not valid in records.
type Value struct {
	typ ValueType
	i   int64
	f   float64
	s   string
	t   time.Time
	b   []byte
}

func LongValue(v int64) Value     { return Value{typ: TypeLong, i: v} }
func DoubleValue(v float64) Value { return Value{typ: TypeDouble, f: v} }
func StringValue(v string) Value  { return Value{typ: TypeString, s: v} }
func CharValue(v string) Value    { return Value{typ: TypeChar, s: v} }

// DateValue keeps only the calendar date of v (in UTC).
func DateValue(v time.Time) Value {
	v = v.UTC()
	return Value{typ: TypeDate, t: time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC)}
}

// TimeValue keeps only the time of day of v (in UTC, second precision).
func TimeValue(v time.Time) Value {
	v = v.UTC()
	return Value{typ: TypeTime, t: time.Date(1970, 1, 1, v.Hour(), v.Minute(), v.Second(), 0, time.UTC)}
}

// TimestampValue keeps v in UTC with millisecond precision.
func TimestampValue(v time.Time) Value {
	return Value{typ: TypeTimestamp, t: v.UTC().Truncate(time.Millisecond)}
}

// BinaryValue copies v.
func BinaryValue(v []byte) Value {
	return Value{typ: TypeBinary, b: bytes.Clone(nonNil(v))}
}

// ObjectIDValue stores the raw bytes of an object identifier.
func ObjectIDValue(v []byte) Value {
	return Value{typ: TypeObjectID, b: bytes.Clone(nonNil(v))}
}

func (v Value) Type() ValueType { return v.typ }

func (v Value) Long() (int64, error) {
	if v.typ != TypeLong {
		return 0, v.mismatch(TypeLong)
	}
	return v.i, nil
}

func (v Value) Double() (float64, error) {
	if v.typ != TypeDouble {
		return 0, v.mismatch(TypeDouble)
	}
	return v.f, nil
}

// Str returns the payload of a string or char value.
func (v Value) Str() (string, error) {
	if v.typ != TypeString && v.typ != TypeChar {
		return "", v.mismatch(TypeString)
	}
	return v.s, nil
}

// Time returns the payload of a date, time or timestamp value.
func (v Value) Time() (time.Time, error) {
	if v.typ != TypeDate && v.typ != TypeTime && v.typ != TypeTimestamp {
		return time.Time{}, v.mismatch(TypeTimestamp)
	}
	return v.t, nil
}

// Bytes returns the payload of a binary or object id value.
func (v Value) Bytes() ([]byte, error) {
	if v.typ != TypeBinary && v.typ != TypeObjectID {
		return nil, v.mismatch(TypeBinary)
	}
	return v.b, nil
}

// ObjectID renders an object id value as its hex identifier.
func (v Value) ObjectID() (ObjectID, error) {
	if v.typ != TypeObjectID {
		return "", v.mismatch(TypeObjectID)
	}
	return ParseObjectID(hex.EncodeToString(v.b))
}

// Equal compares type and payload. Doubles are compared by bit pattern.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeLong:
		return v.i == o.i
	case TypeDouble:
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case TypeString, TypeChar:
		return v.s == o.s
	case TypeDate, TypeTime, TypeTimestamp:
		return v.t.Equal(o.t)
	case TypeBinary, TypeObjectID:
		return bytes.Equal(v.b, o.b)
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.typ {
	case TypeLong:
		return fmt.Sprintf("%d", v.i)
	case TypeDouble:
		return fmt.Sprintf("%g", v.f)
	case TypeString, TypeChar:
		return v.s
	case TypeDate:
		return v.t.Format(time.DateOnly)
	case TypeTime:
		return v.t.Format(time.TimeOnly)
	case TypeTimestamp:
		return v.t.Format("2006-01-02T15:04:05.000Z")
	case TypeBinary, TypeObjectID:
		return fmt.Sprintf("%x", v.b)
	default:
		return "<unknown>"
	}
}

func (v Value) mismatch(want ValueType) error {
	return Errorf(RetCTypeMismatch, "value is %s, not %s", v.typ, want)
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
