package codec

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/ValentinKolb/dCell/lib/archive"
)

// NewCurrentCodec creates the tagged (version 1.1) value codec
func NewCurrentCodec() IValueCodec {
	return &currentCodecImpl{}
}

// currentCodecImpl prefixes every value with a single ASCII type tag
type currentCodecImpl struct {
}

// Type tags of the current format
const (
	TagLong      byte = 'l'
	TagDouble    byte = 'd'
	TagString    byte = 's'
	TagChar      byte = 'c'
	TagDate      byte = 'D'
	TagTime      byte = 't'
	TagTimestamp byte = 'T'
	TagBinary    byte = 'b'
	TagObjectID  byte = 'o'
)

var tagTypes = map[byte]archive.ValueType{
	TagLong:      archive.TypeLong,
	TagDouble:    archive.TypeDouble,
	TagString:    archive.TypeString,
	TagChar:      archive.TypeChar,
	TagDate:      archive.TypeDate,
	TagTime:      archive.TypeTime,
	TagTimestamp: archive.TypeTimestamp,
	TagBinary:    archive.TypeBinary,
	TagObjectID:  archive.TypeObjectID,
}

// TagFor returns the wire tag of a value type.
func TagFor(t archive.ValueType) (byte, bool) {
	for tag, typ := range tagTypes {
		if typ == t {
			return tag, true
		}
	}
	return 0, false
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.IValueCodec)
// --------------------------------------------------------------------------

func (c currentCodecImpl) EncodeValue(v archive.Value) (string, error) {
	tag, ok := TagFor(v.Type())
	if !ok {
		return "", archive.Errorf(archive.RetCTypeMismatch, "cannot encode value of type %s", v.Type())
	}

	var payload string
	switch v.Type() {
	case archive.TypeLong:
		n, _ := v.Long()
		payload = strconv.FormatInt(n, 10)
	case archive.TypeDouble:
		f, _ := v.Double()
		payload = fmt.Sprintf("%016x", math.Float64bits(f))
	case archive.TypeString, archive.TypeChar:
		s, _ := v.Str()
		payload = EncodeBase64([]byte(s))
	case archive.TypeDate, archive.TypeTime, archive.TypeTimestamp:
		t, _ := v.Time()
		payload = formatTime(v.Type(), t)
	case archive.TypeBinary, archive.TypeObjectID:
		b, _ := v.Bytes()
		payload = EncodeBase64(b)
	}
	return string(tag) + payload, nil
}

func (c currentCodecImpl) DecodeValue(s string, expected archive.ValueType) (archive.Value, error) {
	if len(s) == 0 {
		return archive.Value{}, archive.NewError(archive.RetCMalformedWireData, "value without type tag")
	}
	typ, ok := tagTypes[s[0]]
	if !ok {
		return archive.Value{}, archive.Errorf(archive.RetCIllegalTag, "illegal type tag %q", s[0])
	}
	if expected != archive.TypeUnknown && expected != typ {
		return archive.Value{}, archive.Errorf(archive.RetCTypeMismatch, "expected %s, wire value is %s", expected, typ)
	}

	payload := s[1:]
	switch typ {
	case archive.TypeLong:
		n, err := parseLong(payload)
		if err != nil {
			return archive.Value{}, err
		}
		return archive.LongValue(n), nil
	case archive.TypeDouble:
		if len(payload) != 16 {
			return archive.Value{}, archive.Errorf(archive.RetCMalformedWireData, "double %q must have exactly 16 hex digits", payload)
		}
		bits, err := strconv.ParseUint(payload, 16, 64)
		if err != nil {
			return archive.Value{}, archive.Errorf(archive.RetCMalformedWireData, "invalid double %q", payload)
		}
		return archive.DoubleValue(math.Float64frombits(bits)), nil
	case archive.TypeString, archive.TypeChar:
		b, err := DecodeBase64(payload)
		if err != nil {
			return archive.Value{}, err
		}
		if typ == archive.TypeChar {
			return archive.CharValue(string(b)), nil
		}
		return archive.StringValue(string(b)), nil
	case archive.TypeDate, archive.TypeTime, archive.TypeTimestamp:
		return parseTime(typ, payload)
	default:
		b, err := DecodeBase64(payload)
		if err != nil {
			return archive.Value{}, err
		}
		if typ == archive.TypeObjectID {
			return archive.ObjectIDValue(b), nil
		}
		return archive.BinaryValue(b), nil
	}
}

func (c currentCodecImpl) EncodeName(name string) string {
	return EncodeBase64([]byte(name))
}

func (c currentCodecImpl) DecodeName(s string) (string, error) {
	b, err := DecodeBase64(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c currentCodecImpl) Version() string {
	return VersionCurrent
}

// --------------------------------------------------------------------------
// Helper (shared with the legacy codec)
// --------------------------------------------------------------------------

const (
	dateLayout      = "2006-01-02"
	timeLayout      = "15:04:05"
	timestampLayout = "2006-01-02T15:04:05.000Z"
)

func formatTime(typ archive.ValueType, t time.Time) string {
	t = t.UTC()
	switch typ {
	case archive.TypeDate:
		return t.Format(dateLayout)
	case archive.TypeTime:
		return t.Format(timeLayout)
	default:
		return t.Format(timestampLayout)
	}
}

func parseTime(typ archive.ValueType, s string) (archive.Value, error) {
	var layout string
	switch typ {
	case archive.TypeDate:
		layout = dateLayout
	case archive.TypeTime:
		layout = timeLayout
	default:
		layout = timestampLayout
	}
	if len(s) != len(layout) {
		return archive.Value{}, archive.Errorf(archive.RetCMalformedWireData, "%s %q does not match %s", typ, s, layout)
	}
	t, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		return archive.Value{}, archive.Errorf(archive.RetCMalformedWireData, "invalid %s %q: %v", typ, s, err)
	}
	switch typ {
	case archive.TypeDate:
		return archive.DateValue(t), nil
	case archive.TypeTime:
		return archive.TimeValue(t), nil
	default:
		return archive.TimestampValue(t), nil
	}
}

func parseLong(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, archive.Errorf(archive.RetCMalformedWireData, "invalid long %q", s)
	}
	return n, nil
}
