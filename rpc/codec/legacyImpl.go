package codec

import (
	"encoding/hex"
	"strconv"

	"github.com/ValentinKolb/dCell/lib/archive"
)

// NewLegacyCodec creates the untagged (version 1.0) value codec
func NewLegacyCodec() IValueCodec {
	return &legacyCodecImpl{}
}

// legacyCodecImpl writes bare payloads. The value type is not on the wire,
// so decoding depends on the type the caller expects (usually taken from the
// schema).
type legacyCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.IValueCodec)
// --------------------------------------------------------------------------

func (c legacyCodecImpl) EncodeValue(v archive.Value) (string, error) {
	switch v.Type() {
	case archive.TypeLong:
		n, _ := v.Long()
		return strconv.FormatInt(n, 10), nil
	case archive.TypeDouble:
		f, _ := v.Double()
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case archive.TypeString, archive.TypeChar:
		s, _ := v.Str()
		return s, nil
	case archive.TypeDate, archive.TypeTime, archive.TypeTimestamp:
		t, _ := v.Time()
		return formatTime(v.Type(), t), nil
	case archive.TypeBinary, archive.TypeObjectID:
		b, _ := v.Bytes()
		return hex.EncodeToString(b), nil
	default:
		return "", archive.Errorf(archive.RetCTypeMismatch, "cannot encode value of type %s", v.Type())
	}
}

func (c legacyCodecImpl) DecodeValue(s string, expected archive.ValueType) (archive.Value, error) {
	switch expected {
	case archive.TypeLong:
		n, err := parseLong(s)
		if err != nil {
			return archive.Value{}, err
		}
		return archive.LongValue(n), nil
	case archive.TypeDouble:
		// ParseFloat fails unless the whole string is consumed
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return archive.Value{}, archive.Errorf(archive.RetCMalformedWireData, "invalid double %q", s)
		}
		return archive.DoubleValue(f), nil
	case archive.TypeChar:
		return archive.CharValue(s), nil
	case archive.TypeDate, archive.TypeTime, archive.TypeTimestamp:
		return parseTime(expected, s)
	case archive.TypeBinary, archive.TypeObjectID:
		b, err := hex.DecodeString(s)
		if err != nil {
			return archive.Value{}, archive.Errorf(archive.RetCMalformedWireData, "invalid hex %q", s)
		}
		if expected == archive.TypeObjectID {
			return archive.ObjectIDValue(b), nil
		}
		return archive.BinaryValue(b), nil
	default:
		// strings and attributes the schema does not know
		return archive.StringValue(s), nil
	}
}

func (c legacyCodecImpl) EncodeName(name string) string {
	return name
}

func (c legacyCodecImpl) DecodeName(s string) (string, error) {
	return s, nil
}

func (c legacyCodecImpl) Version() string {
	return VersionLegacy
}
