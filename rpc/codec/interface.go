package codec

import "github.com/ValentinKolb/dCell/lib/archive"

const (
	// VersionCurrent is the metadata format version that uses type tags
	VersionCurrent = "1.1"
	// VersionLegacy is the untagged metadata format
	VersionLegacy = "1.0"
)

// IValueCodec is the interface for all typed value wire encodings
type IValueCodec interface {
	// EncodeValue converts a typed value into its wire representation
	EncodeValue(v archive.Value) (string, error)
	// DecodeValue parses a wire value. expected is the type the caller
	// expects; archive.TypeUnknown accepts whatever the wire says (only
	// possible for tagged encodings, untagged ones fall back to string).
	DecodeValue(s string, expected archive.ValueType) (archive.Value, error)
	// EncodeName converts an attribute name for use in a markup attribute
	EncodeName(name string) string
	// DecodeName is the inverse of EncodeName
	DecodeName(s string) (string, error)
	// Version returns the metadata format version the codec implements
	Version() string
}

// ForVersion returns the codec for a metadata format version. Unknown and
// empty versions map to the legacy codec.
func ForVersion(version string) IValueCodec {
	if version == VersionCurrent {
		return NewCurrentCodec()
	}
	return NewLegacyCodec()
}
