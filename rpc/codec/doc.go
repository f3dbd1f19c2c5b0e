// Package codec converts typed metadata values to and from their wire form.
// It defines a common interface and one implementation per metadata format
// version spoken by the cluster cells.
//
// Key Components:
//
//   - IValueCodec: Core interface that all codec implementations must satisfy.
//
//   - currentCodecImpl: The tagged format (version "1.1"). Every value starts
//     with a one character type tag followed by the payload:
//
//     l  long       decimal
//     d  double     16 hex digits of the IEEE-754 bit pattern
//     s  string     base64
//     c  char       base64
//     D  date       YYYY-MM-DD
//     t  time       HH:MM:SS (UTC)
//     T  timestamp  YYYY-MM-DDTHH:MM:SS.mmmZ (UTC)
//     b  binary     base64
//     o  objectid   base64
//
//     Attribute names are base64 encoded as well.
//
//   - legacyCodecImpl: The untagged format (version "1.0") of older cells.
//     Payloads are written bare, binary data as plain hex, names verbatim.
//     Decoding needs the expected type, which the caller usually takes from
//     the schema; values of unknown attributes decode as strings.
//
// Decoding is strict: a payload must be consumed completely, a tag must match
// the expected type and base64 blocks must be complete. Violations are
// reported as *archive.Error with RetCMalformedWireData, RetCTypeMismatch or
// RetCIllegalTag.
//
// Thread Safety:
//
//	All codecs are stateless and safe for concurrent use.
//
// Usage:
//
//	c := codec.ForVersion(versionFromMetadataDocument)
//	wire, err := c.EncodeValue(archive.LongValue(42)) // "l42" for version 1.1
//	v, err := c.DecodeValue(wire, archive.TypeLong)
package codec
