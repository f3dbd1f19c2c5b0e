package codec

import (
	"encoding/base64"
	"strings"

	"github.com/ValentinKolb/dCell/lib/archive"
)

// EncodeBase64 encodes with the standard alphabet and padding, without
// line breaks.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBase64 decodes standard, padded base64. Embedded CR/LF are
// ignored. The remaining input must be a multiple of 4 characters and use
// only the alphabet; anything else is malformed wire data.
func DecodeBase64(s string) ([]byte, error) {
	if strings.ContainsAny(s, "\r\n") {
		s = strings.NewReplacer("\r", "", "\n", "").Replace(s)
	}
	if len(s)%4 != 0 {
		return nil, archive.Errorf(archive.RetCMalformedWireData, "base64 block of %d characters is truncated", len(s))
	}
	out, err := base64.StdEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, archive.Errorf(archive.RetCMalformedWireData, "invalid base64: %v", err)
	}
	return out, nil
}
