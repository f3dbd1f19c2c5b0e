package codec

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dCell/lib/archive"
)

// testCodecs is a map of codec name to factory function
var testCodecs = map[string]func() IValueCodec{
	"Current": NewCurrentCodec,
	"Legacy":  NewLegacyCodec,
}

// testValues creates values of every type, including edge cases
func testValues() []archive.Value {
	ts := time.Date(2024, 2, 29, 23, 59, 58, 123_000_000, time.UTC)
	return []archive.Value{
		archive.LongValue(0),
		archive.LongValue(math.MaxInt64),
		archive.LongValue(math.MinInt64),
		archive.DoubleValue(0),
		archive.DoubleValue(math.Copysign(0, -1)),
		archive.DoubleValue(math.Pi),
		archive.DoubleValue(math.SmallestNonzeroFloat64),
		archive.DoubleValue(math.Inf(-1)),
		archive.StringValue(""),
		archive.StringValue("hello world"),
		archive.StringValue("ümlaut <&> \"quoted\""),
		archive.CharValue("x"),
		archive.DateValue(ts),
		archive.TimeValue(ts),
		archive.TimestampValue(ts),
		archive.BinaryValue(nil),
		archive.BinaryValue([]byte{0, 1, 2, 0xfe, 0xff}),
		archive.ObjectIDValue(bytes.Repeat([]byte{0xab}, 30)),
	}
}

// TestCodecRoundTrip tests that every value decodes back to an equal value
func TestCodecRoundTrip(t *testing.T) {
	for name, factory := range testCodecs {
		t.Run(name, func(t *testing.T) {
			c := factory()
			for i, v := range testValues() {
				wire, err := c.EncodeValue(v)
				if err != nil {
					t.Errorf("Failed to encode value %d (%s): %v", i, v.Type(), err)
					continue
				}
				got, err := c.DecodeValue(wire, v.Type())
				if err != nil {
					t.Errorf("Failed to decode value %d (%q): %v", i, wire, err)
					continue
				}
				if !got.Equal(v) {
					t.Errorf("Value %d mismatch: want %s (%s), got %s (%s)", i, v, v.Type(), got, got.Type())
				}
			}
		})
	}
}

// TestCurrentNaN tests that NaN payloads survive bit for bit
func TestCurrentNaN(t *testing.T) {
	c := NewCurrentCodec()
	nan := math.Float64frombits(0x7ff8000000000123)
	wire, err := c.EncodeValue(archive.DoubleValue(nan))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if wire != "d7ff8000000000123" {
		t.Errorf("Unexpected wire form %q", wire)
	}
	got, err := c.DecodeValue(wire, archive.TypeDouble)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	f, _ := got.Double()
	if math.Float64bits(f) != 0x7ff8000000000123 {
		t.Errorf("NaN bits changed: %x", math.Float64bits(f))
	}
}

// TestCurrentWireForm tests the exact tagged representation
func TestCurrentWireForm(t *testing.T) {
	c := NewCurrentCodec()
	ts := time.Date(2001, 9, 9, 1, 46, 40, 5_000_000, time.UTC)
	cases := map[string]archive.Value{
		"l-17":                      archive.LongValue(-17),
		"d3ff0000000000000":         archive.DoubleValue(1),
		"saGk=":                     archive.StringValue("hi"),
		"D2001-09-09":               archive.DateValue(ts),
		"t01:46:40":                 archive.TimeValue(ts),
		"T2001-09-09T01:46:40.005Z": archive.TimestampValue(ts),
		"bAAH/":                     archive.BinaryValue([]byte{0, 1, 0xff}),
	}
	for want, v := range cases {
		got, err := c.EncodeValue(v)
		if err != nil {
			t.Errorf("Encode(%s) failed: %v", v, err)
			continue
		}
		if got != want {
			t.Errorf("Encode(%s) = %q, want %q", v, got, want)
		}
	}
}

// TestCurrentUnknownAcceptsTag tests that TypeUnknown takes the tag's type
func TestCurrentUnknownAcceptsTag(t *testing.T) {
	v, err := NewCurrentCodec().DecodeValue("l42", archive.TypeUnknown)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if n, err := v.Long(); err != nil || n != 42 {
		t.Errorf("Expected long 42, got %s (%v)", v, err)
	}
}

// TestCurrentDecodeErrors tests malformed tagged values
func TestCurrentDecodeErrors(t *testing.T) {
	c := NewCurrentCodec()
	cases := []struct {
		wire     string
		expected archive.ValueType
		code     archive.RetCode
	}{
		{"", archive.TypeLong, archive.RetCMalformedWireData},
		{"x12", archive.TypeUnknown, archive.RetCIllegalTag},
		{"l12", archive.TypeDouble, archive.RetCTypeMismatch},
		{"l12abc", archive.TypeLong, archive.RetCMalformedWireData},
		{"l", archive.TypeLong, archive.RetCMalformedWireData},
		{"d", archive.TypeDouble, archive.RetCMalformedWireData},
		{"d3ff00000000000000", archive.TypeDouble, archive.RetCMalformedWireData},
		{"d3ff", archive.TypeDouble, archive.RetCMalformedWireData},
		{"d0", archive.TypeDouble, archive.RetCMalformedWireData},
		{"d+3ff000000000000", archive.TypeDouble, archive.RetCMalformedWireData},
		{"dxyz", archive.TypeDouble, archive.RetCMalformedWireData},
		{"D2001-09", archive.TypeDate, archive.RetCMalformedWireData},
		{"D2001-09-09x", archive.TypeDate, archive.RetCMalformedWireData},
		{"t25:00:00", archive.TypeTime, archive.RetCMalformedWireData},
		{"T2001-09-09T01:46:40Z", archive.TypeTimestamp, archive.RetCMalformedWireData},
		{"saGk", archive.TypeString, archive.RetCMalformedWireData},
		{"sa*k=", archive.TypeString, archive.RetCMalformedWireData},
	}
	for _, tc := range cases {
		_, err := c.DecodeValue(tc.wire, tc.expected)
		if archive.CodeOf(err) != tc.code {
			t.Errorf("Decode(%q, %s): expected %s, got %v", tc.wire, tc.expected, tc.code, err)
		}
	}
}

// TestLegacyDecode tests type driven decoding of untagged values
func TestLegacyDecode(t *testing.T) {
	c := NewLegacyCodec()

	v, err := c.DecodeValue("1.5e3", archive.TypeDouble)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if f, _ := v.Double(); f != 1500 {
		t.Errorf("Expected 1500, got %v", f)
	}

	if _, err := c.DecodeValue("1.5x", archive.TypeDouble); archive.CodeOf(err) != archive.RetCMalformedWireData {
		t.Errorf("Trailing garbage should be malformed, got %v", err)
	}
	if _, err := c.DecodeValue("0g", archive.TypeBinary); archive.CodeOf(err) != archive.RetCMalformedWireData {
		t.Errorf("Bad hex should be malformed, got %v", err)
	}

	// unknown attributes fall back to strings
	v, err = c.DecodeValue("l42", archive.TypeUnknown)
	if err != nil || v.Type() != archive.TypeString {
		t.Errorf("Expected string fallback, got %s (%v)", v.Type(), err)
	}
}

// TestNames tests attribute name encoding per version
func TestNames(t *testing.T) {
	for name, factory := range testCodecs {
		t.Run(name, func(t *testing.T) {
			c := factory()
			for _, n := range []string{"", "title", "a b=c"} {
				got, err := c.DecodeName(c.EncodeName(n))
				if err != nil || got != n {
					t.Errorf("Name %q round trip gave %q (%v)", n, got, err)
				}
			}
		})
	}
	if NewLegacyCodec().EncodeName("title") != "title" {
		t.Error("Legacy names must be verbatim")
	}
	if NewCurrentCodec().EncodeName("title") != "dGl0bGU=" {
		t.Error("Current names must be base64")
	}
}

// TestForVersion tests codec selection
func TestForVersion(t *testing.T) {
	if ForVersion("1.1").Version() != VersionCurrent {
		t.Error("1.1 should select the current codec")
	}
	for _, v := range []string{"", "1.0", "2.7"} {
		if ForVersion(v).Version() != VersionLegacy {
			t.Errorf("%q should select the legacy codec", v)
		}
	}
}

// TestBase64RoundTrip tests every input length from 0 to 64
func TestBase64RoundTrip(t *testing.T) {
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i * 37)
	}
	for n := 0; n <= len(data); n++ {
		enc := EncodeBase64(data[:n])
		if strings.ContainsAny(enc, "\r\n") {
			t.Errorf("Length %d: encoder emitted a line break", n)
		}
		dec, err := DecodeBase64(enc)
		if err != nil {
			t.Errorf("Length %d: decode failed: %v", n, err)
			continue
		}
		if !bytes.Equal(dec, data[:n]) {
			t.Errorf("Length %d: round trip mismatch", n)
		}
	}
}

// TestBase64Decode tests line break tolerance and failure cases
func TestBase64Decode(t *testing.T) {
	dec, err := DecodeBase64("aGVs\r\nbG8=")
	if err != nil || string(dec) != "hello" {
		t.Errorf("Expected hello, got %q (%v)", dec, err)
	}

	for _, bad := range []string{"a", "aGk", "aG=k", "aGk*", "aGl=", "===="} {
		if _, err := DecodeBase64(bad); archive.CodeOf(err) != archive.RetCMalformedWireData {
			t.Errorf("DecodeBase64(%q): expected MalformedWireData, got %v", bad, err)
		}
	}
}
