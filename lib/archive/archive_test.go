package archive

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func testOID(cell string) string {
	return "01" + cell + strings.Repeat("ab", 28)
}

// TestParseObjectID tests identifier validation and cell extraction
func TestParseObjectID(t *testing.T) {
	oid, err := ParseObjectID(testOID("2F"))
	if err != nil {
		t.Fatalf("ParseObjectID failed: %v", err)
	}
	cell, err := oid.CellID()
	if err != nil {
		t.Fatalf("CellID failed: %v", err)
	}
	if cell != 0x2f {
		t.Errorf("Expected cell 47, got %d", cell)
	}
	if !oid.Valid() {
		t.Error("Parsed id should be valid")
	}

	invalid := []string{"", "abc", testOID("2F") + "0", strings.Repeat("g", ObjectIDLength)}
	for _, s := range invalid {
		if _, err := ParseObjectID(s); !errors.Is(err, ErrInvalidObjectID) {
			t.Errorf("ParseObjectID(%q) should fail with InvalidObjectID, got %v", s, err)
		}
	}

	if NullObjectID.Valid() {
		t.Error("Null object id must not be valid")
	}
}

// TestObjectIDValue tests the conversion between ids and typed values
func TestObjectIDValue(t *testing.T) {
	oid, _ := ParseObjectID(testOID("05"))
	v, err := oid.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	back, err := v.ObjectID()
	if err != nil {
		t.Fatalf("ObjectID failed: %v", err)
	}
	if back != oid {
		t.Errorf("Expected %s, got %s", oid, back)
	}
}

// TestValueAccessors tests that accessors enforce the value type
func TestValueAccessors(t *testing.T) {
	if _, err := StringValue("x").Long(); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Long on a string should fail with TypeMismatch, got %v", err)
	}
	if s, err := CharValue("c").Str(); err != nil || s != "c" {
		t.Errorf("Str on a char returned %q, %v", s, err)
	}

	nan1 := DoubleValue(math.Float64frombits(0x7ff8000000000001))
	nan2 := DoubleValue(math.Float64frombits(0x7ff8000000000001))
	if !nan1.Equal(nan2) {
		t.Error("Doubles with identical bit patterns must be equal")
	}
	if DoubleValue(0).Equal(DoubleValue(math.Copysign(0, -1))) {
		t.Error("+0 and -0 differ in their bit pattern")
	}

	ts := time.Date(2024, 3, 4, 5, 6, 7, 891234567, time.FixedZone("x", 3600))
	v := TimestampValue(ts)
	got, _ := v.Time()
	if got.Nanosecond() != 891000000 || got.Location() != time.UTC {
		t.Errorf("Timestamp should be UTC with millisecond precision, got %v", got)
	}
}

// TestRecordOrderAndReplace tests insertion order and in place replacement
func TestRecordOrderAndReplace(t *testing.T) {
	r := NewRecord(nil)
	_ = r.Set("b", LongValue(1))
	_ = r.Set("a", LongValue(2))
	_ = r.Set("b", LongValue(3))

	names := r.Names()
	if len(names) != 2 || names[0] != "b" || names[1] != "a" {
		t.Fatalf("Unexpected names %v", names)
	}
	v, _ := r.Get("b")
	if n, _ := v.Long(); n != 3 {
		t.Errorf("Expected replaced value 3, got %d", n)
	}

	r.Delete("b")
	if r.Len() != 1 {
		t.Errorf("Expected 1 attribute after delete, got %d", r.Len())
	}
}

// TestRecordSchemaValidation tests schema checks on insertion
func TestRecordSchemaValidation(t *testing.T) {
	schema := NewSchema([]Attribute{
		{Name: "size", Type: TypeLong},
		{Name: "title", Type: TypeString, Length: 64},
	})
	r := NewRecord(schema)

	if err := r.Set("size", LongValue(10)); err != nil {
		t.Errorf("Valid long rejected: %v", err)
	}
	if err := r.Set("size", StringValue("10")); err != nil {
		t.Errorf("Strings must always be accepted: %v", err)
	}
	if err := r.Set("size", DoubleValue(1)); CodeOf(err) != RetCSchemaMismatch {
		t.Errorf("Expected SchemaMismatch, got %v", err)
	}
	if err := r.Set("nope", LongValue(1)); CodeOf(err) != RetCUnknownAttribute {
		t.Errorf("Expected UnknownAttribute, got %v", err)
	}
}

// TestErrorCodes tests code extraction and sentinel matching
func TestErrorCodes(t *testing.T) {
	err := Errorf(RetCNoSuchCell, "cell %d", 4)
	if !errors.Is(err, ErrNoSuchCell) {
		t.Error("errors.Is should match on the code")
	}
	if CodeOf(nil) != RetCSuccess {
		t.Error("nil should map to success")
	}
	if CodeOf(errors.New("plain")) != RetCInternalError {
		t.Error("plain errors should map to internal error")
	}
	if !strings.Contains(err.Error(), "NoSuchCell") {
		t.Errorf("Error text should name the code: %s", err.Error())
	}
}
