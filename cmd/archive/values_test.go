package archive

import (
	"testing"

	"github.com/ValentinKolb/dCell/lib/archive"
)

func TestParseAssignments(t *testing.T) {
	schema := archive.NewSchema([]archive.Attribute{
		{Name: "name", Type: archive.TypeString},
		{Name: "size", Type: archive.TypeLong},
		{Name: "day", Type: archive.TypeDate},
		{Name: "blob", Type: archive.TypeBinary},
	})

	md, err := parseAssignments(schema, []string{"name=a=b", "size=42", "day=2024-02-29", "blob=cafe"})
	if err != nil {
		t.Fatalf("parseAssignments failed: %v", err)
	}

	tests := []struct {
		name string
		want string
		typ  archive.ValueType
	}{
		{"name", "a=b", archive.TypeString},
		{"size", "42", archive.TypeLong},
		{"day", "2024-02-29", archive.TypeDate},
		{"blob", "cafe", archive.TypeBinary},
	}
	for _, tt := range tests {
		v, ok := md.Get(tt.name)
		if !ok {
			t.Errorf("%s: missing", tt.name)
			continue
		}
		if v.Type() != tt.typ || v.String() != tt.want {
			t.Errorf("%s: expected %s %q, got %s %q", tt.name, tt.typ, tt.want, v.Type(), v.String())
		}
	}

	for _, bad := range [][]string{{"size=many"}, {"unknown=1"}, {"noequals"}, {"blob=xyz"}} {
		if _, err := parseAssignments(schema, bad); err == nil {
			t.Errorf("parseAssignments(%v) should fail", bad)
		}
	}
	if _, err := parseAssignments(schema, []string{"unknown=1"}); !archive.IsCode(err, archive.RetCUnknownAttribute) {
		t.Errorf("expected UnknownAttribute, got %v", err)
	}
}

func TestParseParam(t *testing.T) {
	tests := []struct {
		in   string
		typ  archive.ValueType
		want string
	}{
		{"plain", archive.TypeString, "plain"},
		{"long:42", archive.TypeLong, "42"},
		{"double:1.5", archive.TypeDouble, "1.5"},
		{"note:with colon", archive.TypeString, "note:with colon"},
	}
	for _, tt := range tests {
		v, err := parseParam(tt.in)
		if err != nil {
			t.Errorf("parseParam(%q) failed: %v", tt.in, err)
			continue
		}
		if v.Type() != tt.typ || v.String() != tt.want {
			t.Errorf("parseParam(%q): expected %s %q, got %s %q", tt.in, tt.typ, tt.want, v.Type(), v.String())
		}
	}

	if _, err := parseParam("long:abc"); err == nil {
		t.Error("parseParam(long:abc) should fail")
	}
}
