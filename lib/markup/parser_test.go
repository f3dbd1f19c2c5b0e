package markup

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ValentinKolb/dCell/lib/archive"
)

// recorder collects element events as strings
type recorder struct {
	events []string
}

func (r *recorder) StartElement(name string, attrs []Attr) error {
	parts := []string{"+" + name}
	for _, a := range attrs {
		parts = append(parts, fmt.Sprintf("%s=%s", a.Name, a.Value))
	}
	r.events = append(r.events, strings.Join(parts, " "))
	return nil
}

func (r *recorder) EndElement(name string) error {
	r.events = append(r.events, "-"+name)
	return nil
}

// TestParserEvents tests element and attribute reporting
func TestParserEvents(t *testing.T) {
	rec := &recorder{}
	p := NewParser(rec)

	doc := `<?xml version="1.0"?><!-- a > b --><root a="1" b='x &amp; y'><child v="&#65;&#x42;"/>text</root>`
	n, err := p.Feed([]byte(doc))
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if n != len(doc) {
		t.Errorf("Expected %d consumed bytes, got %d", len(doc), n)
	}
	if !p.Done() {
		t.Error("Parser should be done after the root closed")
	}

	expected := []string{"+root a=1 b=x & y", "+child v=AB", "-child", "-root"}
	if strings.Join(rec.events, "|") != strings.Join(expected, "|") {
		t.Errorf("Unexpected events %v", rec.events)
	}
}

// TestParserByteByByte tests that arbitrary splits produce the same events
func TestParserByteByByte(t *testing.T) {
	doc := `<a x="1 > 2"><b/><c y="z"></c></a>`

	whole := &recorder{}
	if _, err := NewParser(whole).Feed([]byte(doc)); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}

	split := &recorder{}
	p := NewParser(split)
	for i := 0; i < len(doc); i++ {
		if _, err := p.Feed([]byte{doc[i]}); err != nil {
			t.Fatalf("Feed failed at %d: %v", i, err)
		}
	}

	if strings.Join(whole.events, "|") != strings.Join(split.events, "|") {
		t.Errorf("Split feeding differs: %v vs %v", whole.events, split.events)
	}
}

// TestParserStopsAfterRoot tests that trailing bytes are left unconsumed
func TestParserStopsAfterRoot(t *testing.T) {
	p := NewParser(Funcs{})
	data := []byte(`<first/>  <second/>rest`)

	n, err := p.Feed(data)
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if string(data[n:]) != "  <second/>rest" {
		t.Errorf("Unexpected remainder %q", data[n:])
	}

	// a done parser consumes nothing
	if n, _ := p.Feed(data[n:]); n != 0 {
		t.Errorf("Done parser consumed %d bytes", n)
	}
}

// TestParserErrors tests malformed input
func TestParserErrors(t *testing.T) {
	cases := []string{
		`garbage<a/>`,
		`<a></b>`,
		`<a x=1/>`,
		`<a x/>`,
		`<a x="&bogus;"/>`,
	}
	for _, c := range cases {
		_, err := NewParser(Funcs{}).Feed([]byte(c))
		if archive.CodeOf(err) != archive.RetCMalformedWireData {
			t.Errorf("Feed(%q) should fail with MalformedWireData, got %v", c, err)
		}
	}
}

// TestWriterRoundTrip tests that written documents parse back
func TestWriterRoundTrip(t *testing.T) {
	w := NewWriter()
	w.Start("doc", Attr{Name: "v", Value: `"quoted" <&> 'x'`})
	w.Empty("item", Attr{Name: "n", Value: "line\nbreak"})
	data := w.Bytes()

	var got []string
	p := NewParser(Funcs{Start: func(name string, attrs []Attr) error {
		for _, a := range attrs {
			got = append(got, a.Value)
		}
		return nil
	}})
	if _, err := p.Feed(data); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if !p.Done() {
		t.Fatalf("Writer did not close the document: %s", data)
	}
	if len(got) != 2 || got[0] != `"quoted" <&> 'x'` || got[1] != "line\nbreak" {
		t.Errorf("Unexpected attribute values %q", got)
	}
}
