package archive

import (
	"sort"
	"time"
)

// Attribute is one schema declaration.
type Attribute struct {
	Name      string
	Type      ValueType
	Length    int // maximum length for string, char and binary values, 0 if unbounded
	Queryable bool
}

// Schema is the server declared attribute catalogue. A Schema is never
// modified after it was built; a refresh produces a new one.
type Schema struct {
	attributes map[string]Attribute
	fetched    time.Time
}

// NewSchema builds a schema from the given declarations. Later duplicates
// win.
func NewSchema(attrs []Attribute) *Schema {
	s := &Schema{
		attributes: make(map[string]Attribute, len(attrs)),
		fetched:    time.Now(),
	}
	for _, a := range attrs {
		s.attributes[a.Name] = a
	}
	return s
}

// Lookup returns the declaration for name.
func (s *Schema) Lookup(name string) (Attribute, bool) {
	if s == nil {
		return Attribute{}, false
	}
	a, ok := s.attributes[name]
	return a, ok
}

// TypeOf returns the declared type of name, or TypeUnknown.
func (s *Schema) TypeOf(name string) ValueType {
	a, ok := s.Lookup(name)
	if !ok {
		return TypeUnknown
	}
	return a.Type
}

// Validate checks that name is declared and that typ may be stored in it.
// String values are accepted for every declared type.
func (s *Schema) Validate(name string, typ ValueType) error {
	a, ok := s.Lookup(name)
	if !ok {
		return Errorf(RetCUnknownAttribute, "attribute %q is not in the schema", name)
	}
	if typ == TypeString || typ == a.Type {
		return nil
	}
	return Errorf(RetCSchemaMismatch, "attribute %q is declared as %s, got %s", name, a.Type, typ)
}

// Attributes returns all declarations sorted by name.
func (s *Schema) Attributes() []Attribute {
	if s == nil {
		return nil
	}
	out := make([]Attribute, 0, len(s.attributes))
	for _, a := range s.attributes {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of declared attributes.
func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.attributes)
}

// Fetched returns when the schema was built.
func (s *Schema) Fetched() time.Time {
	return s.fetched
}
