package archive

// Record is an insertion ordered, name unique mapping of attribute names
// to typed values. Setting an existing name replaces its value in place.
//
// A Record created with a Schema validates every Set against it.
type Record struct {
	names  []string
	values map[string]Value
	schema *Schema
}

// NewRecord creates an empty record. schema may be nil to skip validation.
func NewRecord(schema *Schema) *Record {
	return &Record{
		values: make(map[string]Value),
		schema: schema,
	}
}

// Set adds or replaces the value for name.
func (r *Record) Set(name string, value Value) error {
	if value.Type() == TypeUnknown {
		return Errorf(RetCTypeMismatch, "attribute %q has no type", name)
	}
	if r.schema != nil {
		if err := r.schema.Validate(name, value.Type()); err != nil {
			return err
		}
	}
	if _, exists := r.values[name]; !exists {
		r.names = append(r.names, name)
	}
	r.values[name] = value
	return nil
}

// Get returns the value for name.
func (r *Record) Get(name string) (Value, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Delete removes name from the record. Missing names are ignored.
func (r *Record) Delete(name string) {
	if _, ok := r.values[name]; !ok {
		return
	}
	delete(r.values, name)
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i], r.names[i+1:]...)
			break
		}
	}
}

// Len returns the number of attributes.
func (r *Record) Len() int {
	return len(r.names)
}

// Names returns the attribute names in insertion order.
func (r *Record) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Each calls fn for every attribute in insertion order and stops at the
// first error.
func (r *Record) Each(fn func(name string, value Value) error) error {
	for _, n := range r.names {
		if err := fn(n, r.values[n]); err != nil {
			return err
		}
	}
	return nil
}
