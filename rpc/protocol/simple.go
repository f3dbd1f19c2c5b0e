package protocol

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/ValentinKolb/dCell/lib/markup"
	"github.com/ValentinKolb/dCell/rpc/common"
)

// documentHandle is the shared part of handles whose response is a single
// markup document
type documentHandle struct {
	handleBase
	state  SimpleState
	parser *markup.Parser
}

func (h *documentHandle) State() SimpleState {
	return h.state
}

func (h *documentHandle) send([]byte) int { return 0 }

func (h *documentHandle) receive(p []byte) int {
	total := len(p)
	p, err := h.stripDescriptor(p)
	if err != nil {
		h.fail(err)
		return -1
	}
	if h.parser == nil || h.parser.Done() {
		return total
	}
	if _, err := h.parser.Feed(p); err != nil {
		h.fail(err)
		return -1
	}
	return total
}

func (h *documentHandle) ready() bool {
	return h.state == SimpleClosed
}

func (h *documentHandle) finish(what string) {
	h.state = SimpleClosed
	if h.err == nil && h.parser != nil && !h.parser.Done() {
		h.fail(archive.Errorf(archive.RetCMalformedWireData, "%s: incomplete response document", what))
	}
}

func (h *documentHandle) Close() error {
	if err := h.closeBase(); err != nil {
		return err
	}
	h.state = SimpleClosed
	return nil
}

// --------------------------------------------------------------------------
// Schema
// --------------------------------------------------------------------------

// SchemaHandle fetches the attribute catalogue of the cluster
type SchemaHandle struct {
	documentHandle
	attrs []archive.Attribute
}

// NewSchemaFetch creates and starts a get-configuration operation against
// the default cell
func (e *Engine) NewSchemaFetch() (*SchemaHandle, error) {
	h := &SchemaHandle{documentHandle: documentHandle{handleBase: newBase(e, KindSchema)}}
	h.parser = markup.NewParser(markup.Funcs{Start: h.start})
	e.register(h)

	if err := e.startExchange(h, e.dir.Default(), http.MethodGet, common.PathGetConfiguration, nil, nil); err != nil {
		e.release(&h.handleBase)
		return nil, err
	}
	return h, nil
}

func (h *SchemaHandle) start(name string, attrs []markup.Attr) error {
	switch name {
	case common.ElemSchema:
		return nil
	case common.ElemAttribute:
		a, err := ParseSchemaAttribute(attrs)
		if err != nil {
			return err
		}
		h.attrs = append(h.attrs, a)
		return nil
	default:
		if h.parser.Depth() == 0 {
			return archive.Errorf(archive.RetCMalformedWireData, "expected <%s>, got <%s>", common.ElemSchema, name)
		}
		return nil
	}
}

// Schema returns the fetched schema
func (h *SchemaHandle) Schema() (*archive.Schema, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	if h.state != SimpleClosed {
		return nil, h.wrongState("Schema", h.state)
	}
	if h.err != nil {
		return nil, h.err
	}
	return archive.NewSchema(h.attrs), nil
}

func (h *SchemaHandle) complete() {
	h.finish("get-configuration")
}

// ParseSchemaAttribute decodes <attribute name type length queryable/>
func ParseSchemaAttribute(attrs []markup.Attr) (archive.Attribute, error) {
	var a archive.Attribute
	var ok bool
	if a.Name, ok = markup.Lookup(attrs, common.AttrName); !ok || a.Name == "" {
		return a, archive.NewError(archive.RetCMalformedWireData, "schema attribute without name")
	}
	typeName, _ := markup.Lookup(attrs, common.AttrType)
	typ, err := archive.ParseValueType(typeName)
	if err != nil {
		return a, err
	}
	a.Type = typ
	length, err := int64Attr(attrs, common.AttrLength, 0)
	if err != nil {
		return a, err
	}
	a.Length = int(length)
	if s, ok := markup.Lookup(attrs, common.AttrQueryable); ok {
		if a.Queryable, err = strconv.ParseBool(s); err != nil {
			return a, archive.Errorf(archive.RetCMalformedWireData, "schema attribute %q: queryable=%q", a.Name, s)
		}
	}
	return a, nil
}

// EncodeSchema renders a schema document
func EncodeSchema(s *archive.Schema) []byte {
	w := markup.NewWriter()
	w.Start(common.ElemSchema)
	for _, a := range s.Attributes() {
		w.Empty(common.ElemAttribute,
			markup.Attr{Name: common.AttrName, Value: a.Name},
			markup.Attr{Name: common.AttrType, Value: a.Type.String()},
			markup.Attr{Name: common.AttrLength, Value: strconv.Itoa(a.Length)},
			markup.Attr{Name: common.AttrQueryable, Value: strconv.FormatBool(a.Queryable)},
		)
	}
	return w.Bytes()
}

// --------------------------------------------------------------------------
// Check indexed
// --------------------------------------------------------------------------

// CheckIndexedHandle asks a cell to index the metadata of an object
type CheckIndexedHandle struct {
	documentHandle
	oid    archive.ObjectID
	result int
	seen   bool
}

// NewCheckIndexed creates and starts a check-indexed operation
func (e *Engine) NewCheckIndexed(oid archive.ObjectID) (*CheckIndexedHandle, error) {
	if !oid.Valid() {
		return nil, archive.Errorf(archive.RetCInvalidObjectID, "cannot check %q", oid)
	}
	target, err := e.dir.Resolve(oid)
	if err != nil {
		return nil, err
	}

	h := &CheckIndexedHandle{documentHandle: documentHandle{handleBase: newBase(e, KindCheckIndexed)}, oid: oid}
	h.parser = markup.NewParser(markup.Funcs{Start: h.start})
	e.register(h)

	params := url.Values{}
	params.Set(common.ParamID, oid.String())
	if err := e.startExchange(h, target, http.MethodGet, common.PathCheckIndexed, params, nil); err != nil {
		e.release(&h.handleBase)
		return nil, err
	}
	return h, nil
}

func (h *CheckIndexedHandle) start(name string, attrs []markup.Attr) error {
	if name != common.ElemIndexed {
		return archive.Errorf(archive.RetCMalformedWireData, "expected <%s>, got <%s>", common.ElemIndexed, name)
	}
	s, _ := markup.Lookup(attrs, common.AttrResult)
	n, err := strconv.Atoi(s)
	if err != nil || n < -1 || n > 1 {
		return archive.Errorf(archive.RetCMalformedWireData, "check-indexed result %q", s)
	}
	h.result = n
	h.seen = true
	return nil
}

// Result returns 1 if the object was indexed now, 0 if it already was
// indexed and -1 if it cannot be indexed yet
func (h *CheckIndexedHandle) Result() (int, error) {
	if err := h.check(); err != nil {
		return 0, err
	}
	if h.state != SimpleClosed {
		return 0, h.wrongState("Result", h.state)
	}
	if h.err != nil {
		return 0, h.err
	}
	return h.result, nil
}

func (h *CheckIndexedHandle) complete() {
	h.finish("check-indexed")
}

// --------------------------------------------------------------------------
// Delete
// --------------------------------------------------------------------------

// DeleteHandle removes an object. Success is reported by the status alone.
type DeleteHandle struct {
	documentHandle
	oid archive.ObjectID
}

// NewDelete creates and starts a delete operation
func (e *Engine) NewDelete(oid archive.ObjectID) (*DeleteHandle, error) {
	if !oid.Valid() {
		return nil, archive.Errorf(archive.RetCInvalidObjectID, "cannot delete %q", oid)
	}
	target, err := e.dir.Resolve(oid)
	if err != nil {
		return nil, err
	}

	h := &DeleteHandle{documentHandle: documentHandle{handleBase: newBase(e, KindDelete)}, oid: oid}
	e.register(h)

	params := url.Values{}
	params.Set(common.ParamID, oid.String())
	if err := e.startExchange(h, target, http.MethodGet, common.PathDelete, params, nil); err != nil {
		e.release(&h.handleBase)
		return nil, err
	}
	return h, nil
}

func (h *DeleteHandle) complete() {
	h.finish("delete")
}
