package protocol

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/ValentinKolb/dCell/lib/markup"
	"github.com/ValentinKolb/dCell/rpc/codec"
	"github.com/ValentinKolb/dCell/rpc/common"
)

// --------------------------------------------------------------------------
// Metadata document
// --------------------------------------------------------------------------

// EncodeMetadata renders a record as a metadata document:
//
//	<Metadata><version value="1.1"/><attribute name="..." value="..."/>...</Metadata>
//
// The version element is only written for the current format.
func EncodeMetadata(r *archive.Record, c codec.IValueCodec) ([]byte, error) {
	w := markup.NewWriter()
	w.Start(common.ElemMetadata)
	if c.Version() != codec.VersionLegacy {
		w.Empty(common.ElemVersion, markup.Attr{Name: common.AttrValue, Value: c.Version()})
	}
	if r != nil {
		err := r.Each(func(name string, value archive.Value) error {
			wire, err := c.EncodeValue(value)
			if err != nil {
				return fmt.Errorf("attribute %q: %w", name, err)
			}
			w.Empty(common.ElemAttribute,
				markup.Attr{Name: common.AttrName, Value: c.EncodeName(name)},
				markup.Attr{Name: common.AttrValue, Value: wire},
			)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	w.End()
	return w.Bytes(), nil
}

// MetadataParser incrementally parses a metadata document. Without a
// version element the legacy format is assumed and value types are taken
// from the schema (strings for unknown attributes).
type MetadataParser struct {
	parser *markup.Parser
	codec  codec.IValueCodec
	schema *archive.Schema
	record *archive.Record
	root   bool
}

// NewMetadataParser creates a parser. schema may be nil.
func NewMetadataParser(schema *archive.Schema) *MetadataParser {
	m := &MetadataParser{
		codec:  codec.NewLegacyCodec(),
		schema: schema,
		record: archive.NewRecord(nil),
	}
	m.parser = markup.NewParser(markup.Funcs{Start: m.start})
	return m
}

// Feed consumes bytes of the document and reports how many belong to it
// and whether it is complete.
func (m *MetadataParser) Feed(p []byte) (int, bool, error) {
	n, err := m.parser.Feed(p)
	return n, m.parser.Done(), err
}

// Done reports whether the document is complete
func (m *MetadataParser) Done() bool {
	return m.parser.Done()
}

// Record returns the attributes parsed so far, in document order
func (m *MetadataParser) Record() *archive.Record {
	return m.record
}

// Version returns the format version the document declared
func (m *MetadataParser) Version() string {
	return m.codec.Version()
}

func (m *MetadataParser) start(name string, attrs []markup.Attr) error {
	if !m.root {
		if name != common.ElemMetadata {
			return archive.Errorf(archive.RetCMalformedWireData, "expected <%s>, got <%s>", common.ElemMetadata, name)
		}
		m.root = true
		return nil
	}

	switch name {
	case common.ElemVersion:
		v, _ := markup.Lookup(attrs, common.AttrValue)
		m.codec = codec.ForVersion(v)
	case common.ElemAttribute:
		n, v, err := decodeAttribute(attrs, m.codec, m.schema)
		if err != nil {
			return err
		}
		return m.record.Set(n, v)
	}
	return nil
}

// decodeAttribute decodes <attribute name="..." value="..."/>
func decodeAttribute(attrs []markup.Attr, c codec.IValueCodec, schema *archive.Schema) (string, archive.Value, error) {
	rawName, ok := markup.Lookup(attrs, common.AttrName)
	if !ok {
		return "", archive.Value{}, archive.NewError(archive.RetCMalformedWireData, "attribute without name")
	}
	rawValue, ok := markup.Lookup(attrs, common.AttrValue)
	if !ok {
		return "", archive.Value{}, archive.Errorf(archive.RetCMalformedWireData, "attribute %q without value", rawName)
	}
	name, err := c.DecodeName(rawName)
	if err != nil {
		return "", archive.Value{}, err
	}

	expected := archive.TypeUnknown
	if c.Version() == codec.VersionLegacy {
		expected = schema.TypeOf(name)
	}
	value, err := c.DecodeValue(rawValue, expected)
	if err != nil {
		return "", archive.Value{}, fmt.Errorf("attribute %q: %w", name, err)
	}
	return name, value, nil
}

// --------------------------------------------------------------------------
// Retrieve metadata handle
// --------------------------------------------------------------------------

// RetrieveMetadataState is the state of a retrieve-metadata handle
type RetrieveMetadataState int

const (
	ReadingMetadataRecord RetrieveMetadataState = iota
	ReadingSystemRecord
	RetrieveMetadataClosed
)

func (s RetrieveMetadataState) String() string {
	switch s {
	case ReadingMetadataRecord:
		return "ReadingMetadataRecord"
	case ReadingSystemRecord:
		return "ReadingSystemRecord"
	case RetrieveMetadataClosed:
		return "Closed"
	default:
		return fmt.Sprintf("RetrieveMetadataState(%d)", int(s))
	}
}

// RetrieveMetadataHandle fetches the metadata record and the system record
// of an object
type RetrieveMetadataHandle struct {
	handleBase
	state     RetrieveMetadataState
	oid       archive.ObjectID
	metadata  *MetadataParser
	sysRecord *systemRecordParser
}

// NewRetrieveMetadata creates and starts a retrieve-metadata operation
func (e *Engine) NewRetrieveMetadata(oid archive.ObjectID) (*RetrieveMetadataHandle, error) {
	if !oid.Valid() {
		return nil, archive.Errorf(archive.RetCInvalidObjectID, "cannot retrieve metadata of %q", oid)
	}
	target, err := e.dir.Resolve(oid)
	if err != nil {
		return nil, err
	}

	h := &RetrieveMetadataHandle{
		handleBase: newBase(e, KindRetrieveMetadata),
		oid:        oid,
		metadata:   NewMetadataParser(e.schema()),
		sysRecord:  newSystemRecordParser(),
	}
	e.register(h)

	params := url.Values{}
	params.Set(common.ParamID, oid.String())
	if err := e.startExchange(h, target, http.MethodGet, common.PathRetrieveMetadata, params, nil); err != nil {
		e.release(&h.handleBase)
		return nil, err
	}
	return h, nil
}

// State returns the current state
func (h *RetrieveMetadataHandle) State() RetrieveMetadataState {
	return h.state
}

// Result returns the metadata record and the system record
func (h *RetrieveMetadataHandle) Result() (*archive.Record, *archive.SystemRecord, error) {
	if err := h.check(); err != nil {
		return nil, nil, err
	}
	if h.state != RetrieveMetadataClosed {
		return nil, nil, h.wrongState("Result", h.state)
	}
	if h.err != nil {
		return nil, nil, h.err
	}
	rec := *h.sysRecord.result()
	return h.metadata.Record(), &rec, nil
}

// Close releases the handle
func (h *RetrieveMetadataHandle) Close() error {
	if err := h.closeBase(); err != nil {
		return err
	}
	h.state = RetrieveMetadataClosed
	h.metadata = nil
	return nil
}

func (h *RetrieveMetadataHandle) send([]byte) int { return 0 }

func (h *RetrieveMetadataHandle) receive(p []byte) int {
	total := len(p)
	p, err := h.stripDescriptor(p)
	if err != nil {
		h.fail(err)
		return -1
	}

	if h.state == ReadingMetadataRecord {
		n, done, err := h.metadata.Feed(p)
		if err != nil {
			h.fail(err)
			return -1
		}
		if !done {
			return total
		}
		// the rest of this delivery belongs to the system record
		h.state = ReadingSystemRecord
		p = p[n:]
	}

	if err := h.sysRecord.feed(p); err != nil {
		h.fail(err)
		return -1
	}
	return total
}

func (h *RetrieveMetadataHandle) complete() {
	defer func() { h.state = RetrieveMetadataClosed }()
	if h.err != nil {
		return
	}
	if !h.metadata.Done() {
		h.fail(archive.Errorf(archive.RetCMalformedWireData, "retrieve-metadata: metadata record of %s is incomplete", h.oid))
		return
	}
	if h.sysRecord.result() == nil {
		h.fail(archive.Errorf(archive.RetCMissingSystemRecord, "retrieve-metadata: no valid system record for %s", h.oid))
	}
}

func (h *RetrieveMetadataHandle) ready() bool {
	return h.state == RetrieveMetadataClosed
}
