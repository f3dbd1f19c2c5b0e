package protocol

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/ValentinKolb/dCell/lib/cell"
	"github.com/ValentinKolb/dCell/lib/markup"
	"github.com/ValentinKolb/dCell/rpc/codec"
	"github.com/ValentinKolb/dCell/rpc/common"
)

// QueryState is the state of a query cursor
type QueryState int

const (
	RetrievingResults QueryState = iota
	ServingResults
	ServingFinalResults
	DoneServingResults
	DoneServingCell
	QueryFinished
	QueryClosed
)

var queryStateNames = []string{
	RetrievingResults:   "RetrievingResults",
	ServingResults:      "ServingResults",
	ServingFinalResults: "ServingFinalResults",
	DoneServingResults:  "DoneServingResults",
	DoneServingCell:     "DoneServingCell",
	QueryFinished:       "Finished",
	QueryClosed:         "Closed",
}

func (s QueryState) String() string {
	if s < 0 || int(s) >= len(queryStateNames) {
		return fmt.Sprintf("QueryState(%d)", int(s))
	}
	return queryStateNames[s]
}

// --------------------------------------------------------------------------
// Statement framing
// --------------------------------------------------------------------------

// QueryBody returns the request body and its X-Query-Body framing for a
// statement
func QueryBody(stmt archive.Statement, c codec.IValueCodec) ([]byte, string, error) {
	if len(stmt.Params) == 0 && !stmt.Projected() {
		return []byte(stmt.Where), common.QueryBodyWhereClause, nil
	}

	w := markup.NewWriter()
	w.Start(common.ElemPreparedStatement, markup.Attr{Name: common.AttrWhere, Value: codec.EncodeBase64([]byte(stmt.Where))})
	for i, p := range stmt.Params {
		wire, err := c.EncodeValue(p)
		if err != nil {
			return nil, "", fmt.Errorf("parameter %d: %w", i+1, err)
		}
		w.Empty(common.ElemParameter,
			markup.Attr{Name: common.AttrIndex, Value: strconv.Itoa(i + 1)},
			markup.Attr{Name: common.AttrValue, Value: wire},
		)
	}
	for _, s := range stmt.Selects {
		w.Empty(common.ElemSelect, markup.Attr{Name: common.AttrValue, Value: c.EncodeName(s)})
	}
	return w.Bytes(), common.QueryBodyPreparedStatement, nil
}

// --------------------------------------------------------------------------
// Query handle
// --------------------------------------------------------------------------

// QueryHandle is a cursor over the results of a query across all cells.
// Results arrive in pages; a page that ends with a continuation cookie is
// followed by another request with that cookie, the last page of a cell is
// followed by the same query against the next cell.
type QueryHandle struct {
	handleBase
	state QueryState

	stmt       archive.Statement
	body       []byte
	framing    string
	maxResults int
	cells      []cell.Cell
	cellIdx    int

	// current page
	upload    []byte
	uploadOff int
	parser    *markup.Parser
	codec     codec.IValueCodec
	cookie    string
	pageRows  int
	pageEnded bool
	inResult  bool

	// decoded rows: attributes in one owned slice, plus per row counts.
	// Only the first completeRows rows are closed and may be served, a
	// projected row stays hidden until its </Result> was parsed.
	attrs        []queryAttr
	rowCounts    []int
	rowOIDs      []archive.ObjectID
	attrHead     int
	rowHead      int
	completeRows int

	integrity        int64 // minimum reported ms since epoch, 0 = none
	finishedReported bool
}

type queryAttr struct {
	name  string
	value archive.Value
}

// NewQuery creates and starts a query. maxResults <= 0 uses the configured
// default page size.
func (e *Engine) NewQuery(stmt archive.Statement, maxResults int) (*QueryHandle, error) {
	if maxResults <= 0 {
		maxResults = e.config.DefaultMaxResults
	}
	body, framing, err := QueryBody(stmt, codec.NewCurrentCodec())
	if err != nil {
		return nil, err
	}

	kind := KindQuery
	if stmt.Projected() {
		kind = KindQueryProjected
	}
	h := &QueryHandle{
		handleBase: newBase(e, kind),
		stmt:       stmt,
		body:       body,
		framing:    framing,
		maxResults: maxResults,
		cells:      e.dir.Snapshot(),
	}
	e.register(h)

	if err := h.requestPage(h.body, h.framing); err != nil {
		e.release(&h.handleBase)
		return nil, err
	}
	e.queryLog.Debugf("query %q over %d cells, %d results per page", stmt.Where, len(h.cells), maxResults)
	return h, nil
}

// State returns the current state
func (h *QueryHandle) State() QueryState {
	return h.state
}

// IntegrityTime returns the oldest integrity time reported so far (zero if
// none was reported)
func (h *QueryHandle) IntegrityTime() int64 {
	return h.integrity
}

// Close releases the handle
func (h *QueryHandle) Close() error {
	if err := h.closeBase(); err != nil {
		return err
	}
	h.state = QueryClosed
	h.attrs, h.rowCounts, h.rowOIDs = nil, nil, nil
	h.attrHead, h.rowHead, h.completeRows = 0, 0, 0
	return nil
}

// requestPage posts body against the current cell
func (h *QueryHandle) requestPage(body []byte, framing string) error {
	h.upload = body
	h.uploadOff = 0
	h.codec = codec.NewLegacyCodec()
	h.cookie = ""
	h.pageRows = 0
	h.pageEnded = false
	h.inResult = false
	h.parser = markup.NewParser(markup.Funcs{Start: h.start, End: h.end})

	path := common.PathQuery
	if h.kind == KindQueryProjected {
		path = common.PathQuerySelect
	}
	params := url.Values{}
	params.Set(common.ParamMaxResults, strconv.Itoa(h.maxResults))
	header := http.Header{}
	header.Set(common.HeaderQueryBody, framing)

	h.state = RetrievingResults
	return h.engine.startExchange(h, h.cells[h.cellIdx], http.MethodPost, path, params, header)
}

// --------------------------------------------------------------------------
// Callbacks
// --------------------------------------------------------------------------

func (h *QueryHandle) send(p []byte) int {
	n := copy(p, h.upload[h.uploadOff:])
	h.uploadOff += n
	return n
}

func (h *QueryHandle) receive(p []byte) int {
	total := len(p)
	p, err := h.stripDescriptor(p)
	if err != nil {
		h.fail(err)
		return -1
	}
	if h.parser.Done() {
		return total
	}
	if _, err := h.parser.Feed(p); err != nil {
		h.fail(err)
		return -1
	}
	return total
}

func (h *QueryHandle) start(name string, attrs []markup.Attr) error {
	depth := h.parser.Depth()
	if depth == 0 {
		if name != common.ElemQueryResults {
			return archive.Errorf(archive.RetCMalformedWireData, "expected <%s>, got <%s>", common.ElemQueryResults, name)
		}
		return nil
	}

	switch name {
	case common.ElemVersion:
		v, _ := markup.Lookup(attrs, common.AttrValue)
		h.codec = codec.ForVersion(v)

	case common.ElemResult:
		oid, err := h.resultOID(attrs)
		if err != nil {
			return err
		}
		h.inResult = true
		h.rowOIDs = append(h.rowOIDs, oid)
		h.rowCounts = append(h.rowCounts, 0)
		h.pageRows++

	case common.ElemAttribute:
		n, v, err := decodeAttribute(attrs, h.codec, h.engine.schema())
		if err != nil {
			return err
		}
		if h.inResult {
			h.attrs = append(h.attrs, queryAttr{name: n, value: v})
			h.rowCounts[len(h.rowCounts)-1]++
			return nil
		}
		// a plain row carries the object id as its only attribute
		oid, err := valueToOID(v)
		if err != nil {
			return err
		}
		h.rowOIDs = append(h.rowOIDs, oid)
		h.rowCounts = append(h.rowCounts, 0)
		h.completeRows++
		h.pageRows++

	case common.ElemIntegrityTime:
		ms, err := int64Attr(attrs, common.AttrValue, 0)
		if err != nil {
			return err
		}
		if ms > 0 && (h.integrity == 0 || ms < h.integrity) {
			h.integrity = ms
		}

	case common.ElemCookie:
		h.cookie, _ = markup.Lookup(attrs, common.AttrValue)
	}
	return nil
}

func (h *QueryHandle) end(name string) error {
	switch {
	case name == common.ElemResult:
		h.inResult = false
		h.completeRows++
	case h.parser.Depth() == 0:
		return h.endPage()
	}
	return nil
}

// endPage runs when the results document of a page closed
func (h *QueryHandle) endPage() error {
	h.pageEnded = true
	if h.pageRows == 0 && h.cookie != "" {
		return archive.NewError(archive.RetCEmptyPageWithCookie, "query: page without results carries a continuation cookie")
	}
	if h.cookie != "" {
		h.state = ServingResults
	} else {
		h.state = ServingFinalResults
	}
	h.engine.queryLog.Debugf("query: page of %d rows from %s (cookie %t)", h.pageRows, h.cell, h.cookie != "")
	return nil
}

// resultOID reads the optional oid attribute of a <Result> block
func (h *QueryHandle) resultOID(attrs []markup.Attr) (archive.ObjectID, error) {
	s, ok := markup.Lookup(attrs, common.AttrOID)
	if !ok {
		return "", nil
	}
	return archive.ParseObjectID(s)
}

func (h *QueryHandle) complete() {
	if h.err == nil && !h.pageEnded {
		h.fail(archive.Errorf(archive.RetCMalformedWireData, "query: results from %s are incomplete", h.cell))
	}
}

func (h *QueryHandle) ready() bool {
	return h.err != nil || h.state != RetrievingResults || h.rowHead < h.completeRows
}

func valueToOID(v archive.Value) (archive.ObjectID, error) {
	switch v.Type() {
	case archive.TypeObjectID:
		return v.ObjectID()
	case archive.TypeString:
		// legacy cells send the identifier as text
		s, _ := v.Str()
		return archive.ParseObjectID(s)
	case archive.TypeBinary:
		b, _ := v.Bytes()
		return archive.ParseObjectID(hex.EncodeToString(b))
	default:
		return "", archive.Errorf(archive.RetCTypeMismatch, "query row carries a %s instead of an object id", v.Type())
	}
}
