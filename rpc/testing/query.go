package testing

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/ValentinKolb/dCell/lib/markup"
	"github.com/ValentinKolb/dCell/rpc/codec"
	"github.com/ValentinKolb/dCell/rpc/common"
	"github.com/google/uuid"
)

// page is a query that has more results than fit in one response. It is
// stored under its continuation cookie.
type page struct {
	query  *query
	offset int
}

// query is a parsed statement. The where clause understands
//
//	<name> = <literal> [and <name> = <literal> ...]
//
// where a literal is a bare word, a 'quoted string' or ? for the next
// parameter. An empty clause or "true" matches every object.
type query struct {
	terms   []term
	selects []string
}

type term struct {
	name  string
	value string
}

// --------------------------------------------------------------------------
// Handler
// --------------------------------------------------------------------------

func (cl *Cell) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	maxResults, err := strconv.Atoi(r.URL.Query().Get(common.ParamMaxResults))
	if err != nil || maxResults <= 0 {
		http.Error(w, "invalid max-results", http.StatusBadRequest)
		return
	}
	if ps := cl.cluster.config.PageSize; ps > 0 && ps < maxResults {
		maxResults = ps
	}

	var (
		q      *query
		offset int
	)
	switch framing := r.Header.Get(common.HeaderQueryBody); framing {
	case common.QueryBodyWhereClause, "":
		q, err = parseWhere(string(body), nil)
	case common.QueryBodyPreparedStatement:
		q, err = parsePrepared(body)
	case common.QueryBodyCookie:
		p, ok := cl.cookies.LoadAndDelete(string(body))
		if !ok {
			http.Error(w, "unknown cookie", http.StatusBadRequest)
			return
		}
		q, offset = p.query, p.offset
	default:
		err = fmt.Errorf("unknown query body framing %q", framing)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	projected := strings.TrimPrefix(r.URL.Path, "/") == string(common.PathQuerySelect)
	if projected != (len(q.selects) > 0) {
		http.Error(w, "select list does not match the query path", http.StatusBadRequest)
		return
	}

	var matches []*object
	for _, o := range cl.sortedObjects() {
		if q.matches(o) {
			matches = append(matches, o)
		}
	}
	end := offset + maxResults
	cookie := ""
	if end < len(matches) {
		cookie = uuid.NewString()
		cl.cookies.Store(cookie, &page{query: q, offset: end})
	} else {
		end = len(matches)
	}
	if offset > end {
		offset = end
	}

	doc, err := cl.encodeResults(q, matches[offset:end], cookie)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	Logger.Debugf("cell %d: query answered %d of %d matches from %d", cl.id, end-offset, len(matches), offset)
	cl.respond(w, r, http.StatusOK, doc)
}

// encodeResults renders one page of results
func (cl *Cell) encodeResults(q *query, rows []*object, cookie string) ([]byte, error) {
	c := cl.metadataCodec()
	w := markup.NewWriter()
	w.Start(common.ElemQueryResults)
	if c.Version() != codec.VersionLegacy {
		w.Empty(common.ElemVersion, markup.Attr{Name: common.AttrValue, Value: c.Version()})
	}

	for _, o := range rows {
		if len(q.selects) == 0 {
			v, err := o.sys.ObjectID.Value()
			if err != nil {
				return nil, err
			}
			wire, err := c.EncodeValue(v)
			if err != nil {
				return nil, err
			}
			w.Empty(common.ElemAttribute,
				markup.Attr{Name: common.AttrName, Value: c.EncodeName(common.AttrOID)},
				markup.Attr{Name: common.AttrValue, Value: wire},
			)
			continue
		}

		w.Start(common.ElemResult, markup.Attr{Name: common.AttrOID, Value: o.sys.ObjectID.String()})
		for _, name := range q.selects {
			v, ok := o.metadata.Get(name)
			if !ok {
				continue
			}
			wire, err := c.EncodeValue(v)
			if err != nil {
				return nil, fmt.Errorf("attribute %q: %w", name, err)
			}
			w.Empty(common.ElemAttribute,
				markup.Attr{Name: common.AttrName, Value: c.EncodeName(name)},
				markup.Attr{Name: common.AttrValue, Value: wire},
			)
		}
		w.End()
	}

	w.Empty(common.ElemIntegrityTime, markup.Attr{Name: common.AttrValue, Value: strconv.FormatInt(cl.integrity.Load(), 10)})
	if cookie != "" {
		w.Empty(common.ElemCookie, markup.Attr{Name: common.AttrValue, Value: cookie})
	}
	return w.Bytes(), nil
}

// --------------------------------------------------------------------------
// Statement parsing
// --------------------------------------------------------------------------

// parsePrepared decodes a <PreparedStatement> body
func parsePrepared(body []byte) (*query, error) {
	c := codec.NewCurrentCodec()
	var (
		where   string
		params  = map[int]archive.Value{}
		selects []string
	)
	p := markup.NewParser(markup.Funcs{Start: func(name string, attrs []markup.Attr) error {
		switch name {
		case common.ElemPreparedStatement:
			raw, _ := markup.Lookup(attrs, common.AttrWhere)
			b, err := codec.DecodeBase64(raw)
			if err != nil {
				return err
			}
			where = string(b)
		case common.ElemParameter:
			idx, _ := markup.Lookup(attrs, common.AttrIndex)
			i, err := strconv.Atoi(idx)
			if err != nil || i < 1 {
				return fmt.Errorf("invalid parameter index %q", idx)
			}
			raw, _ := markup.Lookup(attrs, common.AttrValue)
			v, err := c.DecodeValue(raw, archive.TypeUnknown)
			if err != nil {
				return err
			}
			params[i] = v
		case common.ElemSelect:
			raw, _ := markup.Lookup(attrs, common.AttrValue)
			s, err := c.DecodeName(raw)
			if err != nil {
				return err
			}
			selects = append(selects, s)
		}
		return nil
	}})
	if _, err := p.Feed(body); err != nil {
		return nil, err
	}
	if !p.Done() {
		return nil, fmt.Errorf("incomplete prepared statement")
	}

	ordered := make([]archive.Value, len(params))
	for i, v := range params {
		if i > len(ordered) {
			return nil, fmt.Errorf("parameter %d without parameter %d", i, len(ordered))
		}
		ordered[i-1] = v
	}
	q, err := parseWhere(where, ordered)
	if err != nil {
		return nil, err
	}
	q.selects = selects
	return q, nil
}

// parseWhere parses a where clause, substituting params for ?
func parseWhere(where string, params []archive.Value) (*query, error) {
	q := &query{}
	where = strings.TrimSpace(where)
	if where == "" || strings.EqualFold(where, "true") {
		return q, nil
	}

	next := 0
	for _, part := range splitAnd(where) {
		name, literal, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("unsupported condition %q", part)
		}
		name, literal = strings.TrimSpace(name), strings.TrimSpace(literal)
		switch {
		case literal == "?":
			if next >= len(params) {
				return nil, fmt.Errorf("missing value for parameter %d", next+1)
			}
			literal = params[next].String()
			next++
		case len(literal) >= 2 && literal[0] == '\'' && literal[len(literal)-1] == '\'':
			literal = strings.ReplaceAll(literal[1:len(literal)-1], "''", "'")
		}
		q.terms = append(q.terms, term{name: name, value: literal})
	}
	return q, nil
}

// splitAnd splits on the keyword "and" outside of quotes
func splitAnd(s string) []string {
	var (
		parts  []string
		quoted bool
		start  int
	)
	lower := strings.ToLower(s)
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\'':
			quoted = !quoted
		case !quoted && strings.HasPrefix(lower[i:], " and "):
			parts = append(parts, s[start:i])
			start = i + len(" and ")
			i = start - 1
		}
	}
	return append(parts, s[start:])
}

func (q *query) matches(o *object) bool {
	for _, t := range q.terms {
		v, ok := o.metadata.Get(t.name)
		if !ok || v.String() != t.value {
			return false
		}
	}
	return true
}
