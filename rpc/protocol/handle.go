package protocol

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/ValentinKolb/dCell/lib/cell"
	"github.com/ValentinKolb/dCell/lib/markup"
	"github.com/ValentinKolb/dCell/rpc/common"
	"github.com/ValentinKolb/dCell/rpc/transport"
)

// handleBase is the part every handle kind shares: the exchange, the
// response status, the bounded error text and the multicell descriptor.
type handleBase struct {
	engine *Engine
	kind   Kind
	closed bool

	// first error of the operation
	err error

	// current exchange
	exchange         transport.IExchange
	exchangeFinished bool
	cell             cell.Cell
	status           int
	header           http.Header
	bodyBytes        int64

	// error text of non success responses
	errorText          []byte
	errorTextTruncated bool

	// set while a multicell descriptor precedes the body
	descriptor *cell.DescriptorParser

	// set when the handle itself ended the exchange early on purpose
	stopped bool
}

func newBase(e *Engine, kind Kind) handleBase {
	return handleBase{engine: e, kind: kind}
}

func (b *handleBase) base() *handleBase { return b }

func (b *handleBase) Kind() Kind { return b.kind }

func (b *handleBase) Err() error { return b.err }

func (b *handleBase) Status() Status {
	s := Status{
		ResponseCode:       b.status,
		ErrorText:          string(b.errorText),
		ErrorTextTruncated: b.errorTextTruncated,
	}
	if b.exchange != nil && b.exchange.Done() && b.exchange.Err() != nil {
		s.TransportCode = archive.CodeOf(b.exchange.Err())
		s.PlatformError = b.exchange.Err().Error()
	}
	if b.errorTextTruncated && s.TransportCode == archive.RetCSuccess {
		s.TransportCode = archive.RetCBufferOverflow
	}
	return s
}

// fail records err unless an earlier error is already recorded
func (b *handleBase) fail(err error) {
	if err != nil && b.err == nil {
		b.err = err
		b.engine.log.Debugf("%s: %v", b.kind, err)
	}
}

// check guards every public handle method
func (b *handleBase) check() error {
	if b == nil || b.engine == nil {
		return archive.NewError(archive.RetCBadHandle, "nil handle")
	}
	if b.closed {
		return archive.Errorf(archive.RetCBadHandle, "%s handle is closed", b.kind)
	}
	return nil
}

func (b *handleBase) wrongState(op string, state interface{}) error {
	return archive.Errorf(archive.RetCWrongState, "%s: %s not allowed in state %v", b.kind, op, state)
}

// resetExchange prepares the per exchange fields for a new exchange
func (b *handleBase) resetExchange(c cell.Cell) {
	if b.exchange != nil {
		b.exchange.Close()
	}
	b.exchange = nil
	b.exchangeFinished = false
	b.cell = c
	b.status = 0
	b.header = nil
	b.bodyBytes = 0
	b.errorText = b.errorText[:0]
	b.errorTextTruncated = false
	b.descriptor = nil
	b.stopped = false
}

func (b *handleBase) success() bool {
	return b.status >= 200 && b.status < 300
}

func (b *handleBase) onHeader(status int, header http.Header) int {
	b.status = status
	b.header = header
	if strings.EqualFold(header.Get(common.HeaderMulticellConfig), common.MulticellExpect) {
		b.descriptor = cell.NewDescriptorParser()
	}
	return 0
}

func (b *handleBase) onReceive(impl handleImpl, p []byte) int {
	if !b.success() {
		b.appendErrorText(p)
		return len(p)
	}
	b.bodyBytes += int64(len(p))
	n := impl.receive(p)
	if n < len(p) && !b.stopped && b.err == nil {
		b.fail(archive.Errorf(archive.RetCAborted, "%s: response body rejected", b.kind))
	}
	return n
}

func (b *handleBase) appendErrorText(p []byte) {
	limit := int(b.engine.config.ErrorTextLimit.Bytes())
	room := limit - len(b.errorText)
	if room <= 0 {
		if len(p) > 0 {
			b.errorTextTruncated = true
		}
		return
	}
	if len(p) > room {
		p = p[:room]
		b.errorTextTruncated = true
	}
	b.errorText = append(b.errorText, p...)
}

// stripDescriptor feeds a leading multicell descriptor and returns the
// bytes after it
func (b *handleBase) stripDescriptor(p []byte) ([]byte, error) {
	if b.descriptor == nil {
		return p, nil
	}
	n, done, err := b.descriptor.Feed(p)
	if err != nil {
		b.descriptor = nil
		return nil, err
	}
	if done {
		b.engine.dir.Update(b.descriptor.Silo())
		b.descriptor = nil
	}
	return p[n:], nil
}

// finishExchange records the generic outcome of a finished exchange
func (b *handleBase) finishExchange() {
	if err := b.exchange.Err(); err != nil && !b.stopped {
		b.fail(err)
	}
	if b.status != 0 && !b.success() {
		msg := strings.TrimSpace(string(b.errorText))
		if b.errorTextTruncated {
			msg += " ..."
		}
		b.fail(archive.Errorf(archive.RetCHTTPError, "%s: %s responded %d: %s", b.kind, b.cell, b.status, msg))
	}
}

// closeBase releases the exchange and unregisters the handle
func (b *handleBase) closeBase() error {
	if err := b.check(); err != nil {
		return err
	}
	if b.exchange != nil {
		b.exchange.Close()
	}
	b.closed = true
	b.engine.release(b)
	return nil
}

// --------------------------------------------------------------------------
// System record
// --------------------------------------------------------------------------

// systemRecordParser collects the <SystemRecord .../> document that ends
// store and retrieve-metadata responses
type systemRecordParser struct {
	parser *markup.Parser
	record *archive.SystemRecord
}

func newSystemRecordParser() *systemRecordParser {
	s := &systemRecordParser{}
	s.parser = markup.NewParser(markup.Funcs{Start: s.start})
	return s
}

func (s *systemRecordParser) feed(p []byte) error {
	if s.parser.Done() {
		return nil
	}
	_, err := s.parser.Feed(p)
	return err
}

func (s *systemRecordParser) start(name string, attrs []markup.Attr) error {
	if name != common.ElemSystemRecord {
		return archive.Errorf(archive.RetCMalformedWireData, "expected <%s>, got <%s>", common.ElemSystemRecord, name)
	}
	rec, err := ParseSystemRecord(attrs)
	if err != nil {
		return err
	}
	s.record = rec
	return nil
}

// result returns the parsed record if it is complete and valid
func (s *systemRecordParser) result() *archive.SystemRecord {
	if !s.parser.Done() || !s.record.Valid() {
		return nil
	}
	return s.record
}

// ParseSystemRecord decodes the attributes of a <SystemRecord/> element
func ParseSystemRecord(attrs []markup.Attr) (*archive.SystemRecord, error) {
	rec := &archive.SystemRecord{}
	var err error

	oid, _ := markup.Lookup(attrs, common.AttrOID)
	if rec.ObjectID, err = archive.ParseObjectID(oid); err != nil {
		return nil, archive.Errorf(archive.RetCMalformedWireData, "system record: %v", err)
	}
	rec.DigestAlgorithm, _ = markup.Lookup(attrs, common.AttrDigestAlgorithm)
	rec.Digest, _ = markup.Lookup(attrs, common.AttrDigest)

	if rec.Size, err = int64Attr(attrs, common.AttrSize, -1); err != nil {
		return nil, err
	}
	ctime, err := int64Attr(attrs, common.AttrCTime, -1)
	if err != nil {
		return nil, err
	}
	dtime, err := int64Attr(attrs, common.AttrDTime, -1)
	if err != nil {
		return nil, err
	}
	rec.CreationTime = archive.MillisToTime(ctime)
	rec.DeletionTime = archive.MillisToTime(dtime)

	shred, err := int64Attr(attrs, common.AttrShred, 0)
	if err != nil {
		return nil, err
	}
	rec.ShredMode = int(shred)

	if s, ok := markup.Lookup(attrs, common.AttrIndexed); ok {
		if rec.Indexed, err = strconv.ParseBool(s); err != nil {
			return nil, archive.Errorf(archive.RetCMalformedWireData, "system record: indexed=%q", s)
		}
	}
	return rec, nil
}

// EncodeSystemRecord renders a system record element
func EncodeSystemRecord(w *markup.Writer, rec *archive.SystemRecord) {
	w.Empty(common.ElemSystemRecord,
		markup.Attr{Name: common.AttrOID, Value: rec.ObjectID.String()},
		markup.Attr{Name: common.AttrDigestAlgorithm, Value: rec.DigestAlgorithm},
		markup.Attr{Name: common.AttrDigest, Value: rec.Digest},
		markup.Attr{Name: common.AttrSize, Value: strconv.FormatInt(rec.Size, 10)},
		markup.Attr{Name: common.AttrCTime, Value: strconv.FormatInt(archive.TimeToMillis(rec.CreationTime), 10)},
		markup.Attr{Name: common.AttrDTime, Value: strconv.FormatInt(archive.TimeToMillis(rec.DeletionTime), 10)},
		markup.Attr{Name: common.AttrShred, Value: strconv.Itoa(rec.ShredMode)},
		markup.Attr{Name: common.AttrIndexed, Value: strconv.FormatBool(rec.Indexed)},
	)
}

func int64Attr(attrs []markup.Attr, name string, def int64) (int64, error) {
	s, ok := markup.Lookup(attrs, name)
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, archive.Errorf(archive.RetCMalformedWireData, "attribute %s=%q is not a number", name, s)
	}
	return n, nil
}
