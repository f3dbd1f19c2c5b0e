package protocol

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/ValentinKolb/dCell/lib/cell"
	"github.com/ValentinKolb/dCell/rpc/common"
	"github.com/ValentinKolb/dCell/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Poll and handle kinds
// --------------------------------------------------------------------------

// Poll is the soft outcome of a non blocking step
type Poll int

const (
	// Pending means the operation needs more transport steps, call again
	Pending Poll = iota
	// Ready means the operation (or, for queries, the current step) is complete
	Ready
	// Finished is reported once by a query cursor at the end of the results
	Finished
)

func (p Poll) String() string {
	switch p {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("Poll(%d)", int(p))
	}
}

// Kind identifies the operation a handle performs
type Kind int

const (
	KindStore Kind = iota
	KindStoreMetadata
	KindRetrieve
	KindRetrieveMetadata
	KindQuery
	KindQueryProjected
	KindCheckIndexed
	KindDelete
	KindSchema
)

var kindNames = []string{
	KindStore:            "store",
	KindStoreMetadata:    "store-metadata",
	KindRetrieve:         "retrieve",
	KindRetrieveMetadata: "retrieve-metadata",
	KindQuery:            "query",
	KindQueryProjected:   "query-projected",
	KindCheckIndexed:     "check-indexed",
	KindDelete:           "delete",
	KindSchema:           "schema",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Status describes the outcome of the last exchange of a handle
type Status struct {
	ResponseCode       int
	ErrorText          string
	ErrorTextTruncated bool
	TransportCode      archive.RetCode
	PlatformError      string
}

// Handle is one outstanding operation. Handles are created by the Engine,
// released by Close and never reused.
type Handle interface {
	// Kind returns the operation the handle performs
	Kind() Kind
	// Err returns the first error the operation ran into
	Err() error
	// Status returns response code, error text and transport outcome
	Status() Status
	// Close cancels a running exchange and releases the handle
	Close() error

	base() *handleBase
}

// handleImpl is implemented by every handle kind
type handleImpl interface {
	Handle
	// receive gets response body bytes of a successful exchange and
	// returns how many it handled, less than len(p) cancels
	receive(p []byte) int
	// send fills p with request body bytes (see transport.Callbacks)
	send(p []byte) int
	// complete runs once when the current exchange finished
	complete()
	// ready reports whether Advance should return Ready
	ready() bool
}

// SchemaProvider returns the schema used to validate and decode metadata.
// It may return nil.
type SchemaProvider func() *archive.Schema

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// Engine creates operation handles and advances them. An Engine and its
// handles must be used from one goroutine.
type Engine struct {
	transport transport.IClientTransport
	dir       *cell.Directory
	config    common.ClientConfig
	schema    SchemaProvider

	log      logger.ILogger
	queryLog logger.ILogger
	chunkLog logger.ILogger

	active map[*handleBase]handleImpl
}

// NewEngine creates an engine on a connected transport
func NewEngine(t transport.IClientTransport, dir *cell.Directory, config common.ClientConfig, schema SchemaProvider) *Engine {
	if schema == nil {
		schema = func() *archive.Schema { return nil }
	}
	return &Engine{
		transport: t,
		dir:       dir,
		config:    config,
		schema:    schema,
		log:       common.NewLogger("protocol", &config, common.DebugProtocol),
		queryLog:  common.NewLogger("query", &config, common.DebugQuery),
		chunkLog:  common.NewLogger("chunks", &config, common.DebugChunks),
		active:    make(map[*handleBase]handleImpl),
	}
}

// Directory returns the cell directory the engine routes with
func (e *Engine) Directory() *cell.Directory {
	return e.dir
}

// Transport returns the transport the engine drives
func (e *Engine) Transport() transport.IClientTransport {
	return e.transport
}

// Advance performs one transport step and reports whether h is complete.
// On Ready the first error of the operation is returned.
func (e *Engine) Advance(h Handle) (Poll, error) {
	impl, err := e.lookup(h)
	if err != nil {
		return Ready, err
	}
	if !impl.ready() {
		if err := e.Step(); err != nil {
			return Ready, err
		}
	}
	if impl.ready() {
		return Ready, impl.Err()
	}
	return Pending, nil
}

// Step delivers all pending transport events and completes the handles
// whose exchanges finished.
func (e *Engine) Step() error {
	if _, err := e.transport.Perform(); err != nil {
		return err
	}
	for b, impl := range e.active {
		if b.exchange != nil && !b.exchangeFinished && b.exchange.Done() {
			b.exchangeFinished = true
			b.finishExchange()
			impl.complete()
		}
	}
	return nil
}

// lookup validates a handle passed in by the caller
func (e *Engine) lookup(h Handle) (handleImpl, error) {
	if h == nil {
		return nil, archive.NewError(archive.RetCBadHandle, "nil handle")
	}
	b := h.base()
	if b == nil || b.engine != e {
		return nil, archive.NewError(archive.RetCBadHandle, "handle belongs to another engine")
	}
	impl, ok := e.active[b]
	if !ok || b.closed {
		return nil, archive.Errorf(archive.RetCBadHandle, "%s handle is closed", b.kind)
	}
	return impl, nil
}

func (e *Engine) register(impl handleImpl) {
	e.active[impl.base()] = impl
}

func (e *Engine) release(b *handleBase) {
	delete(e.active, b)
}

// startExchange opens an exchange for impl against a cell
func (e *Engine) startExchange(impl handleImpl, c cell.Cell, method string, path common.Path, params url.Values, header http.Header) error {
	b := impl.base()
	if header == nil {
		header = http.Header{}
	}
	major, minor := e.dir.Version()
	header.Set(common.HeaderMulticellVersion, common.MulticellVersion(major, minor))

	req := transport.Request{
		Method: method,
		URL:    common.BuildURL(c.Address, c.Port, path, params),
		Header: header,
	}
	b.resetExchange(c)
	ex, err := e.transport.NewExchange(req, transport.Callbacks{
		OnHeader:  b.onHeader,
		OnReceive: func(p []byte) int { return b.onReceive(impl, p) },
		OnSend:    impl.send,
	})
	if err != nil {
		return err
	}
	b.exchange = ex
	e.log.Debugf("%s: %s %s", b.kind, method, req.URL)
	return nil
}
