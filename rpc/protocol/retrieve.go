package protocol

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/ValentinKolb/dCell/rpc/common"
)

// SimpleState is the state of the single exchange handles (retrieve,
// check-indexed, delete, schema)
type SimpleState int

const (
	Transferring SimpleState = iota
	SimpleClosed
)

func (s SimpleState) String() string {
	switch s {
	case Transferring:
		return "Transferring"
	case SimpleClosed:
		return "Closed"
	default:
		return fmt.Sprintf("SimpleState(%d)", int(s))
	}
}

// Sink receives object data. It returns how many bytes it took: 0 ends the
// transfer early without an error, a negative value aborts it.
type Sink func(p []byte) int

// RetrieveHandle streams object data into a Sink
type RetrieveHandle struct {
	handleBase
	state    SimpleState
	oid      archive.ObjectID
	sink     Sink
	received int64
}

// NewRetrieve creates and starts a retrieve operation. first/last select a
// byte range (inclusive); first 0 and last < 0 retrieve the whole object.
func (e *Engine) NewRetrieve(oid archive.ObjectID, first, last int64, sink Sink) (*RetrieveHandle, error) {
	if !oid.Valid() {
		return nil, archive.Errorf(archive.RetCInvalidObjectID, "cannot retrieve %q", oid)
	}
	if sink == nil {
		return nil, archive.NewError(archive.RetCInternalError, "retrieve without sink")
	}
	if first < 0 || (last >= 0 && last < first) {
		return nil, archive.Errorf(archive.RetCInternalError, "invalid range %d-%d", first, last)
	}
	target, err := e.dir.Resolve(oid)
	if err != nil {
		return nil, err
	}

	h := &RetrieveHandle{
		handleBase: newBase(e, KindRetrieve),
		oid:        oid,
		sink:       sink,
	}
	e.register(h)

	params := url.Values{}
	params.Set(common.ParamID, oid.String())
	header := http.Header{}
	if first > 0 || last >= 0 {
		header.Set(common.HeaderRange, common.RangeHeader(first, last))
	}
	if err := e.startExchange(h, target, http.MethodGet, common.PathRetrieve, params, header); err != nil {
		e.release(&h.handleBase)
		return nil, err
	}
	return h, nil
}

// State returns the current state
func (h *RetrieveHandle) State() SimpleState {
	return h.state
}

// Received returns the number of object bytes handed to the sink
func (h *RetrieveHandle) Received() int64 {
	return h.received
}

// Close releases the handle
func (h *RetrieveHandle) Close() error {
	if err := h.closeBase(); err != nil {
		return err
	}
	h.state = SimpleClosed
	return nil
}

func (h *RetrieveHandle) send([]byte) int { return 0 }

func (h *RetrieveHandle) receive(p []byte) int {
	total := len(p)
	p, err := h.stripDescriptor(p)
	if err != nil {
		h.fail(err)
		return -1
	}
	if len(p) == 0 {
		return total
	}

	n := h.sink(p)
	switch {
	case n < 0:
		h.fail(archive.NewError(archive.RetCAborted, "retrieve: sink aborted the transfer"))
		return -1
	case n < len(p):
		h.received += int64(n)
		h.stopped = true
		return 0
	default:
		h.received += int64(len(p))
		return total
	}
}

func (h *RetrieveHandle) complete() {
	defer func() { h.state = SimpleClosed }()
	if h.err != nil || h.stopped {
		return
	}
	if s := h.header.Get(common.HeaderContentLength); s != "" {
		if want, err := strconv.ParseInt(s, 10, 64); err == nil && h.bodyBytes < want {
			h.fail(archive.Errorf(archive.RetCPartialFile, "retrieve: got %d of %d bytes of %s", h.bodyBytes, want, h.oid))
		}
	}
}

func (h *RetrieveHandle) ready() bool {
	return h.state == SimpleClosed
}
