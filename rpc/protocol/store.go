package protocol

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/ValentinKolb/dCell/lib/cell"
	"github.com/ValentinKolb/dCell/rpc/codec"
	"github.com/ValentinKolb/dCell/rpc/common"
	"github.com/ValentinKolb/dCell/rpc/transport"
)

// StoreState is the state of a store handle
type StoreState int

const (
	StoreAddingMetadata StoreState = iota
	StoreStoringMetadata
	StoreStoringData
	StoreClosed
)

func (s StoreState) String() string {
	switch s {
	case StoreAddingMetadata:
		return "AddingMetadata"
	case StoreStoringMetadata:
		return "StoringMetadata"
	case StoreStoringData:
		return "StoringData"
	case StoreClosed:
		return "Closed"
	default:
		return fmt.Sprintf("StoreState(%d)", int(s))
	}
}

// StoreHandle uploads object data and/or a metadata record
type StoreHandle struct {
	handleBase
	state StoreState

	// target
	cellID int
	oid    archive.ObjectID // store-metadata only

	// upload
	record  *archive.Record
	meta    []byte
	metaOff int
	data    io.Reader
	sent    int64 // data bytes sent
	eof     bool
	acks    *chunkAck

	// response
	sysRecord *systemRecordParser
}

// NewStore creates a handle that uploads data into the given cell (or
// archive.AnyCell). Metadata added before Start is uploaded in front of the
// data.
func (e *Engine) NewStore(cellID int, data io.Reader) (*StoreHandle, error) {
	if data == nil {
		return nil, archive.NewError(archive.RetCInternalError, "store without data reader")
	}
	h := &StoreHandle{
		handleBase: newBase(e, KindStore),
		cellID:     cellID,
		data:       data,
		record:     archive.NewRecord(e.schema()),
	}
	e.register(h)
	return h, nil
}

// NewStoreMetadata creates a handle that attaches a metadata record to an
// existing object.
func (e *Engine) NewStoreMetadata(oid archive.ObjectID) (*StoreHandle, error) {
	if !oid.Valid() {
		return nil, archive.Errorf(archive.RetCInvalidObjectID, "cannot store metadata for %q", oid)
	}
	h := &StoreHandle{
		handleBase: newBase(e, KindStoreMetadata),
		oid:        oid,
		record:     archive.NewRecord(e.schema()),
	}
	e.register(h)
	return h, nil
}

// State returns the current state
func (h *StoreHandle) State() StoreState {
	return h.state
}

// AddMetadata adds one attribute. The value is validated against the
// schema.
func (h *StoreHandle) AddMetadata(name string, value archive.Value) error {
	if err := h.check(); err != nil {
		return err
	}
	if h.state != StoreAddingMetadata {
		return h.wrongState("AddMetadata", h.state)
	}
	return h.record.Set(name, value)
}

// AddRecord adds every attribute of r.
func (h *StoreHandle) AddRecord(r *archive.Record) error {
	if r == nil {
		return nil
	}
	return r.Each(h.AddMetadata)
}

// Start selects the cell and opens the upload.
func (h *StoreHandle) Start() error {
	if err := h.check(); err != nil {
		return err
	}
	if h.state != StoreAddingMetadata {
		return h.wrongState("Start", h.state)
	}

	var (
		target cell.Cell
		err    error
		path   common.Path
		params = url.Values{}
		header = http.Header{}
	)
	if h.kind == KindStoreMetadata {
		target, err = h.engine.dir.Resolve(h.oid)
		path = common.PathStoreMetadata
		params.Set(common.ParamID, h.oid.String())
		params.Set(common.ParamMetadataType, common.MetadataTypeExtended)
	} else {
		target, err = h.engine.dir.SelectForStore(h.cellID)
		path = common.PathStore
		if h.record.Len() > 0 {
			path = common.PathStoreBoth
			params.Set(common.ParamMetadataType, common.MetadataTypeExtended)
		}
		if h.engine.config.ChunkAcksEnabled() {
			h.acks = &chunkAck{}
			header.Set(common.HeaderChunkSize, strconv.FormatUint(h.engine.config.ChunkSize.Bytes(), 10))
		}
	}
	if err != nil {
		h.fail(err)
		return err
	}

	if h.kind == KindStoreMetadata || h.record.Len() > 0 {
		if h.meta, err = EncodeMetadata(h.record, codec.NewCurrentCodec()); err != nil {
			h.fail(err)
			return err
		}
	}
	h.sysRecord = newSystemRecordParser()

	if err := h.engine.startExchange(h, target, http.MethodPost, path, params, header); err != nil {
		h.fail(err)
		return err
	}
	h.state = StoreStoringMetadata
	return nil
}

// SystemRecord returns the record the cell assigned, once the store
// succeeded
func (h *StoreHandle) SystemRecord() (*archive.SystemRecord, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	if h.state != StoreClosed {
		return nil, h.wrongState("SystemRecord", h.state)
	}
	if h.err != nil {
		return nil, h.err
	}
	rec := *h.sysRecord.result()
	return &rec, nil
}

// Close releases the handle
func (h *StoreHandle) Close() error {
	if err := h.closeBase(); err != nil {
		return err
	}
	h.state = StoreClosed
	h.record = nil
	h.meta = nil
	return nil
}

// --------------------------------------------------------------------------
// Callbacks
// --------------------------------------------------------------------------

func (h *StoreHandle) chunkSize() int64 {
	return int64(h.engine.config.ChunkSize.Bytes())
}

// chunksSent is the 1-based id of the last chunk that got data
func (h *StoreHandle) chunksSent() uint64 {
	size := h.chunkSize()
	return uint64((h.sent + size - 1) / size)
}

func (h *StoreHandle) send(p []byte) int {
	if h.state == StoreStoringMetadata {
		if h.metaOff < len(h.meta) {
			n := copy(p, h.meta[h.metaOff:])
			h.metaOff += n
			return n
		}
		h.state = StoreStoringData
	}
	if h.kind == KindStoreMetadata || h.eof {
		return 0
	}

	limit := len(p)
	if max := int(h.engine.config.UploadBufferSize.Bytes()); max > 0 && limit > max {
		limit = max
	}
	if h.acks != nil {
		size := h.chunkSize()
		if h.sent%size == 0 && h.acks.outstanding(h.chunksSent()) >= uint64(h.engine.config.ChunkWindow) {
			h.engine.chunkLog.Debugf("store: window full, %d chunks outstanding", h.acks.outstanding(h.chunksSent()))
			return transport.SendPause
		}
		// never cross a chunk boundary in one piece
		if rest := size - h.sent%size; int64(limit) > rest {
			limit = int(rest)
		}
	}

	n, err := h.data.Read(p[:limit])
	if n > 0 {
		h.sent += int64(n)
		return n
	}
	switch {
	case errors.Is(err, io.EOF):
		h.eof = true
		if h.acks != nil {
			if err := h.acks.complete(h.chunksSent()); err != nil {
				h.fail(err)
				return -1
			}
		}
		return 0
	case err != nil:
		h.fail(archive.Errorf(archive.RetCAborted, "reading object data: %v", err))
		return -1
	default:
		// the reader had nothing for now
		return transport.SendPause
	}
}

func (h *StoreHandle) receive(p []byte) int {
	total := len(p)
	if h.acks != nil && !h.acks.allCommitted {
		n, err := h.acks.scan(p)
		if err != nil {
			h.fail(err)
			return -1
		}
		if n > 0 {
			h.engine.chunkLog.Debugf("store: committed chunk %d", h.acks.committed)
		}
		p = p[n:]
		if len(p) == 0 {
			return total
		}
	}

	p, err := h.stripDescriptor(p)
	if err != nil {
		h.fail(err)
		return -1
	}
	if err := h.sysRecord.feed(p); err != nil {
		h.fail(err)
		return -1
	}
	return total
}

func (h *StoreHandle) complete() {
	h.state = StoreClosed
	if h.err != nil {
		return
	}
	if h.acks != nil && !h.acks.allCommitted {
		h.fail(archive.Errorf(archive.RetCProtocolDesync, "store: cell committed %d of %d chunks", h.acks.committed, h.chunksSent()))
		return
	}
	if h.sysRecord.result() == nil {
		h.fail(archive.Errorf(archive.RetCMissingSystemRecord, "store: %s answered without a valid system record", h.cell))
	}
}

func (h *StoreHandle) ready() bool {
	// a failed Start leaves no exchange behind
	return h.state == StoreClosed || (h.err != nil && h.exchange == nil)
}
