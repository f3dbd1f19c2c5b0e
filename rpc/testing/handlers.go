package testing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/ValentinKolb/dCell/lib/cell"
	"github.com/ValentinKolb/dCell/lib/markup"
	"github.com/ValentinKolb/dCell/rpc/codec"
	"github.com/ValentinKolb/dCell/rpc/common"
	"github.com/ValentinKolb/dCell/rpc/protocol"
)

// readBufferSize is the size of the pieces uploads are read in
const readBufferSize = 32 * 1024

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// descriptor announces the current silo to clients that know an older one.
// It must run before the header is written.
func (cl *Cell) descriptor(w http.ResponseWriter, r *http.Request) []byte {
	if r.Header.Get(common.HeaderMulticellVersion) == cl.cluster.Version() {
		return nil
	}
	w.Header().Set(common.HeaderMulticellConfig, common.MulticellExpect)
	return cell.EncodeDescriptor(cl.cluster.Silo())
}

// object looks up the object named by the id parameter and answers 400 or
// 404 if there is none
func (cl *Cell) object(w http.ResponseWriter, r *http.Request) (archive.ObjectID, *object, bool) {
	oid, err := archive.ParseObjectID(r.URL.Query().Get(common.ParamID))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", nil, false
	}
	o, ok := cl.objects.Load(oid)
	if !ok {
		http.Error(w, fmt.Sprintf("object %s not found", oid), http.StatusNotFound)
		return oid, nil, false
	}
	return oid, o, true
}

// respond writes a complete response with the descriptor in front of body
func (cl *Cell) respond(w http.ResponseWriter, r *http.Request, status int, body []byte) {
	prefix := cl.descriptor(w, r)
	w.Header().Set(common.HeaderContentLength, strconv.Itoa(len(prefix)+len(body)))
	w.WriteHeader(status)
	if _, err := w.Write(prefix); err != nil {
		Logger.Debugf("cell %d: writing response: %v", cl.id, err)
		return
	}
	if _, err := w.Write(body); err != nil {
		Logger.Debugf("cell %d: writing response: %v", cl.id, err)
	}
}

func (cl *Cell) metadataCodec() codec.IValueCodec {
	if cl.cluster.config.Legacy {
		return codec.NewLegacyCodec()
	}
	return codec.NewCurrentCodec()
}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// handleStore serves store, store-both and store-metadata. The body is an
// optional metadata document followed by the object data. With chunk acks
// the id of every completed chunk is written while the body is read.
func (cl *Cell) handleStore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	path := common.Path(strings.TrimPrefix(r.URL.Path, "/"))
	var source *object
	if path == common.PathStoreMetadata {
		var ok bool
		if _, source, ok = cl.object(w, r); !ok {
			return
		}
	}

	var meta *protocol.MetadataParser
	if path != common.PathStore {
		meta = protocol.NewMetadataParser(cl.cluster.schema)
	}

	var chunkSize int64
	if cl.cluster.config.ChunkAcks && path != common.PathStoreMetadata {
		if s := r.Header.Get(common.HeaderChunkSize); s != "" {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil || n <= 0 {
				http.Error(w, "invalid chunk size "+s, http.StatusBadRequest)
				return
			}
			chunkSize = n
		}
	}

	prefix := cl.descriptor(w, r)
	acks := &ackWriter{w: w, rc: http.NewResponseController(w), chunkSize: chunkSize}
	if chunkSize > 0 {
		// acknowledgments go out while the upload is still running
		if err := acks.rc.EnableFullDuplex(); err != nil {
			Logger.Debugf("cell %d: full duplex unavailable: %v", cl.id, err)
		}
		w.WriteHeader(http.StatusOK)
	}

	var data bytes.Buffer
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Body.Read(buf)
		p := buf[:n]
		if meta != nil && !meta.Done() && len(p) > 0 {
			k, _, ferr := meta.Feed(p)
			if ferr != nil {
				cl.storeFailed(w, acks, http.StatusBadRequest, "metadata: "+ferr.Error())
				return
			}
			p = p[k:]
		}
		data.Write(p)
		if err := acks.progress(int64(data.Len())); err != nil {
			Logger.Debugf("cell %d: writing ack: %v", cl.id, err)
			return
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			Logger.Debugf("cell %d: reading upload: %v", cl.id, err)
			return
		}
	}
	if err := acks.finish(int64(data.Len())); err != nil {
		Logger.Debugf("cell %d: writing ack: %v", cl.id, err)
		return
	}

	if meta != nil && !meta.Done() {
		cl.storeFailed(w, acks, http.StatusBadRequest, "incomplete metadata document")
		return
	}
	if capacity := int64(cl.cluster.config.CellCapacity.Bytes()); capacity > 0 && cl.used.Load()+int64(data.Len()) > capacity {
		cl.storeFailed(w, acks, http.StatusInsufficientStorage, fmt.Sprintf("cell %d is full", cl.id))
		return
	}

	o := &object{
		seq:      cl.seq.Add(1),
		data:     data.Bytes(),
		metadata: archive.NewRecord(nil),
	}
	if source != nil {
		o.data = source.data
	}
	if meta != nil {
		o.metadata = meta.Record()
	}
	sum := sha256.Sum256(o.data)
	o.sys = archive.SystemRecord{
		ObjectID:        cl.newObjectID(),
		DigestAlgorithm: "sha256",
		Digest:          hex.EncodeToString(sum[:]),
		Size:            int64(len(o.data)),
		CreationTime:    time.Now().UTC().Truncate(time.Millisecond),
	}
	if source == nil {
		o.charged = o.sys.Size
	}
	cl.objects.Store(o.sys.ObjectID, o)
	cl.used.Add(o.charged)
	Logger.Debugf("cell %d: stored %s (%d bytes, %d attributes)", cl.id, o.sys.ObjectID, o.sys.Size, o.metadata.Len())

	mw := markup.NewWriter()
	protocol.EncodeSystemRecord(mw, o.record())
	body := mw.Bytes()

	if chunkSize > 0 {
		if _, err := w.Write(append(prefix, body...)); err != nil {
			Logger.Debugf("cell %d: writing response: %v", cl.id, err)
		}
		return
	}
	w.Header().Set(common.HeaderContentLength, strconv.Itoa(len(prefix)+len(body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(append(prefix, body...)); err != nil {
		Logger.Debugf("cell %d: writing response: %v", cl.id, err)
	}
}

// storeFailed answers an error unless acknowledgments already committed the
// status, then the response just ends without a system record
func (cl *Cell) storeFailed(w http.ResponseWriter, acks *ackWriter, status int, msg string) {
	Logger.Debugf("cell %d: store failed: %s", cl.id, msg)
	if acks.chunkSize > 0 {
		return
	}
	w.Header().Del(common.HeaderMulticellConfig)
	http.Error(w, msg, status)
}

// ackWriter writes the hex id of every completed chunk
type ackWriter struct {
	w         http.ResponseWriter
	rc        *http.ResponseController
	chunkSize int64
	acked     int64
}

func (a *ackWriter) progress(received int64) error {
	if a.chunkSize <= 0 {
		return nil
	}
	for received/a.chunkSize > a.acked {
		if err := a.ack(a.acked + 1); err != nil {
			return err
		}
	}
	return nil
}

// finish acknowledges the trailing partial chunk
func (a *ackWriter) finish(received int64) error {
	if a.chunkSize <= 0 {
		return nil
	}
	if last := (received + a.chunkSize - 1) / a.chunkSize; last > a.acked {
		return a.ack(last)
	}
	return nil
}

func (a *ackWriter) ack(id int64) error {
	a.acked = id
	if _, err := fmt.Fprintf(a.w, "%x\n", id); err != nil {
		return err
	}
	return a.rc.Flush()
}

// --------------------------------------------------------------------------
// Retrieve
// --------------------------------------------------------------------------

func (cl *Cell) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	_, o, ok := cl.object(w, r)
	if !ok {
		return
	}
	data, status := o.data, http.StatusOK
	if rg := r.Header.Get(common.HeaderRange); rg != "" {
		first, last, err := parseRange(rg, int64(len(data)))
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
			return
		}
		data, status = data[first:last+1], http.StatusPartialContent
	}
	cl.respond(w, r, status, data)
}

// parseRange parses "bytes=first-last" or "bytes=first-" against size
func parseRange(s string, size int64) (int64, int64, error) {
	bounds, ok := strings.CutPrefix(s, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("unsupported range %q", s)
	}
	from, to, ok := strings.Cut(bounds, "-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed range %q", s)
	}
	first, err := strconv.ParseInt(from, 10, 64)
	if err != nil || first < 0 || first >= size {
		return 0, 0, fmt.Errorf("range %q outside of %d bytes", s, size)
	}
	last := size - 1
	if to != "" {
		if last, err = strconv.ParseInt(to, 10, 64); err != nil || last < first {
			return 0, 0, fmt.Errorf("malformed range %q", s)
		}
		if last >= size {
			last = size - 1
		}
	}
	return first, last, nil
}

func (cl *Cell) handleRetrieveMetadata(w http.ResponseWriter, r *http.Request) {
	_, o, ok := cl.object(w, r)
	if !ok {
		return
	}
	body, err := protocol.EncodeMetadata(o.metadata, cl.metadataCodec())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	mw := markup.NewWriter()
	protocol.EncodeSystemRecord(mw, o.record())
	cl.respond(w, r, http.StatusOK, append(body, mw.Bytes()...))
}

// --------------------------------------------------------------------------
// Configuration, index and delete
// --------------------------------------------------------------------------

func (cl *Cell) handleGetConfiguration(w http.ResponseWriter, r *http.Request) {
	cl.respond(w, r, http.StatusOK, protocol.EncodeSchema(cl.cluster.schema))
}

func (cl *Cell) handleCheckIndexed(w http.ResponseWriter, r *http.Request) {
	_, o, ok := cl.object(w, r)
	if !ok {
		return
	}
	result := 1
	if !o.indexed.CompareAndSwap(false, true) {
		result = 0
	}
	mw := markup.NewWriter()
	mw.Empty(common.ElemIndexed, markup.Attr{Name: common.AttrResult, Value: strconv.Itoa(result)})
	cl.respond(w, r, http.StatusOK, mw.Bytes())
}

func (cl *Cell) handleDelete(w http.ResponseWriter, r *http.Request) {
	oid, _, ok := cl.object(w, r)
	if !ok {
		return
	}
	if o, loaded := cl.objects.LoadAndDelete(oid); loaded {
		cl.used.Add(-o.charged)
		Logger.Debugf("cell %d: deleted %s", cl.id, oid)
	}
	cl.respond(w, r, http.StatusOK, nil)
}
