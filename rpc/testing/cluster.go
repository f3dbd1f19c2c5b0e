package testing

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/ValentinKolb/dCell/lib/cell"
	"github.com/ValentinKolb/dCell/rpc/common"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("simulator")

// DefaultSchema is the attribute catalogue of a cluster created without one
var DefaultSchema = []archive.Attribute{
	{Name: "name", Type: archive.TypeString, Length: 512, Queryable: true},
	{Name: "k", Type: archive.TypeString, Length: 512, Queryable: true},
	{Name: "size", Type: archive.TypeLong, Queryable: true},
	{Name: "score", Type: archive.TypeDouble, Queryable: true},
	{Name: "day", Type: archive.TypeDate, Queryable: true},
	{Name: "at", Type: archive.TypeTimestamp, Queryable: true},
	{Name: "blob", Type: archive.TypeBinary, Length: 1024},
	{Name: "ref", Type: archive.TypeObjectID},
}

// Cluster is an in-memory content archive speaking the cell wire protocol.
// Every cell is its own HTTP server.
type Cluster struct {
	config common.SimulatorConfig
	schema *archive.Schema

	mu    sync.Mutex
	major int
	minor int
	cells []*Cell

	started time.Time
}

// Cell is one simulated cell
type Cell struct {
	cluster *Cluster
	id      int

	address string
	port    int
	server  *http.Server
	test    *httptest.Server

	objects *xsync.MapOf[archive.ObjectID, *object]
	cookies *xsync.MapOf[string, *page]
	seq     atomic.Uint64
	used    atomic.Int64

	// integrity time reported in query results, ms since epoch
	integrity atomic.Int64

	failMu   sync.Mutex
	failures []failure

	requests atomic.Int64
}

type object struct {
	seq      uint64
	data     []byte
	metadata *archive.Record
	sys      archive.SystemRecord
	indexed  atomic.Bool
	charged  int64 // bytes counted against the cell capacity
}

// record returns the system record with the current index flag
func (o *object) record() *archive.SystemRecord {
	rec := o.sys
	rec.Indexed = o.indexed.Load()
	return &rec
}

// failure is an injected non success answer
type failure struct {
	status int
	body   string
}

// NewCluster creates a cluster with config.Cells cells (at least one).
// schema may be nil to use DefaultSchema.
func NewCluster(config common.SimulatorConfig, schema []archive.Attribute) *Cluster {
	if config.Cells <= 0 {
		config.Cells = 1
	}
	if config.Address == "" {
		config.Address = "127.0.0.1"
	}
	if schema == nil {
		schema = DefaultSchema
	}
	c := &Cluster{
		config:  config,
		schema:  archive.NewSchema(schema),
		major:   1,
		started: time.Now(),
	}
	for i := 0; i < config.Cells; i++ {
		cl := &Cell{
			cluster: c,
			id:      i + 1,
			objects: xsync.NewMapOf[archive.ObjectID, *object](),
			cookies: xsync.NewMapOf[string, *page](),
		}
		cl.integrity.Store(c.started.UnixMilli() - int64(i)*1000)
		c.cells = append(c.cells, cl)
	}
	return c
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Start runs every cell on an httptest server
func (c *Cluster) Start() {
	for _, cl := range c.cells {
		cl.test = httptest.NewServer(c.handler(cl))
		addr := cl.test.Listener.Addr().(*net.TCPAddr)
		cl.address = addr.IP.String()
		cl.port = addr.Port
	}
	Logger.Debugf("started %d cells", len(c.cells))
}

// ListenAndServe runs every cell on config.Address:config.BasePort+i until
// ctx is cancelled
func (c *Cluster) ListenAndServe(ctx context.Context) error {
	errs := make(chan error, len(c.cells))
	for i, cl := range c.cells {
		cl.address = c.config.Address
		cl.port = c.config.BasePort + i
		cl.server = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cl.address, cl.port),
			Handler: c.handler(cl),
		}
		Logger.Infof("cell %d listening on %s", cl.id, cl.server.Addr)
		go func(s *http.Server) {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
		}(cl.server)
	}

	select {
	case <-ctx.Done():
	case err := <-errs:
		c.Close()
		return err
	}
	c.Close()
	return nil
}

// Close stops all cells
func (c *Cluster) Close() {
	for _, cl := range c.cells {
		if cl.test != nil {
			cl.test.Close()
		}
		if cl.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := cl.server.Shutdown(ctx); err != nil {
				Logger.Warningf("cell %d: shutdown: %v", cl.id, err)
			}
			cancel()
		}
	}
}

// handler wraps the cell's routes in the request logger
func (c *Cluster) handler(cl *Cell) http.Handler {
	mux := http.NewServeMux()
	routes := map[common.Path]http.HandlerFunc{
		common.PathStore:            cl.handleStore,
		common.PathStoreBoth:        cl.handleStore,
		common.PathStoreMetadata:    cl.handleStore,
		common.PathRetrieve:         cl.handleRetrieve,
		common.PathRetrieveMetadata: cl.handleRetrieveMetadata,
		common.PathGetConfiguration: cl.handleGetConfiguration,
		common.PathQuery:            cl.handleQuery,
		common.PathQuerySelect:      cl.handleQuery,
		common.PathCheckIndexed:     cl.handleCheckIndexed,
		common.PathDelete:           cl.handleDelete,
	}
	for path, h := range routes {
		mux.HandleFunc("/"+string(path), cl.intercept(h))
	}
	if c.config.LogLevel == "debug" {
		return loggerMiddleware(cl.id, mux)
	}
	return mux
}

// --------------------------------------------------------------------------
// Cluster state
// --------------------------------------------------------------------------

// Schema returns the schema the cluster announces
func (c *Cluster) Schema() *archive.Schema {
	return c.schema
}

// Cells returns the simulated cells
func (c *Cluster) Cells() []*Cell {
	return c.cells
}

// Cell returns the cell with the given id
func (c *Cluster) Cell(id int) *Cell {
	for _, cl := range c.cells {
		if cl.id == id {
			return cl
		}
	}
	return nil
}

// Entry returns address and port of the first cell, the one clients are
// configured with
func (c *Cluster) Entry() (string, int) {
	return c.cells[0].address, c.cells[0].port
}

// Silo returns the current multicell descriptor
func (c *Cluster) Silo() *cell.Silo {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &cell.Silo{Major: c.major, Minor: c.minor}
	for _, cl := range c.cells {
		s.Cells = append(s.Cells, cl.Info())
	}
	return s
}

// Reconfigure publishes a new descriptor version so that clients pick up
// capacity changes
func (c *Cluster) Reconfigure() {
	c.mu.Lock()
	c.minor++
	c.mu.Unlock()
}

// Version returns the descriptor version in X-Multicell-Version format
func (c *Cluster) Version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return common.MulticellVersion(c.major, c.minor)
}

// Objects returns the number of objects over all cells
func (c *Cluster) Objects() int {
	n := 0
	for _, cl := range c.cells {
		n += cl.objects.Size()
	}
	return n
}

// --------------------------------------------------------------------------
// Cell state
// --------------------------------------------------------------------------

// ID returns the cell id
func (cl *Cell) ID() int {
	return cl.id
}

// Info returns the cell as announced in the descriptor
func (cl *Cell) Info() cell.Cell {
	return cell.Cell{
		ID:           cl.id,
		Address:      cl.address,
		Port:         cl.port,
		MaxCapacity:  int64(cl.cluster.config.CellCapacity.Bytes()),
		UsedCapacity: cl.used.Load(),
	}
}

// Data returns the stored bytes of an object
func (cl *Cell) Data(oid archive.ObjectID) ([]byte, bool) {
	o, ok := cl.objects.Load(oid)
	if !ok {
		return nil, false
	}
	return o.data, true
}

// Metadata returns the metadata record of an object
func (cl *Cell) Metadata(oid archive.ObjectID) (*archive.Record, bool) {
	o, ok := cl.objects.Load(oid)
	if !ok {
		return nil, false
	}
	return o.metadata, true
}

// Len returns the number of objects in the cell
func (cl *Cell) Len() int {
	return cl.objects.Size()
}

// Requests returns the number of requests the cell answered
func (cl *Cell) Requests() int64 {
	return cl.requests.Load()
}

// SetIntegrityTime sets the integrity time reported by queries
func (cl *Cell) SetIntegrityTime(t time.Time) {
	cl.integrity.Store(t.UnixMilli())
}

// SetUsed overrides the used capacity announced for the cell
func (cl *Cell) SetUsed(n int64) {
	cl.used.Store(n)
}

// FailNext makes the next request to the cell answer status with body
func (cl *Cell) FailNext(status int, body string) {
	cl.failMu.Lock()
	cl.failures = append(cl.failures, failure{status: status, body: body})
	cl.failMu.Unlock()
}

// intercept counts requests and answers injected failures
func (cl *Cell) intercept(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cl.requests.Add(1)

		cl.failMu.Lock()
		var f *failure
		if len(cl.failures) > 0 {
			f = &cl.failures[0]
			cl.failures = cl.failures[1:]
		}
		cl.failMu.Unlock()

		if f != nil {
			Logger.Debugf("cell %d: injected %d for %s", cl.id, f.status, r.URL.Path)
			w.Header().Set(common.HeaderContentLength, strconv.Itoa(len(f.body)))
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(f.body))
			return
		}
		next(w, r)
	}
}

// newObjectID builds an identifier from random uuid bytes with the cell id
// in its cell field
func (cl *Cell) newObjectID() archive.ObjectID {
	a, b := uuid.New(), uuid.New()
	raw := hex.EncodeToString(append(a[:], b[:]...))[:archive.ObjectIDLength]
	return archive.ObjectID(raw[:2] + fmt.Sprintf("%02x", cl.id) + raw[4:])
}

// sortedObjects returns the objects in store order
func (cl *Cell) sortedObjects() []*object {
	var out []*object
	cl.objects.Range(func(_ archive.ObjectID, o *object) bool {
		out = append(out, o)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
