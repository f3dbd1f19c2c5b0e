package client

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/ValentinKolb/dCell/lib/cell"
	"github.com/ValentinKolb/dCell/rpc/common"
	"github.com/ValentinKolb/dCell/rpc/protocol"
	"github.com/ValentinKolb/dCell/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/patrickmn/go-cache"
)

// schemaKey is the cache entry of the schema
const schemaKey = "schema"

// Session is a blocking archive client. It drives the protocol engine on
// the calling goroutine; calls from several goroutines are serialized.
type Session struct {
	mu sync.Mutex

	config    common.ClientConfig
	transport transport.IClientTransport
	engine    *protocol.Engine
	log       logger.ILogger

	// schema cache with SchemaTTL, lastSchema serves decoding callbacks
	// while the cache entry is expired
	schemas    *cache.Cache
	lastSchema *archive.Schema

	status protocol.Status
	closed bool
}

var _ archive.IArchive = (*Session)(nil)

// NewSession connects to the cell at host:port, learns the cluster layout
// and fetches the schema.
//
// Usage:
//
//	s, err := client.NewSession("localhost", 8080, common.DefaultClientConfig(), http.NewHttpClientTransport())
//	if err != nil {
//		panic(err)
//	}
//	defer s.Close()
func NewSession(host string, port int, config common.ClientConfig, t transport.IClientTransport) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Connect the transport
	if err := t.Connect(config); err != nil {
		return nil, err
	}

	expiration := cache.NoExpiration
	if config.SchemaTTL > 0 {
		expiration = config.SchemaTTL
	}

	s := &Session{
		config:    config,
		transport: t,
		log:       common.NewLogger("client", &config, common.DebugClient),
		schemas:   cache.New(expiration, expiration),
	}
	dir := cell.NewDirectory(host, port, nil, common.NewLogger("cell", &config, common.DebugCell))
	s.engine = protocol.NewEngine(t, dir, config, s.schema)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(max(config.LowSpeedTimeSecond, 30))*time.Second)
	defer cancel()
	if _, err := s.RefreshSchema(ctx); err != nil {
		_ = t.Close()
		return nil, err
	}

	s.log.Infof("session with %s:%d established, %d cells", host, port, len(dir.Snapshot()))
	return s, nil
}

// --------------------------------------------------------------------------
// Driving handles
// --------------------------------------------------------------------------

// DriveToCompletion advances a handle created on Engine() until it is
// ready. Cancelling ctx stops driving; the caller still owns h and closing
// it cancels the exchange.
func (s *Session) DriveToCompletion(ctx context.Context, h protocol.Handle) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.drive(ctx, h)
}

// drive is DriveToCompletion with the session lock held
func (s *Session) drive(ctx context.Context, h protocol.Handle) error {
	for {
		poll, err := s.engine.Advance(h)
		if poll == protocol.Ready {
			return err
		}
		if err := s.wait(ctx); err != nil {
			return err
		}
	}
}

// wait blocks until the transport has events, at most one PollInterval.
// The session lock is released meanwhile.
func (s *Session) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return archive.Errorf(archive.RetCAborted, "operation cancelled: %v", context.Cause(ctx))
	}
	s.mu.Unlock()
	err := s.transport.Wait(s.config.PollInterval)
	s.mu.Lock()
	if err != nil {
		return err
	}
	if s.closed {
		return archive.NewError(archive.RetCSessionClosed, "session closed while waiting")
	}
	return nil
}

// begin locks the session and resets the status of the previous
// operation. The caller unlocks.
func (s *Session) begin() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return archive.NewError(archive.RetCSessionClosed, "session is closed")
	}
	s.status = protocol.Status{}
	return nil
}

// release records the status of h and closes it
func (s *Session) release(h protocol.Handle) {
	s.status = h.Status()
	if err := h.Close(); err != nil {
		s.log.Debugf("closing %s handle: %v", h.Kind(), err)
	}
}

// --------------------------------------------------------------------------
// Schema
// --------------------------------------------------------------------------

// schema is the engine's schema provider
func (s *Session) schema() *archive.Schema {
	if v, ok := s.schemas.Get(schemaKey); ok {
		return v.(*archive.Schema)
	}
	return s.lastSchema
}

// RefreshSchema fetches the schema from the default cell and replaces the
// cached one
func (s *Session) RefreshSchema(ctx context.Context) (*archive.Schema, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.refreshSchema(ctx)
}

func (s *Session) refreshSchema(ctx context.Context) (*archive.Schema, error) {
	h, err := s.engine.NewSchemaFetch()
	if err != nil {
		return nil, err
	}
	defer s.release(h)

	if err := s.drive(ctx, h); err != nil {
		return nil, err
	}
	schema, err := h.Schema()
	if err != nil {
		return nil, err
	}
	s.schemas.SetDefault(schemaKey, schema)
	s.lastSchema = schema
	s.log.Debugf("schema with %d attributes fetched", schema.Len())
	return schema, nil
}

// ensureSchema returns the cached schema and refreshes it once expired
func (s *Session) ensureSchema(ctx context.Context) (*archive.Schema, error) {
	if v, ok := s.schemas.Get(schemaKey); ok {
		return v.(*archive.Schema), nil
	}
	return s.refreshSchema(ctx)
}

// --------------------------------------------------------------------------
// Session state
// --------------------------------------------------------------------------

// Status returns the outcome of the last operation
func (s *Session) Status() protocol.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// NewRecord creates an empty metadata record validated against the schema
func (s *Session) NewRecord(ctx context.Context) (*archive.Record, error) {
	schema, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}
	return archive.NewRecord(schema), nil
}

// Cells returns the cells the session knows
func (s *Session) Cells() []cell.Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Directory().Snapshot()
}

// CapacityStats rates how evenly the known cells are filled
func (s *Session) CapacityStats() cell.DistributionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Directory().CapacityStats()
}

// WriteMetrics writes the transport metrics in Prometheus text format
func (s *Session) WriteMetrics(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport.WriteMetrics(w)
}

// Engine returns the protocol engine for callers that drive handles
// themselves through DriveToCompletion
func (s *Session) Engine() *protocol.Engine {
	return s.engine
}

// Config returns the session configuration
func (s *Session) Config() common.ClientConfig {
	return s.config
}
