package archive

import (
	"context"
	"io"
	"time"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// AnyCell lets the client pick the cell for a new object.
const AnyCell = -1

// IArchive is the blocking interface to a content archive cluster.
// Every method returns an *Error (wrapped or plain) on failure; the code can
// be read with CodeOf.
type IArchive interface {
	// StoreObject uploads data together with metadata into the given cell
	// (or AnyCell) and returns the system record assigned by the server.
	StoreObject(ctx context.Context, cellID int, data io.Reader, metadata *Record) (*SystemRecord, error)
	// StoreData uploads data without metadata.
	StoreData(ctx context.Context, cellID int, data io.Reader) (*SystemRecord, error)
	// StoreMetadata attaches a new metadata record to an existing object.
	StoreMetadata(ctx context.Context, oid ObjectID, metadata *Record) (*SystemRecord, error)
	// RetrieveObject streams the object data into w.
	RetrieveObject(ctx context.Context, oid ObjectID, w io.Writer) error
	// RetrieveRange streams the bytes first..last (inclusive) into w.
	// A negative last reads to the end of the object.
	RetrieveRange(ctx context.Context, oid ObjectID, first, last int64, w io.Writer) error
	// RetrieveMetadata fetches the metadata and system record of an object.
	RetrieveMetadata(ctx context.Context, oid ObjectID) (*Record, *SystemRecord, error)
	// Query runs a query over all cells. maxResults bounds the page size.
	Query(ctx context.Context, stmt Statement, maxResults int) (IResultSet, error)
	// Delete removes an object.
	Delete(ctx context.Context, oid ObjectID) error
	// CheckIndexed asks the cell to index the object's metadata if it
	// is not yet indexed. 1: indexed now, 0: was indexed, -1: not yet.
	CheckIndexed(ctx context.Context, oid ObjectID) (int, error)
	// Schema returns the cached server schema.
	Schema(ctx context.Context) (*Schema, error)
	// Close releases the transport.
	Close() error
}

// Statement is a query: a where clause with optional positional
// parameters and optional projections.
type Statement struct {
	Where   string
	Params  []Value
	Selects []string
}

// Projected reports whether the statement selects attributes.
func (s Statement) Projected() bool {
	return len(s.Selects) > 0
}

// QueryResult is one row of a result set. Record is nil for plain queries.
type QueryResult struct {
	ObjectID ObjectID
	Record   *Record
}

// IResultSet iterates over query results.
type IResultSet interface {
	// Next returns the next row. ok is false once the end of the result set
	// was reached; calling Next again afterwards fails with
	// RetCReadPastLastResult.
	Next(ctx context.Context) (row QueryResult, ok bool, err error)
	// IntegrityTime returns the oldest point in time up to which the rows
	// returned so far are guaranteed to be consistent.
	IntegrityTime() time.Time
	// Close abandons the result set.
	Close() error
}
