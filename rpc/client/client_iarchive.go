package client

import (
	"context"
	"io"
	"time"

	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/ValentinKolb/dCell/rpc/protocol"
)

// --------------------------------------------------------------------------
// Interface Methods (docu see archive.IArchive)
// --------------------------------------------------------------------------

func (s *Session) StoreObject(ctx context.Context, cellID int, data io.Reader, metadata *archive.Record) (*archive.SystemRecord, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if _, err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	h, err := s.engine.NewStore(cellID, data)
	if err != nil {
		return nil, err
	}
	defer s.release(h)
	return s.store(ctx, h, metadata)
}

func (s *Session) StoreData(ctx context.Context, cellID int, data io.Reader) (*archive.SystemRecord, error) {
	return s.StoreObject(ctx, cellID, data, nil)
}

func (s *Session) StoreMetadata(ctx context.Context, oid archive.ObjectID, metadata *archive.Record) (*archive.SystemRecord, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if _, err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	h, err := s.engine.NewStoreMetadata(oid)
	if err != nil {
		return nil, err
	}
	defer s.release(h)
	return s.store(ctx, h, metadata)
}

// store adds the metadata, starts the upload and waits for the system record
func (s *Session) store(ctx context.Context, h *protocol.StoreHandle, metadata *archive.Record) (*archive.SystemRecord, error) {
	if err := h.AddRecord(metadata); err != nil {
		return nil, err
	}
	if err := h.Start(); err != nil {
		return nil, err
	}
	if err := s.drive(ctx, h); err != nil {
		return nil, err
	}
	rec, err := h.SystemRecord()
	if err != nil {
		return nil, err
	}
	s.log.Debugf("stored %s (%d bytes)", rec.ObjectID, rec.Size)
	return rec, nil
}

func (s *Session) RetrieveObject(ctx context.Context, oid archive.ObjectID, w io.Writer) error {
	return s.RetrieveRange(ctx, oid, 0, -1, w)
}

func (s *Session) RetrieveRange(ctx context.Context, oid archive.ObjectID, first, last int64, w io.Writer) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	var writeErr error
	sink := func(p []byte) int {
		n, err := w.Write(p)
		if err != nil {
			writeErr = err
			return -1
		}
		return n
	}
	h, err := s.engine.NewRetrieve(oid, first, last, sink)
	if err != nil {
		return err
	}
	defer s.release(h)

	err = s.drive(ctx, h)
	if writeErr != nil {
		return archive.Errorf(archive.RetCAborted, "writing %s: %v", oid, writeErr)
	}
	return err
}

func (s *Session) RetrieveMetadata(ctx context.Context, oid archive.ObjectID) (*archive.Record, *archive.SystemRecord, error) {
	if err := s.begin(); err != nil {
		return nil, nil, err
	}
	defer s.mu.Unlock()

	if _, err := s.ensureSchema(ctx); err != nil {
		return nil, nil, err
	}
	h, err := s.engine.NewRetrieveMetadata(oid)
	if err != nil {
		return nil, nil, err
	}
	defer s.release(h)

	if err := s.drive(ctx, h); err != nil {
		return nil, nil, err
	}
	return h.Result()
}

func (s *Session) Query(ctx context.Context, stmt archive.Statement, maxResults int) (archive.IResultSet, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if _, err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	h, err := s.engine.NewQuery(stmt, maxResults)
	if err != nil {
		return nil, err
	}
	return &ResultSet{session: s, handle: h}, nil
}

func (s *Session) Delete(ctx context.Context, oid archive.ObjectID) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	h, err := s.engine.NewDelete(oid)
	if err != nil {
		return err
	}
	defer s.release(h)
	return s.drive(ctx, h)
}

func (s *Session) CheckIndexed(ctx context.Context, oid archive.ObjectID) (int, error) {
	if err := s.begin(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	h, err := s.engine.NewCheckIndexed(oid)
	if err != nil {
		return 0, err
	}
	defer s.release(h)

	if err := s.drive(ctx, h); err != nil {
		return 0, err
	}
	return h.Result()
}

func (s *Session) Schema(ctx context.Context) (*archive.Schema, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.ensureSchema(ctx)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.schemas.Flush()
	s.log.Debugf("session closed")
	return s.transport.Close()
}

// --------------------------------------------------------------------------
// Result set
// --------------------------------------------------------------------------

// ResultSet is the blocking cursor over a query (docu see archive.IResultSet)
type ResultSet struct {
	session *Session
	handle  *protocol.QueryHandle
	closed  bool
}

func (r *ResultSet) Next(ctx context.Context) (archive.QueryResult, bool, error) {
	s := r.session
	if err := s.begin(); err != nil {
		return archive.QueryResult{}, false, err
	}
	defer s.mu.Unlock()

	if r.closed {
		return archive.QueryResult{}, false, archive.NewError(archive.RetCBadHandle, "result set is closed")
	}
	for {
		row, poll, err := r.handle.Next()
		s.status = r.handle.Status()
		switch {
		case err != nil:
			return archive.QueryResult{}, false, err
		case poll == protocol.Ready:
			return row, true, nil
		case poll == protocol.Finished:
			return archive.QueryResult{}, false, nil
		}
		if err := s.wait(ctx); err != nil {
			return archive.QueryResult{}, false, err
		}
	}
}

func (r *ResultSet) IntegrityTime() time.Time {
	r.session.mu.Lock()
	defer r.session.mu.Unlock()
	ms := r.handle.IntegrityTime()
	if ms <= 0 {
		return time.Time{}
	}
	return archive.MillisToTime(ms)
}

func (r *ResultSet) Close() error {
	s := r.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if s.closed {
		return nil
	}
	return r.handle.Close()
}
