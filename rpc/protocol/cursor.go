package protocol

import (
	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/ValentinKolb/dCell/rpc/common"
)

// Next returns the next row of the result set.
//
//   - Ready: row is valid
//   - Pending: the next page or cell is being fetched, call again (after
//     waiting on the transport)
//   - Finished: no more rows, reported exactly once
//
// Calling Next after Finished fails with RetCReadPastLastResult.
func (h *QueryHandle) Next() (archive.QueryResult, Poll, error) {
	if err := h.check(); err != nil {
		return archive.QueryResult{}, Ready, err
	}
	if h.err != nil {
		return archive.QueryResult{}, Ready, h.err
	}
	if row, ok := h.dequeue(); ok {
		return row, Ready, nil
	}

	switch h.state {
	case RetrievingResults:
		if err := h.engine.Step(); err != nil {
			h.fail(err)
			return archive.QueryResult{}, Ready, err
		}
		if h.err != nil {
			return archive.QueryResult{}, Ready, h.err
		}
		if row, ok := h.dequeue(); ok {
			return row, Ready, nil
		}
		return archive.QueryResult{}, Pending, nil

	case ServingResults:
		h.state = DoneServingResults
		h.engine.queryLog.Debugf("query: next page from %s", h.cell)
		if err := h.requestPage([]byte(h.cookie), common.QueryBodyCookie); err != nil {
			h.fail(err)
			return archive.QueryResult{}, Ready, err
		}
		return archive.QueryResult{}, Pending, nil

	case ServingFinalResults:
		h.state = DoneServingCell
		h.cellIdx++
		if h.cellIdx >= len(h.cells) {
			h.state = QueryFinished
			h.finishedReported = true
			h.engine.queryLog.Debugf("query: finished after %d cells", len(h.cells))
			return archive.QueryResult{}, Finished, nil
		}
		h.engine.queryLog.Debugf("query: continuing with %s", h.cells[h.cellIdx])
		if err := h.requestPage(h.body, h.framing); err != nil {
			h.fail(err)
			return archive.QueryResult{}, Ready, err
		}
		return archive.QueryResult{}, Pending, nil

	case QueryFinished:
		return archive.QueryResult{}, Ready, archive.NewError(archive.RetCReadPastLastResult, "query: read past the last result")

	default:
		return archive.QueryResult{}, Ready, h.wrongState("Next", h.state)
	}
}

// dequeue pops the oldest closed row
func (h *QueryHandle) dequeue() (archive.QueryResult, bool) {
	if h.rowHead >= h.completeRows {
		return archive.QueryResult{}, false
	}
	row := archive.QueryResult{ObjectID: h.rowOIDs[h.rowHead]}
	n := h.rowCounts[h.rowHead]
	if h.kind == KindQueryProjected {
		row.Record = archive.NewRecord(nil)
		for _, a := range h.attrs[h.attrHead : h.attrHead+n] {
			// names are unique per row on the wire, a duplicate replaces
			_ = row.Record.Set(a.name, a.value)
		}
	}
	h.attrHead += n
	h.rowHead++

	if h.rowHead == len(h.rowCounts) {
		// everything was served and no row is open, reuse the buffers
		h.attrs = h.attrs[:0]
		h.rowCounts = h.rowCounts[:0]
		h.rowOIDs = h.rowOIDs[:0]
		h.attrHead, h.rowHead, h.completeRows = 0, 0, 0
	}
	return row, true
}

// Buffered returns the number of closed rows not yet returned by Next
func (h *QueryHandle) Buffered() int {
	return h.completeRows - h.rowHead
}
