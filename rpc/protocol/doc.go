// Package protocol implements the cell wire protocol as a set of non
// blocking operation state machines. Every operation is a handle created by
// an Engine; the engine drives the HTTP exchanges of all handles through a
// cooperative transport.IClientTransport on the caller's goroutine.
//
// Handles:
//
//   - StoreHandle: Uploads object data and metadata (store, store-both,
//     store-metadata). With a chunk window the upload pauses until the cell
//     acknowledged enough chunks.
//   - RetrieveHandle: Streams object data (or a byte range) into a Sink.
//   - RetrieveMetadataHandle: Fetches metadata and system record.
//   - QueryHandle: Cursor over a query across all cells, following
//     continuation cookies page by page.
//   - CheckIndexedHandle, DeleteHandle, SchemaHandle: Single request
//     operations with a small response document.
//
// Driving:
//
//	h, _ := engine.NewDelete(oid)
//	defer h.Close()
//	for {
//		poll, err := engine.Advance(h)
//		if poll == protocol.Ready {
//			return err
//		}
//		_ = t.Wait(50 * time.Millisecond)
//	}
//
// Every response may start with a multicell descriptor. The engine feeds it
// to the cell.Directory before the handle sees the body, so the first
// answered request teaches the client every cell of the cluster.
//
// An Engine and its handles are not safe for concurrent use.
package protocol
