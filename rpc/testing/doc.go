// Package testing provides an in-memory content archive that speaks the cell
// wire protocol, and a conformance suite for archive.IArchive
// implementations.
//
// The simulator runs every cell as its own HTTP server. It supports:
//   - store, store-both and store-metadata, with optional chunk
//     acknowledgments when the client sends X-Chunk-Size
//   - retrieve (with byte ranges) and retrieve-metadata in the current or
//     the legacy metadata format
//   - get-configuration, check-indexed and delete
//   - query and query-select with continuation cookies and a configurable
//     page size
//   - multicell descriptors, sent to every client that announces an older
//     descriptor version
//   - injected failures (Cell.FailNext) to exercise error paths
//
// Object identifiers are built from uuid randomness and carry the id of the
// cell they were stored in.
//
// Example usage:
//
//	cluster := testing.NewCluster(common.SimulatorConfig{Cells: 2, PageSize: 10}, nil)
//	cluster.Start()
//	defer cluster.Close()
//
//	host, port := cluster.Entry()
//	session, err := client.NewSession(host, port, common.DefaultClientConfig(), http.NewHttpClientTransport())
//
//	// Running the standard test suite
//	testing.RunArchiveTests(t, "Session", factory)
package testing
