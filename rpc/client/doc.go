// Package client implements the blocking archive client. A Session
// implements archive.IArchive on top of the non blocking protocol engine:
// every call creates an operation handle, drives it to completion on the
// calling goroutine and closes it again.
//
// The package focuses on:
//   - Transparent access to every cell of the cluster through one entry cell
//   - Schema caching (go-cache, configurable TTL) for metadata validation
//   - Surfacing the first error of an operation and its HTTP status
//
// Key Components:
//
//   - NewSession: Connects the transport, installs the default cell and
//     fetches the schema. The first response carries the multicell
//     descriptor, after which all cells are known.
//
//   - Session: StoreObject, StoreData, StoreMetadata, RetrieveObject,
//     RetrieveRange, RetrieveMetadata, Query, Delete, CheckIndexed, Schema
//     and RefreshSchema. Status returns the outcome of the last call,
//     WriteMetrics the transport metrics.
//
//   - ResultSet: Blocking cursor over a query. Pages and cells are fetched
//     transparently; after the last row Next reports ok == false once and
//     fails with RetCReadPastLastResult afterwards.
//
// Usage Example:
//
//	config := common.DefaultClientConfig()
//	s, err := client.NewSession("localhost", 8080, config, http.NewHttpClientTransport())
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	md := archive.NewRecord(nil)
//	md.Set("name", archive.StringValue("report.pdf"))
//	sys, err := s.StoreObject(ctx, archive.AnyCell, file, md)
//
//	rs, err := s.Query(ctx, archive.Statement{Where: "name = 'report.pdf'"}, 0)
//	for {
//		row, ok, err := rs.Next(ctx)
//		if err != nil || !ok {
//			break
//		}
//		fmt.Println(row.ObjectID)
//	}
//
// Thread Safety:
//
//	A Session serializes all calls with a mutex, so it can be shared between
//	goroutines. Operations do not overlap; use one session per goroutine for
//	parallel transfers.
package client
