// Package rpc provides the client side of the cell wire protocol. It is the
// communication layer between applications and an archive cluster whose
// objects are spread over independently addressable cells.
//
// The package is organized into several subpackages:
//
//   - common: Wire constants (paths, headers, element names), the client and
//     simulator configuration structures, and logging.
//
//   - codec: Value codecs converting metadata values to and from their tagged
//     wire text, in the current and the legacy encoding.
//
//   - transport: The cooperative HTTP exchange abstraction and its net/http
//     implementation.
//
//   - protocol: Non blocking operation handles (store, retrieve, query, ...)
//     and the engine that drives them.
//
//   - client: The blocking Session implementing archive.IArchive.
//
//   - testing: An in-memory cluster speaking the wire protocol and a
//     conformance suite for archive.IArchive implementations.
package rpc
