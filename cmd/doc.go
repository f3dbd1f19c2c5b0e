// Package cmd implements the command-line interface of dCell. It provides a
// hierarchical command structure for talking to a content archive cluster
// and for running a simulated cluster locally.
//
// The package is organized into several subpackages:
//
//   - archive: Commands for archive operations (store, retrieve, meta, query, delete, etc.)
//   - simulate: Command for running the in-memory cluster on local ports
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set through the environment as DCELL_<flag>
// (e.g. DCELL_CHUNK_WINDOW=8); .env and .env.local are read on startup.
//
// See dcell -help for a list of all commands.
package cmd
