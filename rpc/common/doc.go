// Package common provides configuration, logging and wire protocol constants
// shared by the client side packages of the archive client.
//
// The package focuses on:
//   - Configuration structures for client sessions and the cluster simulator
//   - Custom logging implementation integrated with Dragonboat's logger facade
//   - Names of request paths, headers and markup elements spoken by the cells
//
// Key Components:
//
//   - ClientConfig: Tuning of one session: log level and per component debug
//     flags, the debug sink, the low throughput watchdog, upload and error
//     text buffers, chunk acknowledgment windowing, poll interval, schema
//     cache TTL and the default query page size. It carries no global state,
//     so sessions with different configurations can coexist.
//
//   - SimulatorConfig: Configuration of the in-memory cluster started by the
//     simulate command.
//
//   - Logger: NewLogger builds the logger of one component from a
//     ClientConfig. InitLoggers installs the same format as Dragonboat's
//     global logger factory and is only called by the command line tool.
//
//   - Wire constants: request paths (Path*), URL parameters (Param*),
//     headers (Header*) and element names (Elem*, Attr*).
package common
