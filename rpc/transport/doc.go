// Package transport defines the HTTP exchange capability the protocol engine
// is built on. It provides a common contract for transport implementations
// without tying the engine to a particular HTTP stack.
//
// The package focuses on:
//   - Describing an exchange as method, URL, headers and three callbacks
//   - Cooperative, single threaded delivery of every callback
//   - Reporting per exchange completion, status code and transport error
//
// Key Components:
//
//   - IClientTransport: Creates exchanges and drives them. Perform delivers
//     all pending events (headers, body pieces, requests for upload data,
//     completions) on the calling goroutine; Wait blocks until there is
//     something to deliver. This mirrors a "multi handle" style HTTP library
//     and keeps the state machines above free of locks.
//
//   - IExchange: Handle of a single exchange.
//
//   - Callbacks: header received, body piece received and body piece to
//     send. A callback cancels its exchange by returning a negative value
//     (or, for OnReceive, by handling fewer bytes than offered). OnSend may
//     return SendPause to stall the upload until the next Perform.
package transport
