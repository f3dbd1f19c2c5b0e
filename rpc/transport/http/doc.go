// Package http implements the exchange capability of the parent package on
// top of net/http.
//
// Every exchange runs on two goroutines: one performs the request and reads
// the response, the other is the low throughput watchdog. Neither touches
// the callbacks. Instead they post events (headers received, body piece
// received, upload data wanted, exchange completed) to a queue that Perform
// drains on the caller's goroutine, in the order the events happened. Upload
// data is pulled the same way: the request body blocks until the next
// Perform answers its request for data through OnSend.
//
// Key Components:
//
//   - httpClientTransport: Implements IClientTransport. Running exchanges are
//     kept in an xsync.MapOf registry keyed by exchange id. Transport metrics
//     (exchanges started, failed and aborted by the watchdog, bytes moved,
//     exchange duration, active exchanges) live in a VictoriaMetrics set per
//     transport and can be written in Prometheus text format.
//
// Error mapping:
//
//   - failures before the response headers: archive.RetCConnectFailed
//   - failures while reading the body: archive.RetCPartialFile
//   - watchdog aborts: archive.RetCLowSpeed
//   - cancellations by a callback or by the caller: archive.RetCAborted
//
// Thread Safety:
//
//	Perform, Wait, NewExchange and the IExchange methods must be called from
//	one goroutine at a time. Metrics may be written from anywhere.
package http
