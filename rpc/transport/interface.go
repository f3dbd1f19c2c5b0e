package transport

import (
	"io"
	"net/http"
	"time"

	"github.com/ValentinKolb/dCell/rpc/common"
)

// --------------------------------------------------------------------------
// Exchange description
// --------------------------------------------------------------------------

// SendPause returned by Callbacks.OnSend pauses the upload. The transport
// asks again on the next call to Perform.
const SendPause = -2

// Request describes one HTTP exchange
type Request struct {
	Method string // http.MethodGet or http.MethodPost
	URL    string
	Header http.Header
}

// Callbacks connect an exchange to its consumer. All callbacks are invoked
// on the goroutine that calls Perform, in wire order.
type Callbacks struct {
	// OnHeader is called once before any body bytes. A negative return
	// cancels the exchange.
	OnHeader func(status int, header http.Header) int
	// OnReceive is called with every piece of the response body and returns
	// how many bytes it handled. Handling fewer than len(p) bytes cancels
	// the exchange.
	OnReceive func(p []byte) int
	// OnSend fills p with request body bytes and returns how many it
	// wrote. 0 ends the body, SendPause pauses the upload and any other
	// negative value cancels the exchange. Only used for POST requests.
	OnSend func(p []byte) int
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IExchange is a running or finished HTTP exchange
type IExchange interface {
	// ID identifies the exchange within its transport
	ID() uint64
	// Done reports whether the exchange completed (successfully or not)
	Done() bool
	// ResponseCode returns the HTTP status, 0 before the headers arrived
	ResponseCode() int
	// Err returns the transport error of a completed exchange (nil on a
	// clean completion, regardless of the HTTP status)
	Err() error
	// Cancel aborts the exchange. Its completion is reported by Perform.
	Cancel()
	// Close cancels a running exchange and releases it. No callbacks are
	// invoked after Close.
	Close()
}

// IClientTransport is the interface for the HTTP client transport. It is
// driven cooperatively: nothing reaches the callbacks outside of Perform.
type IClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// NewExchange starts an exchange
	NewExchange(req Request, cb Callbacks) (IExchange, error)
	// Perform delivers all pending events to the callbacks and returns the
	// number of exchanges still running
	Perform() (running int, err error)
	// Wait blocks until an event is pending or the timeout elapsed
	Wait(timeout time.Duration) error
	// WriteMetrics writes the transport metrics in Prometheus text format
	WriteMetrics(w io.Writer)
	// Close cancels all exchanges and closes the transport
	Close() error
}
