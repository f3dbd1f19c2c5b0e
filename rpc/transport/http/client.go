package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/ValentinKolb/dCell/rpc/common"
	"github.com/ValentinKolb/dCell/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// receiveBufferSize is the size of the pieces the response body is read in
const receiveBufferSize = 32 * 1024

var (
	errCancelled = errors.New("exchange cancelled")
	errAborted   = errors.New("exchange aborted by callback")
	errLowSpeed  = errors.New("transfer below the low speed limit")
	errClosed    = errors.New("transport closed")
)

func NewHttpClientTransport() transport.IClientTransport {
	return &httpClientTransport{}
}

type httpClientTransport struct {
	client *http.Client
	config common.ClientConfig
	log    logger.ILogger

	// exchanges that were started and not closed yet
	exchanges *xsync.MapOf[uint64, *exchange]
	nextID    atomic.Uint64

	// events posted by the exchange goroutines, drained by Perform
	mu     sync.Mutex
	events []event
	notify chan struct{}

	// uploads that returned transport.SendPause, retried on the next Perform
	paused []event

	// metrics
	metrics        *metrics.Set
	started        *metrics.Counter
	failed         *metrics.Counter
	lowSpeedAborts *metrics.Counter
	bytesSent      *metrics.Counter
	bytesReceived  *metrics.Counter
	duration       *metrics.Histogram
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

type eventKind int

const (
	evHeader eventKind = iota
	evData
	evSend
	evDone
)

// event is handed from an exchange goroutine to the Perform caller
type event struct {
	kind   eventKind
	ex     *exchange
	status int
	header http.Header
	data   []byte
	reply  chan int // evSend: receives the OnSend result
	err    error
}

func (t *httpClientTransport) post(ev event) {
	t.mu.Lock()
	t.events = append(t.events, ev)
	t.mu.Unlock()
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// --------------------------------------------------------------------------
// Exchange
// --------------------------------------------------------------------------

type exchange struct {
	id     uint64
	t      *httpClientTransport
	req    transport.Request
	cb     transport.Callbacks
	ctx    context.Context
	cancel context.CancelCauseFunc
	start  time.Time

	// bytes moved in either direction, read by the low speed watchdog
	moved atomic.Int64

	// only touched by the Perform caller
	status    int
	gotHeader bool
	done      bool
	err       error
	cancelled bool
	closed    bool
}

func (e *exchange) ID() uint64        { return e.id }
func (e *exchange) Done() bool        { return e.done }
func (e *exchange) ResponseCode() int { return e.status }
func (e *exchange) Err() error        { return e.err }

func (e *exchange) Cancel() {
	e.abort(errCancelled)
}

func (e *exchange) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.abort(errCancelled)
	e.t.exchanges.Delete(e.id)
}

// abort stops delivering callbacks and cancels the goroutine with cause
func (e *exchange) abort(cause error) {
	e.cancelled = true
	e.cancel(cause)
}

// run performs the blocking I/O of one exchange
func (e *exchange) run() {
	var body io.Reader
	if e.req.Method == http.MethodPost {
		body = &callbackBody{e: e}
	}
	req, err := http.NewRequestWithContext(e.ctx, e.req.Method, e.req.URL, body)
	if err != nil {
		e.t.post(event{kind: evDone, ex: e, err: archive.Errorf(archive.RetCInternalError, "invalid request: %v", err)})
		return
	}
	for name, values := range e.req.Header {
		req.Header[name] = values
	}

	resp, err := e.t.client.Do(req)
	if err != nil {
		e.t.post(event{kind: evDone, ex: e, err: e.mapError(err, false)})
		return
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			e.t.log.Debugf("exchange %d: closing body: %v", e.id, err)
		}
	}()

	header := resp.Header.Clone()
	if resp.ContentLength >= 0 {
		header.Set(common.HeaderContentLength, strconv.FormatInt(resp.ContentLength, 10))
	}
	e.t.post(event{kind: evHeader, ex: e, status: resp.StatusCode, header: header})

	buf := make([]byte, receiveBufferSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			e.moved.Add(int64(n))
			e.t.bytesReceived.Add(n)
			data := make([]byte, n)
			copy(data, buf[:n])
			e.t.post(event{kind: evData, ex: e, data: data})
		}
		if err == io.EOF {
			e.t.post(event{kind: evDone, ex: e})
			return
		}
		if err != nil {
			e.t.post(event{kind: evDone, ex: e, err: e.mapError(err, true)})
			return
		}
	}
}

// watchdog aborts the exchange when less than LowSpeedLimit bytes per
// second were moved for LowSpeedTimeSecond seconds
func (e *exchange) watchdog() {
	limit := int64(e.t.config.LowSpeedLimit.Bytes())
	window := time.Duration(e.t.config.LowSpeedTimeSecond) * time.Second
	if window <= 0 {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last int64
	var slowSince time.Time
	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-ticker.C:
			moved := e.moved.Load()
			if moved-last >= limit && limit > 0 {
				slowSince = time.Time{}
			} else if slowSince.IsZero() {
				slowSince = now
			} else if now.Sub(slowSince) >= window {
				e.t.lowSpeedAborts.Inc()
				e.cancel(errLowSpeed)
				return
			}
			last = moved
		}
	}
}

// mapError converts a net/http error into an archive error
func (e *exchange) mapError(err error, afterHeader bool) error {
	cause := context.Cause(e.ctx)
	switch {
	case errors.Is(cause, errLowSpeed):
		return archive.Errorf(archive.RetCLowSpeed, "%s: %v", e.req.URL, errLowSpeed)
	case errors.Is(cause, errAborted):
		return archive.Errorf(archive.RetCAborted, "%s: %v", e.req.URL, errAborted)
	case errors.Is(cause, errCancelled), errors.Is(cause, errClosed):
		return archive.Errorf(archive.RetCAborted, "%s: %v", e.req.URL, cause)
	}

	if afterHeader {
		return archive.Errorf(archive.RetCPartialFile, "%s: %v", e.req.URL, err)
	}
	return archive.Errorf(archive.RetCConnectFailed, "%s: %v", e.req.URL, err)
}

// callbackBody is the request body of POST exchanges. Every Read asks the
// Perform caller for data through OnSend.
type callbackBody struct {
	e   *exchange
	buf []byte
	eof bool
}

func (b *callbackBody) Read(p []byte) (int, error) {
	if b.eof {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	// the callback fills a private buffer, p may be reused once Read returns
	if cap(b.buf) < len(p) {
		b.buf = make([]byte, len(p))
	}
	buf := b.buf[:len(p)]
	reply := make(chan int, 1)
	b.e.t.post(event{kind: evSend, ex: b.e, data: buf, reply: reply})

	select {
	case n := <-reply:
		switch {
		case n > 0:
			copy(p, buf[:n])
			b.e.moved.Add(int64(n))
			b.e.t.bytesSent.Add(n)
			return n, nil
		case n == 0:
			b.eof = true
			return 0, io.EOF
		default:
			b.e.cancel(errAborted)
			return 0, errAborted
		}
	case <-b.e.ctx.Done():
		return 0, context.Cause(b.e.ctx)
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClientTransport)
// --------------------------------------------------------------------------

func (t *httpClientTransport) Connect(config common.ClientConfig) error {
	t.config = config
	t.log = common.NewLogger("transport", &config, common.DebugTransport)
	t.client = &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	t.exchanges = xsync.NewMapOf[uint64, *exchange]()
	t.notify = make(chan struct{}, 1)

	t.metrics = metrics.NewSet()
	t.started = t.metrics.NewCounter(`dcell_exchanges_total`)
	t.failed = t.metrics.NewCounter(`dcell_exchanges_failed_total`)
	t.lowSpeedAborts = t.metrics.NewCounter(`dcell_exchanges_low_speed_total`)
	t.bytesSent = t.metrics.NewCounter(`dcell_bytes_sent_total`)
	t.bytesReceived = t.metrics.NewCounter(`dcell_bytes_received_total`)
	t.duration = t.metrics.NewHistogram(`dcell_exchange_duration_seconds`)
	t.metrics.NewGauge(`dcell_exchanges_active`, func() float64 {
		return float64(t.exchanges.Size())
	})

	return nil
}

func (t *httpClientTransport) NewExchange(req transport.Request, cb transport.Callbacks) (transport.IExchange, error) {
	if t.client == nil {
		return nil, archive.NewError(archive.RetCInternalError, "http transport not initialized")
	}
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		return nil, archive.Errorf(archive.RetCInternalError, "unsupported method %q", req.Method)
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	e := &exchange{
		id:     t.nextID.Add(1),
		t:      t,
		req:    req,
		cb:     cb,
		ctx:    ctx,
		cancel: cancel,
		start:  time.Now(),
	}
	t.exchanges.Store(e.id, e)
	t.started.Inc()
	t.log.Debugf("exchange %d: %s %s", e.id, req.Method, req.URL)

	go e.run()
	go e.watchdog()
	return e, nil
}

func (t *httpClientTransport) Perform() (int, error) {
	if t.client == nil {
		return 0, archive.NewError(archive.RetCInternalError, "http transport not initialized")
	}

	t.mu.Lock()
	events := t.events
	t.events = nil
	t.mu.Unlock()

	if len(t.paused) > 0 {
		events = append(t.paused, events...)
		t.paused = nil
	}

	for _, ev := range events {
		t.deliver(ev)
	}

	running := 0
	t.exchanges.Range(func(_ uint64, e *exchange) bool {
		if !e.done {
			running++
		}
		return true
	})
	return running, nil
}

// deliver hands one event to the callbacks of its exchange
func (t *httpClientTransport) deliver(ev event) {
	e := ev.ex
	if e.closed {
		if ev.kind == evSend {
			ev.reply <- -1
		}
		return
	}

	switch ev.kind {
	case evHeader:
		e.status = ev.status
		e.gotHeader = true
		if e.cancelled || e.cb.OnHeader == nil {
			return
		}
		if e.cb.OnHeader(ev.status, ev.header) < 0 {
			e.abort(errAborted)
		}

	case evData:
		if e.cancelled || e.cb.OnReceive == nil {
			return
		}
		if e.cb.OnReceive(ev.data) < len(ev.data) {
			e.abort(errAborted)
		}

	case evSend:
		if e.cancelled || e.cb.OnSend == nil {
			ev.reply <- 0
			return
		}
		n := e.cb.OnSend(ev.data)
		if n == transport.SendPause {
			t.paused = append(t.paused, ev)
			return
		}
		if n > len(ev.data) {
			n = -1
		}
		ev.reply <- n

	case evDone:
		e.done = true
		e.err = ev.err
		e.cancel(nil)
		t.duration.UpdateDuration(e.start)
		if ev.err != nil {
			t.failed.Inc()
			t.log.Debugf("exchange %d failed after %s: %v", e.id, time.Since(e.start), ev.err)
		} else {
			t.log.Debugf("exchange %d done with status %d after %s", e.id, e.status, time.Since(e.start))
		}
	}
}

func (t *httpClientTransport) Wait(timeout time.Duration) error {
	if t.client == nil {
		return archive.NewError(archive.RetCInternalError, "http transport not initialized")
	}

	t.mu.Lock()
	pending := len(t.events)
	t.mu.Unlock()
	if pending > 0 {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.notify:
	case <-timer.C:
	}
	return nil
}

func (t *httpClientTransport) WriteMetrics(w io.Writer) {
	if t.metrics != nil {
		t.metrics.WritePrometheus(w)
	}
}

func (t *httpClientTransport) Close() error {
	if t.client == nil {
		return nil
	}

	t.exchanges.Range(func(id uint64, e *exchange) bool {
		e.cancel(errClosed)
		t.exchanges.Delete(id)
		return true
	})
	// unblock uploads waiting for data
	for _, ev := range t.paused {
		ev.reply <- -1
	}
	t.paused = nil

	t.client.CloseIdleConnections()
	t.client = nil
	t.log.Debugf("transport closed")
	return nil
}

func (t *httpClientTransport) String() string {
	return fmt.Sprintf("http transport (%d exchanges)", t.exchanges.Size())
}
