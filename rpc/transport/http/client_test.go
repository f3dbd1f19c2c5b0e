package http

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/ValentinKolb/dCell/rpc/common"
	"github.com/ValentinKolb/dCell/rpc/transport"
	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTransport(t *testing.T, config common.ClientConfig) transport.IClientTransport {
	tr := NewHttpClientTransport()
	require.NoError(t, tr.Connect(config))
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// await performs until ex completed
func await(t *testing.T, tr transport.IClientTransport, ex transport.IExchange) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		_, err := tr.Perform()
		require.NoError(t, err)
		if ex.Done() {
			return
		}
		require.NoError(t, tr.Wait(10*time.Millisecond))
	}
	t.Fatalf("exchange %d did not complete", ex.ID())
}

func TestGetExchange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1.0", r.Header.Get(common.HeaderMulticellVersion))
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello cell"))
	}))
	defer server.Close()

	tr := newTransport(t, common.DefaultClientConfig())

	var status int
	var length string
	var body bytes.Buffer
	ex, err := tr.NewExchange(transport.Request{
		Method: http.MethodGet,
		URL:    server.URL + "/retrieve",
		Header: http.Header{common.HeaderMulticellVersion: []string{"1.0"}},
	}, transport.Callbacks{
		OnHeader: func(s int, h http.Header) int {
			status = s
			length = h.Get(common.HeaderContentLength)
			return 0
		},
		OnReceive: func(p []byte) int {
			n, _ := body.Write(p)
			return n
		},
	})
	require.NoError(t, err)
	defer ex.Close()

	await(t, tr, ex)
	require.NoError(t, ex.Err())
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, http.StatusOK, ex.ResponseCode())
	assert.Equal(t, "10", length)
	assert.Equal(t, "hello cell", body.String())

	var metrics bytes.Buffer
	tr.WriteMetrics(&metrics)
	assert.Contains(t, metrics.String(), "dcell_exchanges_total 1")
}

func TestPostExchangeWithPause(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		_, _ = w.Write(bytes.ToUpper(data))
	}))
	defer server.Close()

	tr := newTransport(t, common.DefaultClientConfig())

	upload := strings.NewReader("paused upload")
	pauses := 3
	var body bytes.Buffer
	ex, err := tr.NewExchange(transport.Request{Method: http.MethodPost, URL: server.URL + "/store"}, transport.Callbacks{
		OnSend: func(p []byte) int {
			if pauses > 0 {
				pauses--
				return transport.SendPause
			}
			n, _ := upload.Read(p)
			return n
		},
		OnReceive: func(p []byte) int {
			n, _ := body.Write(p)
			return n
		},
	})
	require.NoError(t, err)
	defer ex.Close()

	await(t, tr, ex)
	require.NoError(t, ex.Err())
	assert.Equal(t, 0, pauses)
	assert.Equal(t, "PAUSED UPLOAD", body.String())
}

func TestReceiveAbort(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("first piece"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	tr := newTransport(t, common.DefaultClientConfig())
	ex, err := tr.NewExchange(transport.Request{Method: http.MethodGet, URL: server.URL}, transport.Callbacks{
		OnReceive: func(p []byte) int { return 0 },
	})
	require.NoError(t, err)
	defer ex.Close()

	await(t, tr, ex)
	assert.True(t, archive.IsCode(ex.Err(), archive.RetCAborted), "got %v", ex.Err())
}

func TestConnectFailed(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	tr := newTransport(t, common.DefaultClientConfig())
	ex, err := tr.NewExchange(transport.Request{Method: http.MethodGet, URL: url}, transport.Callbacks{})
	require.NoError(t, err)
	defer ex.Close()

	await(t, tr, ex)
	assert.True(t, archive.IsCode(ex.Err(), archive.RetCConnectFailed), "got %v", ex.Err())
	assert.Equal(t, 0, ex.ResponseCode())
}

func TestLowSpeedWatchdog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(8 * time.Second):
		}
	}))
	defer server.Close()

	config := common.DefaultClientConfig()
	config.LowSpeedTimeSecond = 1
	config.LowSpeedLimit = 1 * datasize.MB
	tr := newTransport(t, config)

	ex, err := tr.NewExchange(transport.Request{Method: http.MethodGet, URL: server.URL}, transport.Callbacks{})
	require.NoError(t, err)
	defer ex.Close()

	await(t, tr, ex)
	assert.True(t, archive.IsCode(ex.Err(), archive.RetCLowSpeed), "got %v", ex.Err())

	var metrics bytes.Buffer
	tr.WriteMetrics(&metrics)
	assert.Contains(t, metrics.String(), "dcell_exchanges_low_speed_total 1")
}

func TestNotConnected(t *testing.T) {
	tr := NewHttpClientTransport()

	_, err := tr.NewExchange(transport.Request{Method: http.MethodGet, URL: "http://localhost"}, transport.Callbacks{})
	assert.True(t, archive.IsCode(err, archive.RetCInternalError))
	_, err = tr.Perform()
	assert.Error(t, err)
	assert.NoError(t, tr.Close())
}

func TestUnsupportedMethod(t *testing.T) {
	tr := newTransport(t, common.DefaultClientConfig())
	_, err := tr.NewExchange(transport.Request{Method: http.MethodPut, URL: "http://localhost"}, transport.Callbacks{})
	assert.True(t, archive.IsCode(err, archive.RetCInternalError))
}
