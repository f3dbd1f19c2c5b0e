package protocol_test

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/ValentinKolb/dCell/lib/cell"
	"github.com/ValentinKolb/dCell/rpc/codec"
	"github.com/ValentinKolb/dCell/rpc/common"
	"github.com/ValentinKolb/dCell/rpc/protocol"
	simulator "github.com/ValentinKolb/dCell/rpc/testing"
	"github.com/ValentinKolb/dCell/rpc/transport"
	httptransport "github.com/ValentinKolb/dCell/rpc/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

type fixture struct {
	engine    *protocol.Engine
	transport transport.IClientTransport
	config    common.ClientConfig
}

func newFixture(t *testing.T, host string, port int, schema func() *archive.Schema) *fixture {
	config := common.DefaultClientConfig()
	config.PollInterval = 10 * time.Millisecond

	tr := httptransport.NewHttpClientTransport()
	require.NoError(t, tr.Connect(config))
	t.Cleanup(func() { _ = tr.Close() })

	dir := cell.NewDirectory(host, port, nil, nil)
	return &fixture{
		engine:    protocol.NewEngine(tr, dir, config, schema),
		transport: tr,
		config:    config,
	}
}

// newClusterFixture starts a cluster and fetches the schema once so the
// directory knows every cell
func newClusterFixture(t *testing.T, config common.SimulatorConfig) (*fixture, *simulator.Cluster) {
	cluster := simulator.NewCluster(config, nil)
	cluster.Start()
	t.Cleanup(cluster.Close)

	host, port := cluster.Entry()
	f := newFixture(t, host, port, cluster.Schema)

	h, err := f.engine.NewSchemaFetch()
	require.NoError(t, err)
	require.NoError(t, f.drive(t, h))
	require.NoError(t, h.Close())
	require.Len(t, f.engine.Directory().Snapshot(), len(cluster.Cells()))
	return f, cluster
}

// newStubFixture points a fixture at a single handler instead of a cluster
func newStubFixture(t *testing.T, handler http.Handler) *fixture {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return newFixture(t, u.Hostname(), port, nil)
}

// newSplitFixture answers every request with pieces, each flushed on its
// own and followed by a pause, so the client receives them in separate
// deliveries
func newSplitFixture(t *testing.T, pieces ...string) *fixture {
	return newStubFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
		for _, piece := range pieces {
			_, _ = w.Write([]byte(piece))
			w.(http.Flusher).Flush()
			time.Sleep(50 * time.Millisecond)
		}
	}))
}

func (f *fixture) drive(t *testing.T, h protocol.Handle) error {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		poll, err := f.engine.Advance(h)
		if poll == protocol.Ready {
			return err
		}
		require.NoError(t, f.transport.Wait(f.config.PollInterval))
	}
	t.Fatalf("%s did not complete in time", h.Kind())
	return nil
}

func (f *fixture) drain(t *testing.T, q *protocol.QueryHandle) []archive.QueryResult {
	var rows []archive.QueryResult
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		row, poll, err := q.Next()
		require.NoError(t, err)
		switch poll {
		case protocol.Ready:
			rows = append(rows, row)
		case protocol.Finished:
			return rows
		default:
			require.NoError(t, f.transport.Wait(f.config.PollInterval))
		}
	}
	t.Fatal("query did not finish in time")
	return nil
}

func (f *fixture) store(t *testing.T, cellID int, data string, md map[string]archive.Value) *archive.SystemRecord {
	h, err := f.engine.NewStore(cellID, strings.NewReader(data))
	require.NoError(t, err)
	defer h.Close()

	for name, v := range md {
		require.NoError(t, h.AddMetadata(name, v))
	}
	require.NoError(t, h.Start())
	require.NoError(t, f.drive(t, h))

	rec, err := h.SystemRecord()
	require.NoError(t, err)
	return rec
}

// --------------------------------------------------------------------------
// Store and retrieve
// --------------------------------------------------------------------------

func TestStoreAndRetrieveMetadata(t *testing.T) {
	f, cluster := newClusterFixture(t, common.SimulatorConfig{Cells: 2})

	sys := f.store(t, 2, "payload", map[string]archive.Value{
		"name": archive.StringValue("report"),
		"size": archive.LongValue(7),
	})
	assert.Equal(t, int64(7), sys.Size)
	cellID, err := sys.ObjectID.CellID()
	require.NoError(t, err)
	assert.Equal(t, 2, cellID)
	assert.Equal(t, 1, cluster.Cell(2).Len())

	h, err := f.engine.NewRetrieveMetadata(sys.ObjectID)
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, f.drive(t, h))

	md, rec, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, sys.ObjectID, rec.ObjectID)
	size, ok := md.Get("size")
	require.True(t, ok)
	n, err := size.Long()
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestRetrieveRangeSink(t *testing.T) {
	f, _ := newClusterFixture(t, common.SimulatorConfig{})
	sys := f.store(t, archive.AnyCell, "0123456789", nil)

	var out bytes.Buffer
	h, err := f.engine.NewRetrieve(sys.ObjectID, 2, 5, func(p []byte) int {
		n, _ := out.Write(p)
		return n
	})
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, f.drive(t, h))
	assert.Equal(t, "2345", out.String())
	assert.Equal(t, int64(4), h.Received())
	assert.Equal(t, http.StatusPartialContent, h.Status().ResponseCode)
}

func TestHTTPErrorText(t *testing.T) {
	f, cluster := newClusterFixture(t, common.SimulatorConfig{})
	sys := f.store(t, archive.AnyCell, "doomed", nil)

	cluster.Cell(1).FailNext(http.StatusNotFound, "object went missing")
	h, err := f.engine.NewDelete(sys.ObjectID)
	require.NoError(t, err)
	defer h.Close()

	err = f.drive(t, h)
	assert.True(t, archive.IsCode(err, archive.RetCHTTPError))
	status := h.Status()
	assert.Equal(t, http.StatusNotFound, status.ResponseCode)
	assert.Equal(t, "object went missing", status.ErrorText)
	assert.Equal(t, archive.RetCSuccess, status.TransportCode)
}

func TestClosedHandle(t *testing.T) {
	f, _ := newClusterFixture(t, common.SimulatorConfig{})

	h, err := f.engine.NewSchemaFetch()
	require.NoError(t, err)
	require.NoError(t, h.Close())

	_, err = f.engine.Advance(h)
	assert.True(t, archive.IsCode(err, archive.RetCBadHandle))
	assert.True(t, archive.IsCode(h.Close(), archive.RetCBadHandle))

	other, _ := newClusterFixture(t, common.SimulatorConfig{})
	foreign, err := other.engine.NewSchemaFetch()
	require.NoError(t, err)
	defer foreign.Close()
	_, err = f.engine.Advance(foreign)
	assert.True(t, archive.IsCode(err, archive.RetCBadHandle))
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

func TestQueryPagesOverCells(t *testing.T) {
	f, cluster := newClusterFixture(t, common.SimulatorConfig{Cells: 3, PageSize: 2})

	// the first cell holds nothing, the second five matches, the third one.
	// Cells answer in store order and are visited in directory order.
	var want []archive.ObjectID
	for i := 0; i < 5; i++ {
		sys := f.store(t, 2, fmt.Sprintf("object-%d", i), map[string]archive.Value{"name": archive.StringValue("hit")})
		want = append(want, sys.ObjectID)
	}
	f.store(t, 3, "other", map[string]archive.Value{"name": archive.StringValue("miss")})
	sys := f.store(t, 3, "last", map[string]archive.Value{"name": archive.StringValue("hit")})
	want = append(want, sys.ObjectID)

	before := cluster.Cell(2).Requests()
	q, err := f.engine.NewQuery(archive.Statement{Where: "name = 'hit'"}, 10)
	require.NoError(t, err)
	defer q.Close()

	rows := f.drain(t, q)
	got := make([]archive.ObjectID, 0, len(rows))
	for _, row := range rows {
		got = append(got, row.ObjectID)
		assert.Nil(t, row.Record)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, protocol.QueryFinished, q.State())
	// five rows in pages of two on the second cell
	assert.Equal(t, before+3, cluster.Cell(2).Requests())

	_, _, err = q.Next()
	assert.True(t, archive.IsCode(err, archive.RetCReadPastLastResult))
}

func TestQueryProjectedRows(t *testing.T) {
	f, _ := newClusterFixture(t, common.SimulatorConfig{Cells: 2})
	sys := f.store(t, 1, "x", map[string]archive.Value{
		"name": archive.StringValue("projected"),
		"size": archive.LongValue(42),
	})

	q, err := f.engine.NewQuery(archive.Statement{Where: "name = ?", Params: []archive.Value{archive.StringValue("projected")}, Selects: []string{"size"}}, 0)
	require.NoError(t, err)
	defer q.Close()
	assert.Equal(t, protocol.KindQueryProjected, q.Kind())

	rows := f.drain(t, q)
	require.Len(t, rows, 1)
	assert.Equal(t, sys.ObjectID, rows[0].ObjectID)
	require.NotNil(t, rows[0].Record)
	v, ok := rows[0].Record.Get("size")
	require.True(t, ok)
	n, err := v.Long()
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestQueryIntegrityTimeIsMinimum(t *testing.T) {
	f, cluster := newClusterFixture(t, common.SimulatorConfig{Cells: 2})

	now := time.Now()
	cluster.Cell(1).SetIntegrityTime(now)
	cluster.Cell(2).SetIntegrityTime(now.Add(-time.Minute))

	q, err := f.engine.NewQuery(archive.Statement{Where: "name = 'nothing'"}, 0)
	require.NoError(t, err)
	defer q.Close()

	assert.Empty(t, f.drain(t, q))
	assert.Equal(t, now.Add(-time.Minute).UnixMilli(), q.IntegrityTime())
}

func TestQueryEmptyPageWithCookie(t *testing.T) {
	body := fmt.Sprintf(`<%s><%s value="more"/></%s>`, common.ElemQueryResults, common.ElemCookie, common.ElemQueryResults)
	f := newStubFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(common.HeaderContentLength, strconv.Itoa(len(body)))
		_, _ = w.Write([]byte(body))
	}))

	q, err := f.engine.NewQuery(archive.Statement{Where: "true"}, 0)
	require.NoError(t, err)
	defer q.Close()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		_, poll, err := q.Next()
		if err != nil {
			assert.True(t, archive.IsCode(err, archive.RetCEmptyPageWithCookie), "got %v", err)
			return
		}
		require.NotEqual(t, protocol.Finished, poll)
		require.NoError(t, f.transport.Wait(f.config.PollInterval))
	}
	t.Fatal("empty page with cookie was accepted")
}

func TestQueryBodyFraming(t *testing.T) {
	c := codec.NewCurrentCodec()

	body, framing, err := protocol.QueryBody(archive.Statement{Where: "name = 'a'"}, c)
	require.NoError(t, err)
	assert.Equal(t, common.QueryBodyWhereClause, framing)
	assert.Equal(t, "name = 'a'", string(body))

	body, framing, err = protocol.QueryBody(archive.Statement{
		Where:  "name = ? and k = ?",
		Params: []archive.Value{archive.StringValue("a"), archive.StringValue("b")},
	}, c)
	require.NoError(t, err)
	assert.Equal(t, common.QueryBodyPreparedStatement, framing)
	assert.Contains(t, string(body), "<"+common.ElemPreparedStatement)
	assert.Contains(t, string(body), `index="1"`)
	assert.Contains(t, string(body), `index="2"`)
	assert.Equal(t, 2, strings.Count(string(body), "<"+common.ElemParameter))
}

// --------------------------------------------------------------------------
// Split deliveries
// --------------------------------------------------------------------------

// object ids owned by the default cell
var (
	stubOID      = archive.ObjectID("ab00" + strings.Repeat("1", archive.ObjectIDLength-4))
	otherStubOID = archive.ObjectID("ab00" + strings.Repeat("2", archive.ObjectIDLength-4))
)

func wireAttribute(t *testing.T, name string, v archive.Value) string {
	c := codec.NewCurrentCodec()
	wire, err := c.EncodeValue(v)
	require.NoError(t, err)
	return fmt.Sprintf(`<%s %s="%s" %s="%s"/>`, common.ElemAttribute, common.AttrName, c.EncodeName(name), common.AttrValue, wire)
}

func TestQueryProjectedRowSplitAcrossDeliveries(t *testing.T) {
	a1 := wireAttribute(t, "a", archive.LongValue(1))
	b1 := wireAttribute(t, "b", archive.StringValue("first"))
	a2 := wireAttribute(t, "a", archive.LongValue(2))
	b2 := wireAttribute(t, "b", archive.StringValue("second"))

	f := newSplitFixture(t,
		fmt.Sprintf(`<%s><%s value="1.1"/><%s oid="%s">`, common.ElemQueryResults, common.ElemVersion, common.ElemResult, stubOID),
		a1+b1+fmt.Sprintf(`</%s><%s oid="%s">`, common.ElemResult, common.ElemResult, otherStubOID)+a2[:10],
		a2[10:],
		b2+fmt.Sprintf(`</%s></%s>`, common.ElemResult, common.ElemQueryResults),
	)

	q, err := f.engine.NewQuery(archive.Statement{
		Where:   "k = ?",
		Params:  []archive.Value{archive.StringValue("v")},
		Selects: []string{"a", "b"},
	}, 0)
	require.NoError(t, err)
	defer q.Close()

	rows := f.drain(t, q)
	require.Len(t, rows, 2)
	assert.Equal(t, stubOID, rows[0].ObjectID)
	assert.Equal(t, otherStubOID, rows[1].ObjectID)
	for i, want := range []struct {
		a int64
		b string
	}{{1, "first"}, {2, "second"}} {
		require.NotNil(t, rows[i].Record)
		assert.Equal(t, 2, rows[i].Record.Len(), "row %d", i)
		a, ok := rows[i].Record.Get("a")
		require.True(t, ok, "row %d", i)
		n, err := a.Long()
		require.NoError(t, err)
		assert.Equal(t, want.a, n)
		b, ok := rows[i].Record.Get("b")
		require.True(t, ok, "row %d", i)
		str, err := b.Str()
		require.NoError(t, err)
		assert.Equal(t, want.b, str)
	}
}

func TestRetrieveMetadataSplitAcrossDeliveries(t *testing.T) {
	metadata := fmt.Sprintf(`<%s><%s value="1.1"/>`, common.ElemMetadata, common.ElemVersion) +
		wireAttribute(t, "size", archive.LongValue(7)) +
		fmt.Sprintf(`</%s>`, common.ElemMetadata)
	system := fmt.Sprintf(`<%s %s="%s" %s="sha256" %s="00" %s="7" %s="-1" %s="-1" %s="0" %s="true"/>`,
		common.ElemSystemRecord, common.AttrOID, stubOID, common.AttrDigestAlgorithm, common.AttrDigest,
		common.AttrSize, common.AttrCTime, common.AttrDTime, common.AttrShred, common.AttrIndexed)
	closing := len(metadata) - len(common.ElemMetadata) - 3

	cases := map[string][]string{
		"one delivery":               {metadata + system},
		"boundary between":           {metadata, system},
		"inside closing tag":         {metadata[:closing+4], metadata[closing+4:] + system},
		"closing tag and record":     {metadata[:closing], metadata[closing:] + system[:12], system[12:]},
		"record split after closing": {metadata + system[:5], system[5:]},
	}
	for name, pieces := range cases {
		t.Run(name, func(t *testing.T) {
			f := newSplitFixture(t, pieces...)

			h, err := f.engine.NewRetrieveMetadata(stubOID)
			require.NoError(t, err)
			defer h.Close()
			require.NoError(t, f.drive(t, h))

			md, rec, err := h.Result()
			require.NoError(t, err)
			assert.Equal(t, stubOID, rec.ObjectID)
			assert.Equal(t, int64(7), rec.Size)
			size, ok := md.Get("size")
			require.True(t, ok)
			n, err := size.Long()
			require.NoError(t, err)
			assert.Equal(t, int64(7), n)
		})
	}
}
