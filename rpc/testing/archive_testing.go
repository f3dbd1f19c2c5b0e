package testing

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/ValentinKolb/dCell/rpc/common"
)

// ArchiveFactory connects a new archive client to the entry cell of a
// running cluster
type ArchiveFactory func(t testing.TB, cluster *Cluster) archive.IArchive

// RunArchiveTests runs a conformance suite for an IArchive implementation.
// Every test gets its own cluster built from config.
func RunArchiveTests(t *testing.T, name string, config common.SimulatorConfig, factory ArchiveFactory) {
	run := func(t *testing.T, test func(*testing.T, archive.IArchive, *Cluster)) {
		cluster := NewCluster(config, nil)
		cluster.Start()
		defer cluster.Close()

		a := factory(t, cluster)
		defer a.Close()
		test(t, a, cluster)
	}

	t.Run(name, func(t *testing.T) {
		t.Run("StoreRetrieve", func(t *testing.T) {
			run(t, testStoreRetrieve)
		})

		t.Run("RetrieveRange", func(t *testing.T) {
			run(t, testRetrieveRange)
		})

		t.Run("StoreMetadata", func(t *testing.T) {
			run(t, testStoreMetadata)
		})

		t.Run("Query", func(t *testing.T) {
			run(t, testQuery)
		})

		t.Run("QueryProjected", func(t *testing.T) {
			run(t, testQueryProjected)
		})

		t.Run("QueryParameters", func(t *testing.T) {
			run(t, testQueryParameters)
		})

		t.Run("CheckIndexed", func(t *testing.T) {
			run(t, testCheckIndexed)
		})

		t.Run("Delete", func(t *testing.T) {
			run(t, testDelete)
		})

		t.Run("Schema", func(t *testing.T) {
			run(t, testSchema)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func testContext(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func record(t testing.TB, kv ...string) *archive.Record {
	r := archive.NewRecord(nil)
	for i := 0; i+1 < len(kv); i += 2 {
		if err := r.Set(kv[i], archive.StringValue(kv[i+1])); err != nil {
			t.Fatalf("Failed to build record: %v", err)
		}
	}
	return r
}

// store uploads n objects with the given metadata into a cell
func store(t testing.TB, a archive.IArchive, cellID, n int, kv ...string) []archive.ObjectID {
	ctx := testContext(t)
	var oids []archive.ObjectID
	for i := 0; i < n; i++ {
		data := []byte(fmt.Sprintf("object-%d", i))
		sys, err := a.StoreObject(ctx, cellID, bytes.NewReader(data), record(t, kv...))
		if err != nil {
			t.Fatalf("Failed to store object %d: %v", i, err)
		}
		oids = append(oids, sys.ObjectID)
	}
	return oids
}

// drain reads a result set to its end
func drain(t testing.TB, rs archive.IResultSet) []archive.QueryResult {
	ctx := testContext(t)
	var rows []archive.QueryResult
	for {
		row, ok, err := rs.Next(ctx)
		if err != nil {
			t.Fatalf("Failed to read result %d: %v", len(rows), err)
		}
		if !ok {
			return rows
		}
		rows = append(rows, row)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testStoreRetrieve(t *testing.T, a archive.IArchive, cluster *Cluster) {
	ctx := testContext(t)
	data := []byte("hello archive")

	sys, err := a.StoreObject(ctx, archive.AnyCell, bytes.NewReader(data), record(t, "k", "v"))
	if err != nil {
		t.Fatalf("StoreObject failed: %v", err)
	}
	if !sys.Valid() || sys.Size != int64(len(data)) {
		t.Fatalf("Unexpected system record %+v", sys)
	}
	if cluster.Objects() != 1 {
		t.Errorf("Expected 1 object in the cluster, got %d", cluster.Objects())
	}

	var out bytes.Buffer
	if err := a.RetrieveObject(ctx, sys.ObjectID, &out); err != nil {
		t.Fatalf("RetrieveObject failed: %v", err)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Errorf("Expected data %q, got %q", data, out.Bytes())
	}

	md, got, err := a.RetrieveMetadata(ctx, sys.ObjectID)
	if err != nil {
		t.Fatalf("RetrieveMetadata failed: %v", err)
	}
	if v, ok := md.Get("k"); !ok || v.String() != "v" {
		t.Errorf("Expected metadata k=v, got %v (present %t)", v, ok)
	}
	if got.ObjectID != sys.ObjectID || got.Size != sys.Size || got.Digest != sys.Digest {
		t.Errorf("System record changed between store and retrieve: %+v vs %+v", sys, got)
	}

	sys, err = a.StoreData(ctx, archive.AnyCell, bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("StoreData of an empty object failed: %v", err)
	}
	if sys.Size != 0 {
		t.Errorf("Expected empty object, got size %d", sys.Size)
	}
}

func testRetrieveRange(t *testing.T, a archive.IArchive, _ *Cluster) {
	ctx := testContext(t)
	data := []byte("0123456789")

	sys, err := a.StoreData(ctx, archive.AnyCell, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("StoreData failed: %v", err)
	}

	tests := []struct {
		first, last int64
		want        string
	}{
		{2, 5, "2345"},
		{7, -1, "789"},
		{0, 0, "0"},
		{0, -1, "0123456789"},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if err := a.RetrieveRange(ctx, sys.ObjectID, tt.first, tt.last, &out); err != nil {
			t.Errorf("RetrieveRange(%d, %d) failed: %v", tt.first, tt.last, err)
			continue
		}
		if out.String() != tt.want {
			t.Errorf("RetrieveRange(%d, %d): expected %q, got %q", tt.first, tt.last, tt.want, out.String())
		}
	}
}

func testStoreMetadata(t *testing.T, a archive.IArchive, cluster *Cluster) {
	ctx := testContext(t)

	sys, err := a.StoreData(ctx, archive.AnyCell, bytes.NewReader([]byte("payload")))
	if err != nil {
		t.Fatalf("StoreData failed: %v", err)
	}
	meta, err := a.StoreMetadata(ctx, sys.ObjectID, record(t, "name", "attached"))
	if err != nil {
		t.Fatalf("StoreMetadata failed: %v", err)
	}
	if meta.ObjectID == sys.ObjectID {
		t.Errorf("Expected a new object id for the metadata record")
	}
	if meta.Size != sys.Size {
		t.Errorf("Expected the metadata record to reference %d bytes, got %d", sys.Size, meta.Size)
	}

	md, _, err := a.RetrieveMetadata(ctx, meta.ObjectID)
	if err != nil {
		t.Fatalf("RetrieveMetadata failed: %v", err)
	}
	if v, _ := md.Get("name"); v.String() != "attached" {
		t.Errorf("Expected name=attached, got %v", v)
	}
	if cluster.Objects() != 2 {
		t.Errorf("Expected 2 objects, got %d", cluster.Objects())
	}
}

func testQuery(t *testing.T, a archive.IArchive, cluster *Cluster) {
	ctx := testContext(t)

	want := map[archive.ObjectID]bool{}
	for _, c := range cluster.Cells() {
		for _, oid := range store(t, a, c.ID(), 5, "k", "match") {
			want[oid] = true
		}
		store(t, a, c.ID(), 2, "k", "other")
	}

	rs, err := a.Query(ctx, archive.Statement{Where: "k = 'match'"}, 2)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	defer rs.Close()

	rows := drain(t, rs)
	if len(rows) != len(want) {
		t.Fatalf("Expected %d rows, got %d", len(want), len(rows))
	}
	for _, row := range rows {
		if !want[row.ObjectID] {
			t.Errorf("Unexpected row %s", row.ObjectID)
		}
		delete(want, row.ObjectID)
	}
	if rs.IntegrityTime().IsZero() {
		t.Errorf("Expected an integrity time after reading all pages")
	}

	if _, _, err := rs.Next(ctx); !archive.IsCode(err, archive.RetCReadPastLastResult) {
		t.Errorf("Expected ReadPastLastResult after the end, got %v", err)
	}
}

func testQueryProjected(t *testing.T, a archive.IArchive, _ *Cluster) {
	ctx := testContext(t)
	store(t, a, archive.AnyCell, 3, "k", "p", "name", "projected")

	rs, err := a.Query(ctx, archive.Statement{Where: "k = 'p'", Selects: []string{"name"}}, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	defer rs.Close()

	rows := drain(t, rs)
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Record == nil {
			t.Fatalf("Projected row without record")
		}
		if v, _ := row.Record.Get("name"); v.String() != "projected" {
			t.Errorf("Expected name=projected, got %v", v)
		}
		if _, ok := row.Record.Get("k"); ok {
			t.Errorf("Attribute k was not selected")
		}
		if !row.ObjectID.Valid() {
			t.Errorf("Projected row without object id")
		}
	}
}

func testQueryParameters(t *testing.T, a archive.IArchive, _ *Cluster) {
	ctx := testContext(t)
	store(t, a, archive.AnyCell, 2, "k", "a", "name", "x")
	store(t, a, archive.AnyCell, 3, "k", "a", "name", "y")

	stmt := archive.Statement{
		Where:  "k = ? and name = ?",
		Params: []archive.Value{archive.StringValue("a"), archive.StringValue("y")},
	}
	rs, err := a.Query(ctx, stmt, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	defer rs.Close()

	if rows := drain(t, rs); len(rows) != 3 {
		t.Errorf("Expected 3 rows, got %d", len(rows))
	}
}

func testCheckIndexed(t *testing.T, a archive.IArchive, _ *Cluster) {
	ctx := testContext(t)
	oid := store(t, a, archive.AnyCell, 1, "k", "v")[0]

	for i, want := range []int{1, 0} {
		got, err := a.CheckIndexed(ctx, oid)
		if err != nil {
			t.Fatalf("CheckIndexed %d failed: %v", i, err)
		}
		if got != want {
			t.Errorf("CheckIndexed %d: expected %d, got %d", i, want, got)
		}
	}
}

func testDelete(t *testing.T, a archive.IArchive, cluster *Cluster) {
	ctx := testContext(t)
	oid := store(t, a, archive.AnyCell, 1, "k", "v")[0]

	if err := a.Delete(ctx, oid); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if cluster.Objects() != 0 {
		t.Errorf("Expected no objects after delete, got %d", cluster.Objects())
	}

	_, _, err := a.RetrieveMetadata(ctx, oid)
	if !archive.IsCode(err, archive.RetCHTTPError) {
		t.Errorf("Expected HTTPError for a deleted object, got %v", err)
	}
	if err := a.Delete(ctx, oid); !archive.IsCode(err, archive.RetCHTTPError) {
		t.Errorf("Expected HTTPError when deleting twice, got %v", err)
	}
}

func testSchema(t *testing.T, a archive.IArchive, cluster *Cluster) {
	ctx := testContext(t)
	schema, err := a.Schema(ctx)
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}
	for _, attr := range cluster.Schema().Attributes() {
		got, ok := schema.Lookup(attr.Name)
		if !ok {
			t.Errorf("Attribute %q missing from the schema", attr.Name)
			continue
		}
		if got != attr {
			t.Errorf("Attribute %q: expected %+v, got %+v", attr.Name, attr, got)
		}
	}
}
