package cell

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/ValentinKolb/dCell/lib/archive"
)

// oidInCell builds a valid object id owned by the given cell
func oidInCell(id int) archive.ObjectID {
	return archive.ObjectID(fmt.Sprintf("ab%02x", id) + strings.Repeat("1", archive.ObjectIDLength-4))
}

func newTestDirectory(cells ...Cell) *Directory {
	d := NewDirectory("localhost", 8080, rand.New(rand.NewSource(42)), nil)
	if len(cells) > 0 {
		d.Update(&Silo{Major: 1, Cells: cells})
	}
	return d
}

// TestResolveEmptySilo tests routing before any descriptor was received
func TestResolveEmptySilo(t *testing.T) {
	d := newTestDirectory()

	c, err := d.Resolve(oidInCell(0))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if c.Address != "localhost" || c.Port != 8080 {
		t.Errorf("Expected the default cell, got %s", c)
	}

	if _, err := d.Resolve(oidInCell(3)); archive.CodeOf(err) != archive.RetCNoSuchCell {
		t.Errorf("Expected NoSuchCell, got %v", err)
	}
	if _, err := d.Resolve("xyz"); archive.CodeOf(err) != archive.RetCInvalidObjectID {
		t.Errorf("Expected InvalidObjectID, got %v", err)
	}
}

// TestResolve tests routing by the embedded cell id
func TestResolve(t *testing.T) {
	d := newTestDirectory(
		Cell{ID: 1, Address: "a", Port: 1},
		Cell{ID: 0x1f, Address: "b", Port: 2},
	)
	c, err := d.Resolve(oidInCell(0x1f))
	if err != nil || c.Address != "b" {
		t.Errorf("Expected cell b, got %s (%v)", c, err)
	}
	if _, err := d.Resolve(oidInCell(0)); archive.CodeOf(err) != archive.RetCNoSuchCell {
		t.Errorf("Expected NoSuchCell for the default id once a silo is known, got %v", err)
	}
}

// TestUpdateVersion tests that only newer descriptors are installed
func TestUpdateVersion(t *testing.T) {
	d := newTestDirectory()
	if !d.Update(&Silo{Major: 1, Minor: 2, Cells: []Cell{{ID: 1, Address: "a"}}}) {
		t.Fatal("First descriptor should be installed")
	}
	if d.Update(&Silo{Major: 1, Minor: 2, Cells: []Cell{{ID: 2, Address: "b"}}}) {
		t.Error("Same version should be ignored")
	}
	if d.Update(&Silo{Major: 0, Minor: 9}) {
		t.Error("Older version should be ignored")
	}
	if major, minor := d.Version(); major != 1 || minor != 2 {
		t.Errorf("Unexpected version %d.%d", major, minor)
	}
	if !d.Update(&Silo{Major: 2, Cells: []Cell{{ID: 5, Address: "c"}}}) {
		t.Error("Newer version should be installed")
	}
	snap := d.Snapshot()
	if len(snap) != 1 || snap[0].ID != 5 {
		t.Errorf("Unexpected cells %v", snap)
	}
}

// TestSelectExplicit tests explicit cell selection
func TestSelectExplicit(t *testing.T) {
	d := newTestDirectory(Cell{ID: 1, Address: "a"}, Cell{ID: 2, Address: "b"})
	if c, err := d.SelectForStore(2); err != nil || c.ID != 2 {
		t.Errorf("Expected cell 2, got %s (%v)", c, err)
	}
	if _, err := d.SelectForStore(9); archive.CodeOf(err) != archive.RetCNoSuchCell {
		t.Errorf("Expected NoSuchCell, got %v", err)
	}
}

// TestSelectSingle tests the trivial cases of the policy
func TestSelectSingle(t *testing.T) {
	d := newTestDirectory()
	if c, _ := d.SelectForStore(archive.AnyCell); c.ID != DefaultCellID {
		t.Errorf("Expected default cell, got %s", c)
	}
	d = newTestDirectory(Cell{ID: 7, Address: "a", MaxCapacity: 10, UsedCapacity: 10})
	if c, _ := d.SelectForStore(archive.AnyCell); c.ID != 7 {
		t.Errorf("Expected the only cell, got %s", c)
	}
}

// selectionShare returns how often the cell with the given id was picked
func selectionShare(t *testing.T, d *Directory, id, rounds int) float64 {
	hits := 0
	for i := 0; i < rounds; i++ {
		c, err := d.SelectForStore(archive.AnyCell)
		if err != nil {
			t.Fatalf("SelectForStore failed: %v", err)
		}
		if c.ID == id {
			hits++
		}
	}
	return float64(hits) / float64(rounds)
}

// TestSelectTwoEqual tests that equally full cells split evenly
func TestSelectTwoEqual(t *testing.T) {
	d := newTestDirectory(
		Cell{ID: 1, Address: "a", MaxCapacity: 100, UsedCapacity: 50},
		Cell{ID: 2, Address: "b", MaxCapacity: 200, UsedCapacity: 100},
	)
	share := selectionShare(t, d, 1, 20000)
	if math.Abs(share-0.5) > 0.02 {
		t.Errorf("Expected about 50%% for cell 1, got %.3f", share)
	}
}

// TestSelectTwoSkewed tests that the emptier cell wins with 50+gap percent
func TestSelectTwoSkewed(t *testing.T) {
	d := newTestDirectory(
		Cell{ID: 1, Address: "a", MaxCapacity: 100, UsedCapacity: 60}, // 40% free
		Cell{ID: 2, Address: "b", MaxCapacity: 100, UsedCapacity: 20}, // 80% free
	)
	share := selectionShare(t, d, 2, 20000)
	if math.Abs(share-0.9) > 0.02 {
		t.Errorf("Expected about 90%% for the emptier cell, got %.3f", share)
	}
}

// TestSelectTwoFull tests that a full cell never wins against one with space
func TestSelectTwoFull(t *testing.T) {
	d := newTestDirectory(
		Cell{ID: 1, Address: "a", MaxCapacity: 100, UsedCapacity: 100},
		Cell{ID: 2, Address: "b", MaxCapacity: 100, UsedCapacity: 99},
	)
	if share := selectionShare(t, d, 2, 1000); share != 1 {
		t.Errorf("Full cell was chosen, share of cell 2 is %.3f", share)
	}
}

// TestSelectMany tests the policy with three and more cells
func TestSelectMany(t *testing.T) {
	d := newTestDirectory(
		Cell{ID: 1, Address: "a", MaxCapacity: 100, UsedCapacity: 100},
		Cell{ID: 2, Address: "b", MaxCapacity: 100, UsedCapacity: 100},
		Cell{ID: 3, Address: "c", MaxCapacity: 100, UsedCapacity: 10},
		Cell{ID: 4, Address: "d", MaxCapacity: 100, UsedCapacity: 100},
	)
	if share := selectionShare(t, d, 3, 2000); share != 1 {
		t.Errorf("Expected only cell 3 to be chosen, got share %.3f", share)
	}

	// unknown capacities count as space
	d = newTestDirectory(
		Cell{ID: 1, Address: "a"},
		Cell{ID: 2, Address: "b"},
		Cell{ID: 3, Address: "c"},
	)
	seen := map[int]bool{}
	for i := 0; i < 300; i++ {
		c, err := d.SelectForStore(archive.AnyCell)
		if err != nil {
			t.Fatalf("SelectForStore failed: %v", err)
		}
		seen[c.ID] = true
	}
	if len(seen) != 3 {
		t.Errorf("Expected all cells to be used, got %v", seen)
	}
}

// scriptedSource replays fixed draws, rand.Intn(n) returns each value as
// long as it is below n
type scriptedSource struct {
	draws []int64
	next  int
}

func (s *scriptedSource) Int63() int64 {
	v := s.draws[s.next%len(s.draws)]
	s.next++
	return v << 32
}

func (s *scriptedSource) Seed(int64) {}

// TestSelectManyResamples tests that a pair of full cells is replaced by a
// fresh pair instead of a random cell with space
func TestSelectManyResamples(t *testing.T) {
	src := &scriptedSource{draws: []int64{
		0, 0, // cells 1 and 2, both full
		3, 2, // cells 4 and 3, cell 3 is emptier
	}}
	d := NewDirectory("localhost", 8080, rand.New(src), nil)
	d.Update(&Silo{Major: 1, Cells: []Cell{
		{ID: 1, Address: "a", MaxCapacity: 100, UsedCapacity: 100},
		{ID: 2, Address: "b", MaxCapacity: 100, UsedCapacity: 100},
		{ID: 3, Address: "c", MaxCapacity: 100, UsedCapacity: 10},
		{ID: 4, Address: "d", MaxCapacity: 100, UsedCapacity: 80},
	}})

	c, err := d.SelectForStore(archive.AnyCell)
	if err != nil {
		t.Fatalf("SelectForStore failed: %v", err)
	}
	if c.ID != 3 {
		t.Errorf("Expected cell 3 from the second pair, got cell %d", c.ID)
	}
	if src.next != 4 {
		t.Errorf("Expected two pairs to be drawn, got %d draws", src.next)
	}
}

// TestSelectNoSpace tests the error when every cell is full
func TestSelectNoSpace(t *testing.T) {
	d := newTestDirectory(
		Cell{ID: 1, Address: "a", MaxCapacity: 1, UsedCapacity: 1},
		Cell{ID: 2, Address: "b", MaxCapacity: 1, UsedCapacity: 2},
		Cell{ID: 3, Address: "c", MaxCapacity: 1, UsedCapacity: 1},
	)
	if _, err := d.SelectForStore(archive.AnyCell); archive.CodeOf(err) != archive.RetCNoSpaceAvailable {
		t.Errorf("Expected NoSpaceAvailable, got %v", err)
	}
}

// TestDescriptorParser tests parsing split deliveries with trailing data
func TestDescriptorParser(t *testing.T) {
	silo := &Silo{Major: 3, Minor: 1, Cells: []Cell{
		{ID: 1, Address: "10.0.0.1", Port: 8080, MaxCapacity: 1000, UsedCapacity: 10},
		{ID: 2, Address: "10.0.0.2", Port: 8081},
	}}
	data := append(EncodeDescriptor(silo), []byte("<SystemRecord/>")...)

	p := NewDescriptorParser()
	consumed := 0
	done := false
	for !done && consumed < len(data) {
		end := consumed + 7
		if end > len(data) {
			end = len(data)
		}
		n, ok, err := p.Feed(data[consumed:end])
		if err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
		consumed += n
		done = ok
	}
	if !done {
		t.Fatal("Descriptor did not complete")
	}
	if string(data[consumed:]) != "<SystemRecord/>" {
		t.Errorf("Unexpected remainder %q", data[consumed:])
	}

	got := p.Silo()
	if got.Major != 3 || got.Minor != 1 || len(got.Cells) != 2 {
		t.Fatalf("Unexpected silo %+v", got)
	}
	if got.Cells[0] != silo.Cells[0] || got.Cells[1] != silo.Cells[1] {
		t.Errorf("Cells differ: %+v", got.Cells)
	}
}

// TestDescriptorErrors tests malformed descriptors
func TestDescriptorErrors(t *testing.T) {
	cases := []string{
		`<Other/>`,
		`<Multicell-Descriptor minor-version="1"/>`,
		`<Multicell-Descriptor major-version="1" minor-version="x"/>`,
		`<Multicell-Descriptor major-version="1" minor-version="0"><Cell id="1" port="2"/></Multicell-Descriptor>`,
	}
	for _, c := range cases {
		_, _, err := NewDescriptorParser().Feed([]byte(c))
		if archive.CodeOf(err) != archive.RetCMalformedWireData {
			t.Errorf("Feed(%q): expected MalformedWireData, got %v", c, err)
		}
	}
}

// TestCapacityStats tests the distribution rating of free capacity
func TestCapacityStats(t *testing.T) {
	even := CapacityStats([]Cell{
		{MaxCapacity: 100, UsedCapacity: 50},
		{MaxCapacity: 10, UsedCapacity: 5},
	})
	if even.DistributionQuality != 1 || even.Mean != 0.5 {
		t.Errorf("Expected perfect distribution, got %+v", even)
	}

	skewed := CapacityStats([]Cell{
		{MaxCapacity: 100, UsedCapacity: 100},
		{MaxCapacity: 100, UsedCapacity: 0},
	})
	if skewed.MinMaxRatio != 0 || skewed.DistributionQuality >= 0.5 {
		t.Errorf("Expected poor distribution, got %+v", skewed)
	}
}
