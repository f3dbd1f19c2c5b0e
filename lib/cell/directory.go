package cell

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/lni/dragonboat/v4/logger"
)

// DefaultCellID is the id of the cell the session was created with
const DefaultCellID = 0

// Cell is one independently addressable partition of the cluster.
type Cell struct {
	ID           int
	Address      string
	Port         int
	MaxCapacity  int64 // bytes, 0 when unknown
	UsedCapacity int64 // bytes
}

// FreeFraction returns the share of unused capacity. Cells without a known
// capacity count as empty.
func (c Cell) FreeFraction() float64 {
	if c.MaxCapacity <= 0 {
		return 1
	}
	return 1 - float64(c.UsedCapacity)/float64(c.MaxCapacity)
}

// HasCapacity reports whether the capacity of the cell was announced.
func (c Cell) HasCapacity() bool {
	return c.MaxCapacity > 0
}

// HasSpace reports whether the cell can take more data. Unknown capacity
// counts as space.
func (c Cell) HasSpace() bool {
	return !c.HasCapacity() || c.UsedCapacity < c.MaxCapacity
}

func (c Cell) String() string {
	return fmt.Sprintf("cell %d (%s:%d)", c.ID, c.Address, c.Port)
}

// Silo is one version of the multicell descriptor. A Silo is never modified
// after it was published to a Directory.
type Silo struct {
	Major int
	Minor int
	Cells []Cell
}

// NewerThan compares descriptor versions.
func (s *Silo) NewerThan(o *Silo) bool {
	if s.Major != o.Major {
		return s.Major > o.Major
	}
	return s.Minor > o.Minor
}

// --------------------------------------------------------------------------
// Directory
// --------------------------------------------------------------------------

// Directory knows the cells of the cluster. It starts with a default cell
// (the address the session was created with) and an empty silo; the cells
// announce the full silo through the multicell descriptor.
type Directory struct {
	defaultCell Cell
	silo        atomic.Pointer[Silo]

	rndMu sync.Mutex
	rnd   *rand.Rand

	log logger.ILogger
}

// NewDirectory creates a directory with a default cell. rnd drives the
// store selection and may be nil; log may be nil as well.
func NewDirectory(address string, port int, rnd *rand.Rand, log logger.ILogger) *Directory {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if log == nil {
		log = logger.GetLogger("cell")
	}
	d := &Directory{
		defaultCell: Cell{ID: DefaultCellID, Address: address, Port: port},
		rnd:         rnd,
		log:         log,
	}
	d.silo.Store(&Silo{})
	return d
}

// Version returns the version of the current silo (0.0 if none was seen).
func (d *Directory) Version() (major, minor int) {
	s := d.silo.Load()
	return s.Major, s.Minor
}

// Default returns the cell the directory was created with.
func (d *Directory) Default() Cell {
	return d.defaultCell
}

// Snapshot returns a copy of the known cells, ordered as announced. With an
// empty silo the default cell is the only one.
func (d *Directory) Snapshot() []Cell {
	s := d.silo.Load()
	if len(s.Cells) == 0 {
		return []Cell{d.defaultCell}
	}
	out := make([]Cell, len(s.Cells))
	copy(out, s.Cells)
	return out
}

// Update replaces the silo if the new one has a newer version.
func (d *Directory) Update(silo *Silo) bool {
	if silo == nil {
		return false
	}
	cur := d.silo.Load()
	if !silo.NewerThan(cur) {
		d.log.Debugf("ignoring multicell descriptor %d.%d, have %d.%d", silo.Major, silo.Minor, cur.Major, cur.Minor)
		return false
	}
	cells := make([]Cell, len(silo.Cells))
	copy(cells, silo.Cells)
	if !d.silo.CompareAndSwap(cur, &Silo{Major: silo.Major, Minor: silo.Minor, Cells: cells}) {
		// a concurrent update won, retry against it
		return d.Update(silo)
	}
	d.log.Infof("multicell descriptor %d.%d installed with %d cells", silo.Major, silo.Minor, len(cells))
	return true
}

// Lookup returns the cell with the given id.
func (d *Directory) Lookup(id int) (Cell, error) {
	s := d.silo.Load()
	if len(s.Cells) == 0 {
		if id == DefaultCellID {
			return d.defaultCell, nil
		}
		return Cell{}, archive.Errorf(archive.RetCNoSuchCell, "cell %d is unknown (no multicell descriptor yet)", id)
	}
	for _, c := range s.Cells {
		if c.ID == id {
			return c, nil
		}
	}
	return Cell{}, archive.Errorf(archive.RetCNoSuchCell, "cell %d is unknown", id)
}

// Resolve returns the cell that owns the object.
func (d *Directory) Resolve(oid archive.ObjectID) (Cell, error) {
	id, err := oid.CellID()
	if err != nil {
		return Cell{}, err
	}
	return d.Lookup(id)
}

// SelectForStore picks the cell a new object goes to. A non negative cellID
// is looked up; archive.AnyCell lets the load aware policy decide.
func (d *Directory) SelectForStore(cellID int) (Cell, error) {
	if cellID >= 0 {
		return d.Lookup(cellID)
	}

	cells := d.silo.Load().Cells
	switch len(cells) {
	case 0:
		return d.defaultCell, nil
	case 1:
		return cells[0], nil
	case 2:
		return d.pickOfTwo(cells[0], cells[1]), nil
	default:
		return d.pickOfMany(cells)
	}
}

// --------------------------------------------------------------------------
// Selection policy
// --------------------------------------------------------------------------

func (d *Directory) intn(n int) int {
	d.rndMu.Lock()
	defer d.rndMu.Unlock()
	return d.rnd.Intn(n)
}

// pickOfTwo is the power of two choices: the emptier cell wins with a
// probability that grows with the difference of the free fractions. A full
// cell never wins against one with space.
func (d *Directory) pickOfTwo(a, b Cell) Cell {
	if a.HasSpace() != b.HasSpace() {
		if a.HasSpace() {
			return a
		}
		return b
	}

	fa, fb := a.FreeFraction(), b.FreeFraction()
	better, worse := a, b
	if fb > fa {
		better, worse = b, a
	}
	gap := math.Abs(fa-fb) * 100

	if float64(d.intn(100)) >= 50+gap {
		return worse
	}
	return better
}

// pickOfMany samples pairs of distinct cells until one has space, the
// emptier cell of that pair wins. After n full pairs, or as soon as a sampled
// cell has no known capacity, any cell with space is taken.
func (d *Directory) pickOfMany(cells []Cell) (Cell, error) {
	n := len(cells)
	for attempt := 0; attempt < n; attempt++ {
		i := d.intn(n)
		j := d.intn(n - 1)
		if j >= i {
			j++
		}
		a, b := cells[i], cells[j]
		if !a.HasCapacity() || !b.HasCapacity() {
			break
		}
		if !a.HasSpace() && !b.HasSpace() {
			continue
		}
		if !b.HasSpace() || (a.HasSpace() && a.FreeFraction() >= b.FreeFraction()) {
			return a, nil
		}
		return b, nil
	}

	for k := 0; k < 2*n; k++ {
		if c := cells[d.intn(n)]; c.HasSpace() {
			return c, nil
		}
	}
	for _, c := range cells {
		if c.HasSpace() {
			return c, nil
		}
	}
	return Cell{}, archive.NewError(archive.RetCNoSpaceAvailable, "no cell has spare capacity")
}
