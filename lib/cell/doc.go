// Package cell keeps track of the cells of a multicell archive cluster and
// decides where requests go.
//
// A session starts with a single default cell (the host it was created
// with). Every cell may send the full cluster layout, the multicell
// descriptor, in front of a response body. The Directory installs a
// descriptor only if it is newer than the one it already has; the new Silo
// replaces the old one as a whole, so readers never see a half updated
// layout.
//
// Routing:
//
//   - Resolve maps an object id to its cell. The owning cell id is encoded
//     in the id itself (one byte at hex offset 2).
//   - SelectForStore picks the cell for a new object. An explicit cell id is
//     looked up. With archive.AnyCell a load aware policy runs:
//     one cell is always chosen; with two cells the "power of two choices"
//     draw favours the emptier cell the more the free fractions differ;
//     with three or more cells two distinct cells are sampled and the
//     emptier one wins, falling back to any cell with spare capacity.
//
// CapacityStats reports how evenly the free capacity is spread, using the
// same distribution quality measure as the storage statistics elsewhere.
package cell
