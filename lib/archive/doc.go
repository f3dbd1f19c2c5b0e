// Package archive defines the client facing model of the content archive:
// object identifiers, typed metadata values, name/value records, the server
// schema, system records, the IArchive interface and the return codes every
// operation reports.
//
// Key Components:
//
//   - ObjectID: Fixed width hex identifier assigned by the server. A two
//     digit field at a fixed offset names the owning cell.
//
//   - Value: Tagged union over long, double, string, char, date, time,
//     timestamp, binary and object id values.
//
//   - Record: Insertion ordered, name unique attribute map. When created
//     with a Schema, every attribute is validated on insertion (string values
//     are always accepted).
//
//   - Schema: Server declared attribute catalogue, replaced wholesale on
//     refresh.
//
//   - SystemRecord: Authoritative object metadata returned after a store.
//
//   - Error / RetCode: Every failure carries a RetCode. Use CodeOf or
//     errors.Is with the Err* sentinels to branch on it.
package archive
