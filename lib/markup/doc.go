// Package markup implements the small element/attribute markup dialect used
// on the wire between the client and the cluster cells.
//
// The Parser is push based: network deliveries are fed as they arrive and
// element callbacks fire as soon as a tag is complete. Feed reports how many
// bytes it consumed and stops right after the root element closes, which is
// how the protocol engine splits one response body into consecutive
// documents (multicell descriptor, metadata record, system record).
//
// The Writer produces request documents (metadata uploads, prepared query
// statements) with escaped attribute values.
package markup
