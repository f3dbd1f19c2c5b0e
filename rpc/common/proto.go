package common

import (
	"fmt"
	"net/url"
	"strconv"
)

// --------------------------------------------------------------------------
// Request paths
// --------------------------------------------------------------------------

// Path is the command part of a cell URL
type Path string

const (
	PathRetrieveMetadata Path = "retrieve-metadata"
	PathStoreMetadata    Path = "store-metadata"
	PathStoreBoth        Path = "store-both"
	PathGetConfiguration Path = "get-configuration"
	PathQuery            Path = "query"
	PathQuerySelect      Path = "query-select"
	PathCheckIndexed     Path = "check-indexed"
	PathRetrieve         Path = "retrieve"
	PathStore            Path = "store"
	PathDelete           Path = "delete"
)

// URL parameters
const (
	ParamID           = "id"
	ParamMaxResults   = "max-results"
	ParamMetadataType = "metadata-type"

	MetadataTypeExtended = "extended"
)

// BuildURL assembles http://<address>:<port>/<path>?<params>
func BuildURL(address string, port int, path Path, params url.Values) string {
	u := url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", address, port),
		Path:   "/" + string(path),
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String()
}

// --------------------------------------------------------------------------
// Headers
// --------------------------------------------------------------------------

const (
	// HeaderMulticellVersion tells the cell which descriptor version the
	// client knows ("major.minor")
	HeaderMulticellVersion = "X-Multicell-Version"
	// HeaderMulticellConfig with value MulticellExpect announces a
	// descriptor in front of the response body
	HeaderMulticellConfig = "X-Multicell-Config"
	MulticellExpect       = "expect"

	HeaderRange         = "Range"
	HeaderContentLength = "Content-Length"
	HeaderChunkSize     = "X-Chunk-Size"
	HeaderQueryBody     = "X-Query-Body"
)

// Values of HeaderQueryBody
const (
	QueryBodyWhereClause       = "where-clause"
	QueryBodyPreparedStatement = "prepared-statement"
	QueryBodyCookie            = "cookie"
)

// MulticellVersion formats a descriptor version for HeaderMulticellVersion
func MulticellVersion(major, minor int) string {
	return strconv.Itoa(major) + "." + strconv.Itoa(minor)
}

// RangeHeader formats the value of the Range header. A negative last
// byte leaves the range open ended.
func RangeHeader(first, last int64) string {
	if last < 0 {
		return fmt.Sprintf("bytes=%d-", first)
	}
	return fmt.Sprintf("bytes=%d-%d", first, last)
}

// --------------------------------------------------------------------------
// Markup elements
// --------------------------------------------------------------------------

const (
	ElemMetadata          = "Metadata"
	ElemVersion           = "version"
	ElemAttribute         = "attribute"
	ElemSystemRecord      = "SystemRecord"
	ElemSchema            = "Schema"
	ElemIndexed           = "Indexed"
	ElemQueryResults      = "Query-Results"
	ElemResult            = "Result"
	ElemIntegrityTime     = "Query-Integrity-Time"
	ElemCookie            = "Cookie"
	ElemPreparedStatement = "PreparedStatement"
	ElemParameter         = "parameter"
	ElemSelect            = "select"
)

// Attribute names used by the elements above
const (
	AttrName            = "name"
	AttrValue           = "value"
	AttrType            = "type"
	AttrLength          = "length"
	AttrQueryable       = "queryable"
	AttrResult          = "result"
	AttrWhere           = "where"
	AttrIndex           = "index"
	AttrOID             = "oid"
	AttrDigestAlgorithm = "digest-algorithm"
	AttrDigest          = "digest"
	AttrSize            = "size"
	AttrCTime           = "ctime"
	AttrDTime           = "dtime"
	AttrShred           = "shred"
	AttrIndexed         = "indexed"
)
