package archive

import (
	"encoding/hex"
	"strconv"
	"strings"
)

const (
	// ObjectIDLength is the number of hex characters of an object identifier
	ObjectIDLength = 60
	// cellIDOffset is the hex offset of the two digit cell id field
	cellIDOffset = 2
)

// ObjectID is the server assigned identifier of a stored object.
// It is a fixed width hex string; the byte at hex offset 2 names the cell
// the object lives in.
type ObjectID string

// NullObjectID is the reserved identifier meaning "no object".
var NullObjectID = ObjectID(strings.Repeat("0", ObjectIDLength))

// ParseObjectID validates s and returns it as an ObjectID.
// Upper case digits are accepted and normalized to lower case.
func ParseObjectID(s string) (ObjectID, error) {
	if len(s) != ObjectIDLength {
		return "", Errorf(RetCInvalidObjectID, "object id must have %d hex characters, got %d", ObjectIDLength, len(s))
	}
	for i := 0; i < len(s); i++ {
		if !isHex(s[i]) {
			return "", Errorf(RetCInvalidObjectID, "illegal character %q at offset %d", s[i], i)
		}
	}
	return ObjectID(strings.ToLower(s)), nil
}

// CellID returns the id of the cell that owns the object.
func (o ObjectID) CellID() (int, error) {
	if len(o) != ObjectIDLength {
		return 0, Errorf(RetCInvalidObjectID, "object id %q has the wrong length", string(o))
	}
	id, err := strconv.ParseUint(string(o[cellIDOffset:cellIDOffset+2]), 16, 8)
	if err != nil {
		return 0, Errorf(RetCInvalidObjectID, "object id %q has no cell field: %v", string(o), err)
	}
	return int(id), nil
}

// IsNull reports whether o is empty or the reserved null identifier.
func (o ObjectID) IsNull() bool {
	return o == "" || o == NullObjectID
}

// Valid reports whether o is a syntactically valid, non null identifier.
func (o ObjectID) Valid() bool {
	if o.IsNull() {
		return false
	}
	_, err := ParseObjectID(string(o))
	return err == nil
}

func (o ObjectID) String() string {
	return string(o)
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Value converts o into an object id typed Value.
func (o ObjectID) Value() (Value, error) {
	raw, err := hex.DecodeString(string(o))
	if err != nil || len(o) != ObjectIDLength {
		return Value{}, Errorf(RetCInvalidObjectID, "object id %q is not valid", string(o))
	}
	return ObjectIDValue(raw), nil
}
