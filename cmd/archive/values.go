package archive

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dCell/lib/archive"
)

// Layouts of the command line representation of time values
const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// parseValue converts the command line text of a value into the schema type
func parseValue(typ archive.ValueType, s string) (archive.Value, error) {
	switch typ {
	case archive.TypeLong:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return archive.Value{}, fmt.Errorf("%q is not a long: %w", s, err)
		}
		return archive.LongValue(n), nil
	case archive.TypeDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return archive.Value{}, fmt.Errorf("%q is not a double: %w", s, err)
		}
		return archive.DoubleValue(f), nil
	case archive.TypeString:
		return archive.StringValue(s), nil
	case archive.TypeChar:
		return archive.CharValue(s), nil
	case archive.TypeDate:
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return archive.Value{}, fmt.Errorf("%q is not a date (%s): %w", s, dateLayout, err)
		}
		return archive.DateValue(t), nil
	case archive.TypeTime:
		t, err := time.Parse(timeLayout, s)
		if err != nil {
			return archive.Value{}, fmt.Errorf("%q is not a time (%s): %w", s, timeLayout, err)
		}
		return archive.TimeValue(t), nil
	case archive.TypeTimestamp:
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return archive.Value{}, fmt.Errorf("%q is not an RFC 3339 timestamp: %w", s, err)
		}
		return archive.TimestampValue(t), nil
	case archive.TypeBinary:
		b, err := hex.DecodeString(s)
		if err != nil {
			return archive.Value{}, fmt.Errorf("binary values are hex encoded: %w", err)
		}
		return archive.BinaryValue(b), nil
	case archive.TypeObjectID:
		oid, err := archive.ParseObjectID(s)
		if err != nil {
			return archive.Value{}, err
		}
		return oid.Value()
	default:
		return archive.Value{}, fmt.Errorf("values of type %s cannot be given on the command line", typ)
	}
}

// parseAssignments reads name=value arguments into a record typed by the
// schema
func parseAssignments(schema *archive.Schema, args []string) (*archive.Record, error) {
	md := archive.NewRecord(schema)
	for _, arg := range args {
		name, text, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid metadata %q (expected name=value)", arg)
		}
		attr, ok := schema.Lookup(name)
		if !ok {
			return nil, archive.Errorf(archive.RetCUnknownAttribute, "attribute %q is not part of the schema", name)
		}
		v, err := parseValue(attr.Type, text)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		if err := md.Set(name, v); err != nil {
			return nil, err
		}
	}
	return md, nil
}

// parseParam reads a query parameter. A type prefix (long:42) selects the
// value type, anything else is a string.
func parseParam(s string) (archive.Value, error) {
	if prefix, text, ok := strings.Cut(s, ":"); ok {
		if typ, err := archive.ParseValueType(prefix); err == nil {
			return parseValue(typ, text)
		}
	}
	return archive.StringValue(s), nil
}
