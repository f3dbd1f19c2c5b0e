package cell

import (
	"strconv"

	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/ValentinKolb/dCell/lib/markup"
)

// Element names of the multicell descriptor
const (
	ElemDescriptor = "Multicell-Descriptor"
	ElemCell       = "Cell"
)

// DescriptorParser incrementally parses a multicell descriptor:
//
//	<Multicell-Descriptor major-version="M" minor-version="m">
//	  <Cell id="N" address="host" port="P" max-capacity="B" used-capacity="B"/>
//	</Multicell-Descriptor>
type DescriptorParser struct {
	parser *markup.Parser
	silo   Silo
	seen   bool
}

// NewDescriptorParser creates a parser for one descriptor document.
func NewDescriptorParser() *DescriptorParser {
	d := &DescriptorParser{}
	d.parser = markup.NewParser(markup.Funcs{Start: d.start})
	return d
}

// Feed consumes bytes of the descriptor. It returns how many bytes belong
// to the descriptor and whether the descriptor is complete; bytes after the
// descriptor are left for the caller.
func (d *DescriptorParser) Feed(p []byte) (int, bool, error) {
	n, err := d.parser.Feed(p)
	if err != nil {
		return n, false, err
	}
	return n, d.parser.Done(), nil
}

// Silo returns the parsed descriptor once Feed reported completion.
func (d *DescriptorParser) Silo() *Silo {
	if !d.parser.Done() {
		return nil
	}
	s := d.silo
	return &s
}

func (d *DescriptorParser) start(name string, attrs []markup.Attr) error {
	switch name {
	case ElemDescriptor:
		if d.seen {
			return archive.NewError(archive.RetCMalformedWireData, "nested multicell descriptor")
		}
		d.seen = true
		var err error
		if d.silo.Major, err = intAttr(attrs, "major-version"); err != nil {
			return err
		}
		if d.silo.Minor, err = intAttr(attrs, "minor-version"); err != nil {
			return err
		}
	case ElemCell:
		if !d.seen {
			return archive.NewError(archive.RetCMalformedWireData, "cell outside of a multicell descriptor")
		}
		c, err := parseCell(attrs)
		if err != nil {
			return err
		}
		d.silo.Cells = append(d.silo.Cells, c)
	default:
		if !d.seen {
			return archive.Errorf(archive.RetCMalformedWireData, "expected %s, got <%s>", ElemDescriptor, name)
		}
		// unknown children are skipped
	}
	return nil
}

func parseCell(attrs []markup.Attr) (Cell, error) {
	var c Cell
	var err error
	if c.ID, err = intAttr(attrs, "id"); err != nil {
		return c, err
	}
	if c.Port, err = intAttr(attrs, "port"); err != nil {
		return c, err
	}
	addr, ok := markup.Lookup(attrs, "address")
	if !ok || addr == "" {
		return c, archive.Errorf(archive.RetCMalformedWireData, "cell %d has no address", c.ID)
	}
	c.Address = addr
	if c.MaxCapacity, err = optionalInt64Attr(attrs, "max-capacity"); err != nil {
		return c, err
	}
	if c.UsedCapacity, err = optionalInt64Attr(attrs, "used-capacity"); err != nil {
		return c, err
	}
	return c, nil
}

func intAttr(attrs []markup.Attr, name string) (int, error) {
	s, ok := markup.Lookup(attrs, name)
	if !ok {
		return 0, archive.Errorf(archive.RetCMalformedWireData, "missing attribute %s", name)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, archive.Errorf(archive.RetCMalformedWireData, "attribute %s=%q is not a number", name, s)
	}
	return n, nil
}

func optionalInt64Attr(attrs []markup.Attr, name string) (int64, error) {
	s, ok := markup.Lookup(attrs, name)
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, archive.Errorf(archive.RetCMalformedWireData, "attribute %s=%q is not a number", name, s)
	}
	return n, nil
}

// EncodeDescriptor renders a silo in the descriptor format.
func EncodeDescriptor(s *Silo) []byte {
	w := markup.NewWriter()
	w.Start(ElemDescriptor,
		markup.Attr{Name: "major-version", Value: strconv.Itoa(s.Major)},
		markup.Attr{Name: "minor-version", Value: strconv.Itoa(s.Minor)},
	)
	for _, c := range s.Cells {
		w.Empty(ElemCell,
			markup.Attr{Name: "id", Value: strconv.Itoa(c.ID)},
			markup.Attr{Name: "address", Value: c.Address},
			markup.Attr{Name: "port", Value: strconv.Itoa(c.Port)},
			markup.Attr{Name: "max-capacity", Value: strconv.FormatInt(c.MaxCapacity, 10)},
			markup.Attr{Name: "used-capacity", Value: strconv.FormatInt(c.UsedCapacity, 10)},
		)
	}
	return w.Bytes()
}
