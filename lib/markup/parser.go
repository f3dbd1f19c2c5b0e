package markup

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dCell/lib/archive"
)

// DefaultMaxTagSize bounds a single tag (including its attributes)
const DefaultMaxTagSize = 1 << 20

// Attr is one attribute of an element, with entities already decoded.
type Attr struct {
	Name  string
	Value string
}

// Handler receives element events from a Parser.
type Handler interface {
	StartElement(name string, attrs []Attr) error
	EndElement(name string) error
}

// Funcs adapts plain functions to the Handler interface. Nil functions
// are skipped.
type Funcs struct {
	Start func(name string, attrs []Attr) error
	End   func(name string) error
}

func (f Funcs) StartElement(name string, attrs []Attr) error {
	if f.Start == nil {
		return nil
	}
	return f.Start(name, attrs)
}

func (f Funcs) EndElement(name string) error {
	if f.End == nil {
		return nil
	}
	return f.End(name)
}

// Lookup returns the value of the attribute called name.
func Lookup(attrs []Attr, name string) (string, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// --------------------------------------------------------------------------
// Parser
// --------------------------------------------------------------------------

type parserState int

const (
	stateText parserState = iota
	stateTag
)

// Parser is an incremental (push) parser for the element/attribute subset
// of XML the cluster speaks. Bytes can be fed in arbitrary pieces; element
// callbacks fire as soon as a tag is complete. Parsing stops right after
// the root element closes, so the caller can hand the remaining bytes of
// the same delivery to someone else. Text content is ignored.
type Parser struct {
	handler    Handler
	state      parserState
	tag        []byte
	quote      byte
	stack      []string
	done       bool
	maxTagSize int
}

// NewParser creates a parser that reports to handler.
func NewParser(handler Handler) *Parser {
	return &Parser{
		handler:    handler,
		maxTagSize: DefaultMaxTagSize,
	}
}

// Done reports whether the root element was closed.
func (p *Parser) Done() bool {
	return p.done
}

// Depth returns the number of currently open elements.
func (p *Parser) Depth() int {
	return len(p.stack)
}

// Reset prepares the parser for a new document.
func (p *Parser) Reset() {
	p.state = stateText
	p.tag = p.tag[:0]
	p.quote = 0
	p.stack = p.stack[:0]
	p.done = false
}

// Feed parses data and returns how many bytes were consumed. Fewer than
// len(data) bytes are consumed only when the root element closed inside
// data. After Done, Feed consumes nothing.
func (p *Parser) Feed(data []byte) (int, error) {
	if p.done {
		return 0, nil
	}
	for i := 0; i < len(data); i++ {
		c := data[i]
		if p.state == stateText {
			if c == '<' {
				p.state = stateTag
				p.tag = p.tag[:0]
				continue
			}
			if len(p.stack) == 0 && !isSpace(c) {
				return i, archive.Errorf(archive.RetCMalformedWireData, "unexpected character %q outside of the root element", c)
			}
			continue
		}

		// inside a tag
		if p.quote != 0 {
			if c == p.quote {
				p.quote = 0
			}
		} else if (c == '"' || c == '\'') && !p.inComment() {
			p.quote = c
		} else if c == '>' && (!p.inComment() || bytes.HasSuffix(p.tag, []byte("--"))) {
			if err := p.processTag(); err != nil {
				return i, err
			}
			p.state = stateText
			if p.done {
				return i + 1, nil
			}
			continue
		}

		p.tag = append(p.tag, c)
		if len(p.tag) > p.maxTagSize {
			return i, archive.Errorf(archive.RetCBufferOverflow, "tag exceeds %d bytes", p.maxTagSize)
		}
	}
	return len(data), nil
}

func (p *Parser) inComment() bool {
	return bytes.HasPrefix(p.tag, []byte("!--"))
}

// processTag dispatches the tag collected between '<' and '>'
func (p *Parser) processTag() error {
	tag := p.tag
	if len(tag) == 0 {
		return archive.NewError(archive.RetCMalformedWireData, "empty tag")
	}

	switch tag[0] {
	case '?', '!':
		// processing instruction, comment or doctype
		return nil
	case '/':
		name := strings.TrimSpace(string(tag[1:]))
		if len(p.stack) == 0 || p.stack[len(p.stack)-1] != name {
			return archive.Errorf(archive.RetCMalformedWireData, "unexpected end tag </%s>", name)
		}
		p.stack = p.stack[:len(p.stack)-1]
		if err := p.handler.EndElement(name); err != nil {
			return err
		}
		p.done = len(p.stack) == 0
		return nil
	}

	selfClosing := tag[len(tag)-1] == '/'
	if selfClosing {
		tag = tag[:len(tag)-1]
	}
	name, attrs, err := parseStartTag(tag)
	if err != nil {
		return err
	}
	if err := p.handler.StartElement(name, attrs); err != nil {
		return err
	}
	if selfClosing {
		if err := p.handler.EndElement(name); err != nil {
			return err
		}
		p.done = len(p.stack) == 0
		return nil
	}
	p.stack = append(p.stack, name)
	return nil
}

// parseStartTag splits `name a="1" b='2'` into its parts
func parseStartTag(tag []byte) (string, []Attr, error) {
	pos := 0
	for pos < len(tag) && !isSpace(tag[pos]) {
		pos++
	}
	name := string(tag[:pos])
	if name == "" {
		return "", nil, archive.NewError(archive.RetCMalformedWireData, "element without name")
	}

	var attrs []Attr
	for {
		for pos < len(tag) && isSpace(tag[pos]) {
			pos++
		}
		if pos >= len(tag) {
			return name, attrs, nil
		}

		start := pos
		for pos < len(tag) && tag[pos] != '=' && !isSpace(tag[pos]) {
			pos++
		}
		attrName := string(tag[start:pos])
		for pos < len(tag) && isSpace(tag[pos]) {
			pos++
		}
		if pos >= len(tag) || tag[pos] != '=' {
			return "", nil, archive.Errorf(archive.RetCMalformedWireData, "attribute %q of <%s> has no value", attrName, name)
		}
		pos++
		for pos < len(tag) && isSpace(tag[pos]) {
			pos++
		}
		if pos >= len(tag) || (tag[pos] != '"' && tag[pos] != '\'') {
			return "", nil, archive.Errorf(archive.RetCMalformedWireData, "attribute %q of <%s> is not quoted", attrName, name)
		}
		quote := tag[pos]
		pos++
		end := bytes.IndexByte(tag[pos:], quote)
		if end < 0 {
			return "", nil, archive.Errorf(archive.RetCMalformedWireData, "attribute %q of <%s> is not terminated", attrName, name)
		}
		value, err := unescape(tag[pos : pos+end])
		if err != nil {
			return "", nil, err
		}
		attrs = append(attrs, Attr{Name: attrName, Value: value})
		pos += end + 1
	}
}

// unescape resolves the predefined and numeric character entities
func unescape(raw []byte) (string, error) {
	if bytes.IndexByte(raw, '&') < 0 {
		return string(raw), nil
	}
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '&' {
			sb.WriteByte(raw[i])
			continue
		}
		end := bytes.IndexByte(raw[i:], ';')
		if end < 0 {
			return "", archive.NewError(archive.RetCMalformedWireData, "unterminated entity")
		}
		entity := string(raw[i+1 : i+end])
		switch entity {
		case "amp":
			sb.WriteByte('&')
		case "lt":
			sb.WriteByte('<')
		case "gt":
			sb.WriteByte('>')
		case "quot":
			sb.WriteByte('"')
		case "apos":
			sb.WriteByte('\'')
		default:
			r, err := numericEntity(entity)
			if err != nil {
				return "", err
			}
			sb.WriteRune(r)
		}
		i += end
	}
	return sb.String(), nil
}

func numericEntity(entity string) (rune, error) {
	if !strings.HasPrefix(entity, "#") {
		return 0, archive.Errorf(archive.RetCMalformedWireData, "unknown entity &%s;", entity)
	}
	var (
		n   uint64
		err error
	)
	if strings.HasPrefix(entity, "#x") || strings.HasPrefix(entity, "#X") {
		n, err = strconv.ParseUint(entity[2:], 16, 32)
	} else {
		n, err = strconv.ParseUint(entity[1:], 10, 32)
	}
	if err != nil {
		return 0, archive.Errorf(archive.RetCMalformedWireData, "bad character reference &%s;", entity)
	}
	return rune(n), nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
