package markup

import (
	"bytes"
	"encoding/xml"
)

// Writer builds a markup document element by element.
type Writer struct {
	buf   bytes.Buffer
	stack []string
}

// NewWriter creates an empty document.
func NewWriter() *Writer {
	return &Writer{}
}

// Start opens an element.
func (w *Writer) Start(name string, attrs ...Attr) *Writer {
	w.open(name, attrs)
	w.buf.WriteByte('>')
	w.stack = append(w.stack, name)
	return w
}

// Empty writes a self closing element.
func (w *Writer) Empty(name string, attrs ...Attr) *Writer {
	w.open(name, attrs)
	w.buf.WriteString("/>")
	return w
}

// End closes the innermost open element. It is a no-op when nothing is open.
func (w *Writer) End() *Writer {
	if len(w.stack) == 0 {
		return w
	}
	name := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]
	w.buf.WriteString("</")
	w.buf.WriteString(name)
	w.buf.WriteByte('>')
	return w
}

// Bytes closes all open elements and returns the document.
func (w *Writer) Bytes() []byte {
	for len(w.stack) > 0 {
		w.End()
	}
	return w.buf.Bytes()
}

func (w *Writer) open(name string, attrs []Attr) {
	w.buf.WriteByte('<')
	w.buf.WriteString(name)
	for _, a := range attrs {
		w.buf.WriteByte(' ')
		w.buf.WriteString(a.Name)
		w.buf.WriteString(`="`)
		// writes to a bytes.Buffer never fail
		_ = xml.EscapeText(&w.buf, []byte(a.Value))
		w.buf.WriteByte('"')
	}
}
