package protocol

import (
	"strconv"

	"github.com/ValentinKolb/dCell/lib/archive"
)

// maxChunkIDDigits bounds the hex digits of one chunk id (64 bit)
const maxChunkIDDigits = 16

// chunkAck parses the chunk acknowledgment stream a cell sends while it
// receives an upload. Every acknowledgment is the hex id of the last chunk
// the cell committed, terminated by "\n" (optionally "\r\n", a single "\r"
// directly after the "\n" is tolerated as well). Ids must
// increase. Once the upload is complete and the last sent chunk is
// committed the stream ends and the rest of the body follows.
type chunkAck struct {
	pending  [maxChunkIDDigits]byte
	npending int
	sawCR    bool
	afterLF  bool

	committed    uint64
	lastSent     uint64
	uploadDone   bool
	allCommitted bool
}

// scan consumes acknowledgment bytes. It returns how many bytes belong to
// the acknowledgment stream; the remainder is the response proper.
func (c *chunkAck) scan(p []byte) (int, error) {
	for i, ch := range p {
		if c.allCommitted {
			return i, nil
		}
		switch {
		case isHexDigit(ch):
			if c.sawCR {
				return i, c.desync("digit after carriage return")
			}
			if c.npending == maxChunkIDDigits {
				return i, c.desync("chunk id exceeds 16 hex digits")
			}
			c.pending[c.npending] = ch
			c.npending++
			c.afterLF = false
		case ch == '\r':
			switch {
			case c.npending > 0 && !c.sawCR:
				c.sawCR = true
			case c.npending == 0 && c.afterLF:
				c.afterLF = false
			default:
				return i, c.desync("unexpected carriage return")
			}
		case ch == '\n':
			if c.npending == 0 {
				return i, c.desync("empty chunk id")
			}
			id, _ := strconv.ParseUint(string(c.pending[:c.npending]), 16, 64)
			if id <= c.committed {
				return i, c.desync("chunk id " + strconv.FormatUint(id, 16) + " does not advance past " + strconv.FormatUint(c.committed, 16))
			}
			c.committed = id
			c.npending = 0
			c.sawCR = false
			c.afterLF = true
			if c.uploadDone && c.committed == c.lastSent {
				c.allCommitted = true
			}
		default:
			return i, c.desync("illegal byte " + strconv.QuoteRune(rune(ch)))
		}
	}
	return len(p), nil
}

// complete records that the upload ended after lastSent chunks. The stream
// may already have committed all of them.
func (c *chunkAck) complete(lastSent uint64) error {
	c.uploadDone = true
	c.lastSent = lastSent
	if c.committed > lastSent {
		return c.desync("cell committed chunk " + strconv.FormatUint(c.committed, 16) + " that was never sent")
	}
	if c.committed == lastSent && c.npending == 0 {
		c.allCommitted = true
	}
	return nil
}

// outstanding returns how many sent chunks are not committed yet
func (c *chunkAck) outstanding(sent uint64) uint64 {
	if sent <= c.committed {
		return 0
	}
	return sent - c.committed
}

func (c *chunkAck) desync(msg string) error {
	return archive.NewError(archive.RetCProtocolDesync, "chunk acknowledgment: "+msg)
}

func isHexDigit(ch byte) bool {
	return (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}
