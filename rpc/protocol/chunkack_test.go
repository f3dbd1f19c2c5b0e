package protocol

import (
	"testing"

	"github.com/ValentinKolb/dCell/lib/archive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkAckCommitsRetroactively(t *testing.T) {
	c := &chunkAck{}
	n, err := c.scan([]byte("3\n5\n7\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, uint64(7), c.committed)
	assert.False(t, c.allCommitted, "upload is still running")

	require.NoError(t, c.complete(7))
	assert.True(t, c.allCommitted)
}

func TestChunkAckCommitsMidScan(t *testing.T) {
	c := &chunkAck{}
	require.NoError(t, c.complete(0x1a))

	data := []byte("9\r\n1a\n<SystemRecord/>")
	n, err := c.scan(data)
	require.NoError(t, err)
	assert.True(t, c.allCommitted)
	assert.Equal(t, "<SystemRecord/>", string(data[n:]))
}

func TestChunkAckSplitDeliveries(t *testing.T) {
	c := &chunkAck{}
	for _, piece := range []string{"1", "0", "\r", "\n", "2", "0\n"} {
		_, err := c.scan([]byte(piece))
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(0x20), c.committed)
}

func TestChunkAckCarriageReturnAfterNewline(t *testing.T) {
	c := &chunkAck{}
	for _, piece := range []string{"3\n", "\r", "5\n\r7\r\n"} {
		_, err := c.scan([]byte(piece))
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(7), c.committed)
}

func TestChunkAckEmptyUpload(t *testing.T) {
	c := &chunkAck{}
	require.NoError(t, c.complete(0))
	assert.True(t, c.allCommitted)
}

func TestChunkAckDesync(t *testing.T) {
	cases := map[string]string{
		"out of order":     "5\n3\n",
		"repeated":         "5\n5\n",
		"illegal byte":     "3\nx\n",
		"empty id":         "\n",
		"bare cr":          "\r\n",
		"digit after cr":   "3\r4\n",
		"two cr after lf":  "3\n\r\r5\n",
		"cr after cr lf":   "3\r\n\r\r",
		"overflowing id":   "11111111111111111\n",
		"zero not advance": "0\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := (&chunkAck{}).scan([]byte(input))
			assert.True(t, archive.IsCode(err, archive.RetCProtocolDesync), "got %v", err)
		})
	}
}

func TestChunkAckCommittedBeyondSent(t *testing.T) {
	c := &chunkAck{}
	_, err := c.scan([]byte("9\n"))
	require.NoError(t, err)
	assert.True(t, archive.IsCode(c.complete(4), archive.RetCProtocolDesync))
}

func TestChunkAckOutstanding(t *testing.T) {
	c := &chunkAck{}
	assert.Equal(t, uint64(3), c.outstanding(3))
	_, err := c.scan([]byte("2\n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.outstanding(3))
	assert.Equal(t, uint64(0), c.outstanding(2))
}
