package session

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

// flakyWriter fails a configurable number of leading writes, then
// captures the rest.
type flakyWriter struct {
	failures int
	buf      bytes.Buffer
}

func (f *flakyWriter) Write(p []byte) (int, error) {
	if f.failures > 0 {
		f.failures--
		return 0, errors.New("write refused")
	}
	return f.buf.Write(p)
}

// chunkReader yields each chunk from a distinct Read call.
type chunkReader struct {
	chunks [][]byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, errors.New("unexpected EOF sentinel")
	}
	chunk := c.chunks[0]
	c.chunks = c.chunks[1:]
	n := copy(p, chunk)
	if len(c.chunks) == 0 {
		return n, io.EOF
	}
	return n, nil
}

func TestInterruptWhileIdleIsNoop(t *testing.T) {
	var out, in bytes.Buffer
	w := NewWiring(0, &out, &in)

	w.HandleKey([]byte{keyInterrupt})

	assert.Empty(t, in.Bytes(), "no carriage return without an operation in flight")
	assert.Empty(t, out.Bytes())
}

func TestInterruptAfterKeystroke(t *testing.T) {
	var out, in bytes.Buffer
	w := NewWiring(0, &out, &in)

	w.HandleKey([]byte("p"))
	assert.True(t, w.InFlight())

	w.HandleKey([]byte{keyInterrupt})
	assert.Equal(t, "p\r", in.String(), "exactly one carriage return, never the raw interrupt byte")
	assert.Contains(t, out.String(), "^C")
	assert.False(t, w.InFlight())

	// A second interrupt with nothing in flight adds nothing.
	w.HandleKey([]byte{keyInterrupt})
	assert.Equal(t, "p\r", in.String())
}

func TestKeystrokesForwardedInOrder(t *testing.T) {
	var out, in bytes.Buffer
	w := NewWiring(0, &out, &in)

	for _, key := range []string{"a", "f", "l", "\r"} {
		w.HandleKey([]byte(key))
	}
	assert.Equal(t, "afl\r", in.String())
}

func TestSeek(t *testing.T) {
	var out, in bytes.Buffer
	w := NewWiring(0, &out, &in)

	w.Seek("")
	w.Seek("   ")
	assert.Empty(t, in.Bytes(), "empty address is a no-op")

	w.Seek(" 0x401000 ")
	assert.Equal(t, "s 0x401000\r", in.String())
}

func TestStdinFailureReportedInline(t *testing.T) {
	var out bytes.Buffer
	w := NewWiring(0, &out, &flakyWriter{failures: 1})

	w.HandleKey([]byte("p"))
	assert.Contains(t, out.String(), "[stdin error")
}

func TestPumpFailedChunkDoesNotStopStream(t *testing.T) {
	out := &flakyWriter{failures: 1}
	var in bytes.Buffer
	w := NewWiring(0, out, &in)

	r := &chunkReader{chunks: [][]byte{
		[]byte("first chunk\n"),
		[]byte("second chunk\n"),
	}}
	w.Pump("stdout", r)

	assert.Contains(t, out.buf.String(), "second chunk", "later chunks survive an earlier write failure")
	assert.Contains(t, out.buf.String(), "[stdout error")
	assert.NotContains(t, out.buf.String(), "first chunk")
}

func TestPumpPreservesChunkOrder(t *testing.T) {
	var out, in bytes.Buffer
	w := NewWiring(0, &out, &in)

	r := &chunkReader{chunks: [][]byte{
		[]byte("one "),
		[]byte("two "),
		[]byte("three"),
	}}
	w.Pump("stdout", r)

	assert.Equal(t, "one two three", out.String())
}
