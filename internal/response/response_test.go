package response

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preforkd/internal/httpparse"
)

func TestStatusForParseError(t *testing.T) {
	cases := []struct {
		kind httpparse.Kind
		want int
	}{
		{httpparse.InvalidMethod, 405},
		{httpparse.InvalidProtocol, 505},
		{httpparse.UnsupportedTransferEncoding, 501},
		{httpparse.AllocationFailure, 500},
		{httpparse.EmptyRequest, 400},
		{httpparse.RequestLineParseFailed, 400},
		{httpparse.HeadersParseFailed, 400},
		{httpparse.BodyParseFailed, 400},
		{httpparse.InvalidFormat, 400},
		{httpparse.OutOfBounds, 400},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusForParseError(c.kind), c.kind.String())
	}
}

func TestWriteToFormatsHTTP11(t *testing.T) {
	r := New(200, false, []byte("hello"))
	var buf bytes.Buffer
	require.NoError(t, r.WriteTo(&buf))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, out, "Connection: close\r\n")
	assert.Contains(t, out, "Content-Length: 5\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\nhello"))
}

func TestWriteToEchoesHTTP10Exactly(t *testing.T) {
	r := New(404, true, nil)
	var buf bytes.Buffer
	require.NoError(t, r.WriteTo(&buf))
	assert.True(t, strings.HasPrefix(buf.String(), "HTTP/1.0 404 Not Found\r\n"))
}

func TestForParseErrorNilView(t *testing.T) {
	perr := &httpparse.ParseError{Kind: httpparse.EmptyRequest}
	r := ForParseError(perr, nil)
	assert.Equal(t, 400, r.Status)
	assert.False(t, r.HTTP10)
}

func TestWriteToIncludesContentTypeWhenSet(t *testing.T) {
	r := New(200, false, []byte("{}"))
	r.ContentType = "application/json"
	var buf bytes.Buffer
	require.NoError(t, r.WriteTo(&buf))
	assert.Contains(t, buf.String(), "Content-Type: application/json\r\n")
}

func TestWriteToOmitsContentTypeWhenUnset(t *testing.T) {
	r := New(200, false, nil)
	var buf bytes.Buffer
	require.NoError(t, r.WriteTo(&buf))
	assert.NotContains(t, buf.String(), "Content-Type")
}

func TestForParseErrorEchoesParsedVersion(t *testing.T) {
	view := &httpparse.RequestView{Version: []byte("HTTP/1.0")}
	perr := &httpparse.ParseError{Kind: httpparse.InvalidMethod}
	r := ForParseError(perr, view)
	assert.Equal(t, 405, r.Status)
	assert.True(t, r.HTTP10)
}

// partialWriter returns short writes to exercise the partial-write-safe
// send loop, the way the teacher's transferData helpers are tested.
type partialWriter struct {
	buf   bytes.Buffer
	chunk int
}

func (p *partialWriter) Write(b []byte) (int, error) {
	n := len(b)
	if n > p.chunk {
		n = p.chunk
	}
	return p.buf.Write(b[:n])
}

func TestWriteToToleratesPartialWrites(t *testing.T) {
	r := New(200, false, bytes.Repeat([]byte("x"), 100))
	pw := &partialWriter{chunk: 7}
	require.NoError(t, r.WriteTo(pw))
	assert.True(t, strings.HasSuffix(pw.buf.String(), strings.Repeat("x", 100)))
}

type deadWriter struct{}

func (deadWriter) Write(b []byte) (int, error) { return 0, nil }

func TestWriteToAbandonsSilentlyOnDeadConn(t *testing.T) {
	r := New(200, false, []byte("x"))
	assert.NoError(t, r.WriteTo(deadWriter{}))
}
