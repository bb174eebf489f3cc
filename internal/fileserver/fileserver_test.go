package fileserver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"preforkd/internal/httpparse"
)

func newTestRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>hi</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "page.txt"), []byte("nested"), 0o644))
	return dir
}

func req(method, path, version string) *httpparse.RequestView {
	return &httpparse.RequestView{
		Method:  []byte(method),
		Path:    []byte(path),
		Version: []byte(version),
	}
}

func TestHandleServesIndexAtRoot(t *testing.T) {
	s, err := New(newTestRoot(t))
	require.NoError(t, err)

	r := s.Handle(req("GET", "/", "HTTP/1.1"))
	assert.Equal(t, 200, r.Status)
	assert.Equal(t, "text/html", r.ContentType)
	assert.Equal(t, "<h1>hi</h1>", string(r.Body))
}

func TestHandleServesNestedFile(t *testing.T) {
	s, err := New(newTestRoot(t))
	require.NoError(t, err)

	r := s.Handle(req("GET", "/sub/page.txt", "HTTP/1.1"))
	assert.Equal(t, 200, r.Status)
	assert.Equal(t, "text/plain", r.ContentType)
}

func TestHandleHeadOmitsBody(t *testing.T) {
	s, err := New(newTestRoot(t))
	require.NoError(t, err)

	r := s.Handle(req("HEAD", "/app.js", "HTTP/1.1"))
	assert.Equal(t, 200, r.Status)
	assert.Empty(t, r.Body)
	assert.Equal(t, "application/javascript", r.ContentType)
}

func TestHandleMissingFileIs404(t *testing.T) {
	s, err := New(newTestRoot(t))
	require.NoError(t, err)

	r := s.Handle(req("GET", "/nope.html", "HTTP/1.1"))
	assert.Equal(t, 404, r.Status)
}

func TestHandleDirectoryIs403(t *testing.T) {
	s, err := New(newTestRoot(t))
	require.NoError(t, err)

	r := s.Handle(req("GET", "/sub", "HTTP/1.1"))
	assert.Equal(t, 403, r.Status)
}

func TestHandleRejectsTraversal(t *testing.T) {
	s, err := New(newTestRoot(t))
	require.NoError(t, err)

	r := s.Handle(req("GET", "/../../../etc/passwd", "HTTP/1.1"))
	assert.Equal(t, 403, r.Status)
}

func TestHandleRejectsUnsupportedMethod(t *testing.T) {
	s, err := New(newTestRoot(t))
	require.NoError(t, err)

	r := s.Handle(req("DELETE", "/app.js", "HTTP/1.1"))
	assert.Equal(t, 405, r.Status)
}

func TestMIMETypeDefaultsToOctetStream(t *testing.T) {
	assert.Equal(t, "application/octet-stream", MIMEType("/a/b/noext"))
}

func TestServeOverFDStreamsFileViaSendfile(t *testing.T) {
	s, err := New(newTestRoot(t))
	require.NoError(t, err)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	serverFD, clientFD := fds[0], fds[1]
	defer unix.Close(serverFD)
	defer unix.Close(clientFD)

	status, sent, err := s.ServeOverFD(serverFD, req("GET", "/app.js", "HTTP/1.1"))
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, int64(len("console.log(1)")), sent)

	buf := make([]byte, 4096)
	n, err := unix.Read(clientFD, buf)
	require.NoError(t, err)
	out := string(buf[:n])
	assert.Contains(t, out, "HTTP/1.1 200 OK")
	assert.Contains(t, out, "Content-Type: application/javascript")
	assert.Contains(t, out, "console.log(1)")
}

func TestServeOverFDMissingFileWritesErrorHeader(t *testing.T) {
	s, err := New(newTestRoot(t))
	require.NoError(t, err)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	serverFD, clientFD := fds[0], fds[1]
	defer unix.Close(serverFD)
	defer unix.Close(clientFD)

	status, sent, err := s.ServeOverFD(serverFD, req("GET", "/nope.html", "HTTP/1.1"))
	require.NoError(t, err)
	assert.Equal(t, 404, status)
	assert.Equal(t, int64(0), sent)

	buf := make([]byte, 4096)
	n, err := unix.Read(clientFD, buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "HTTP/1.1 404 Not Found")
}
