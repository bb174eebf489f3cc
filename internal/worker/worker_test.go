package worker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"preforkd/internal/fileserver"
	"preforkd/internal/metrics"
)

// newServiceFixture builds a Worker wired to a throwaway static root, with
// no listening socket (acceptBurst and the epoll loop are not covered by
// these hermetic unit tests) — serviceClient itself only needs a ready
// client FD, which a socketpair provides.
func newServiceFixture(t *testing.T) *Worker {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hi"), 0o644))

	files, err := fileserver.New(dir)
	require.NoError(t, err)

	log := logrus.New().WithField("role", "test")
	return New(-1, log, metrics.New(), files, 64*1024)
}

func TestServiceClientServesValidRequest(t *testing.T) {
	w := newServiceFixture(t)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	serverFD, clientFD := fds[0], fds[1]
	defer unix.Close(clientFD)

	req := "GET / HTTP/1.1\r\nHost: x\r\n\r\n"
	_, err = unix.Write(serverFD, []byte(req))
	require.NoError(t, err)

	w.serviceClient(serverFD) // closes serverFD when done

	buf := make([]byte, 4096)
	n, err := unix.Read(clientFD, buf)
	require.NoError(t, err)
	out := string(buf[:n])
	assert.Contains(t, out, "HTTP/1.1 200 OK")
	assert.Contains(t, out, "hi")
}

func TestServiceClientRejectsMalformedRequest(t *testing.T) {
	w := newServiceFixture(t)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	serverFD, clientFD := fds[0], fds[1]
	defer unix.Close(clientFD)

	_, err = unix.Write(serverFD, []byte("not a request"))
	require.NoError(t, err)

	w.serviceClient(serverFD)

	buf := make([]byte, 4096)
	n, err := unix.Read(clientFD, buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "HTTP/1.1 400")
}

func TestStopClearsRunningFlag(t *testing.T) {
	w := newServiceFixture(t)
	w.running = true
	w.Stop()
	assert.False(t, w.running)
}
