// Package worker implements the single-process event loop each pre-forked
// worker runs (spec.md §4.2): an epoll readiness loop accepting bursts of
// connections and, for each client socket, a single read / parse / dispatch
// / write / close cycle. Grounded on the raw-epoll shape in
// other_examples/d6f88aa8_anamulislamshamim-go_raw_epoll_http_server__main.go.go,
// generalized from net.Listener-at-read-readiness to the full accept/read/
// write cycle plus the httpparse/response/fileserver pipeline.
package worker

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"preforkd/internal/fileserver"
	"preforkd/internal/httpparse"
	"preforkd/internal/metrics"
	"preforkd/internal/response"
)

const maxEpollEvents = 128

// Worker runs the event loop for one pre-forked process.
type Worker struct {
	listenFD int
	epfd     int
	log      *logrus.Entry
	metrics  *metrics.Metrics
	files    *fileserver.Server
	bufSize  int

	running bool
}

// New constructs a Worker bound to an already-listening, non-blocking
// socket FD (dup'd from the master and inherited via cmd.ExtraFiles, or
// reconstructed from a systemd LISTEN_FDS slot).
func New(listenFD int, log *logrus.Entry, m *metrics.Metrics, files *fileserver.Server, bufSize int) *Worker {
	return &Worker{listenFD: listenFD, log: log, metrics: m, files: files, bufSize: bufSize}
}

// Run creates the epoll instance, registers the listener, and blocks
// servicing readiness events until Stop is called or epoll_wait fails
// unrecoverably.
func (w *Worker) Run() error {
	// The inherited listener arrives in blocking mode — TCPListener.File()
	// always duplicates to a blocking descriptor — so it must be flipped
	// back to non-blocking before epoll-driven accept() is meaningful, the
	// same setNonblock(fd) step the epoll example performs right after
	// creating its listening socket.
	if err := unix.SetNonblock(w.listenFD, true); err != nil {
		return err
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return err
	}
	w.epfd = epfd
	defer unix.Close(epfd)

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, w.listenFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(w.listenFD),
	}); err != nil {
		return err
	}

	w.running = true
	events := make([]unix.EpollEvent, maxEpollEvents)

	for w.running {
		n, err := unix.EpollWait(epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == w.listenFD {
				w.acceptBurst()
			} else {
				w.serviceClient(fd)
			}
		}
	}
	return nil
}

// Stop clears the running flag; the next epoll_wait return (or an
// already-pending one, once drained) exits Run's loop. Matches the local
// running-flag pattern spec.md §5 calls for instead of a shared atomic,
// since each worker is single-threaded and only its own signal handler
// touches this flag.
func (w *Worker) Stop() {
	w.running = false
}

// acceptBurst drains the accept queue until EAGAIN, the level-triggered
// idiom the epoll example uses, registering each new connection for
// read/hangup readiness.
func (w *Worker) acceptBurst() {
	for {
		connFD, _, err := unix.Accept4(w.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			w.log.WithError(err).Warn("accept failed")
			return
		}

		w.metrics.ConnectionsAccepted.Inc()

		if err := unix.EpollCtl(w.epfd, unix.EPOLL_CTL_ADD, connFD, &unix.EpollEvent{
			Events: unix.EPOLLIN | unix.EPOLLRDHUP,
			Fd:     int32(connFD),
		}); err != nil {
			w.log.WithError(err).Warn("epoll_ctl add failed")
			unix.Close(connFD)
		}
	}
}

// serviceClient performs the single-read-then-respond cycle for one ready
// client socket: read what's available, parse it as one HTTP request,
// dispatch to the static file server (or a parse-error response), write
// the reply, and close. A would-block read is a no-op that leaves fd
// registered in epoll for the next readiness event (spec.md §4.2); every
// other outcome closes fd, since no response ever keeps a connection
// alive (spec.md §4.4's unconditional Connection: close).
func (w *Worker) serviceClient(fd int) {
	buf := make([]byte, w.bufSize)
	nread, err := unix.Read(fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			// Nothing to read yet; the descriptor stays registered in
			// epoll and this call is simply a no-op (spec.md §4.2).
			return
		}
		unix.Close(fd)
		return
	}
	if nread == 0 {
		// Peer closed the connection: EPOLLRDHUP would normally also have
		// fired, but either way there is nothing left to parse.
		unix.Close(fd)
		return
	}
	defer unix.Close(fd)
	raw := buf[:nread]

	view, perr := httpparse.Parse(raw)
	if parseErr, ok := perr.(*httpparse.ParseError); ok && parseErr != nil {
		w.metrics.RecordParseError(parseErr.Kind)
		resp := response.ForParseError(parseErr, view)
		w.metrics.RecordResponse(resp.Status, 0)
		if err := resp.WriteTo(&fdConn{fd: fd}); err != nil {
			w.log.WithError(err).Debug("write failed")
		}
		return
	}

	// The success and file-error paths stream straight off the socket fd
	// via fileserver.ServeOverFD's sendfile(2) path rather than going
	// through response.Response.WriteTo, so a large static file is never
	// copied into this process's heap.
	status, sent, err := w.files.ServeOverFD(fd, view)
	w.metrics.RecordResponse(status, int(sent))
	if err != nil {
		w.log.WithError(err).Debug("serve failed")
	}
}

// fdConn adapts a raw, already-non-blocking socket FD to io.Writer via
// blocking-style unix.Write, used only for the final response send where
// the descriptor is about to be closed anyway.
type fdConn struct {
	fd int
}

func (c *fdConn) Write(b []byte) (int, error) {
	for {
		n, err := unix.Write(c.fd, b)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			continue
		}
		return n, err
	}
}
