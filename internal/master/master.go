// Package master implements the supervisor half of the pre-forked server
// (spec.md §4.1): acquiring the listening socket (directly, via systemd
// socket activation, or through a tableflip-managed fd for zero-downtime
// self-upgrade), spawning and reaping worker processes, and coordinating
// shutdown.
//
// Go has no safe raw fork(); original_source/server.c's fork()-per-worker
// loop is replaced here by the idiomatic Go substitute demonstrated twice
// in the teacher repo — self-exec via os/exec with the listening socket
// passed through cmd.ExtraFiles
// (graceful_restarts/SocketHandoff/main.go's attemptGracefulRestart) — and
// the master's own zero-downtime binary upgrade is layered on top via
// cloudflare/tableflip (graceful_restarts/tbflip/main.go), a concern
// entirely separate from per-worker crash respawn.
package master

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cloudflare/tableflip"
	"github.com/coreos/go-systemd/v22/activation"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"preforkd/internal/config"
	"preforkd/internal/metrics"
)

// Environment variables a spawned worker process reads on startup to learn
// its role and inherited file descriptor, the generalized equivalent of
// SocketHandoff/main.go's GRACEFUL_RESTART/GRACEFUL_FD pair.
const (
	EnvWorkerRole = "PREFORKD_WORKER"
	EnvWorkerSlot = "PREFORKD_SLOT"
	EnvListenerFD = "PREFORKD_LISTENER_FD"

	// workerListenerFD is the FD number a worker's inherited listener
	// always lands on: fd 0,1,2 are stdin/stdout/stderr, so the first
	// (and only) ExtraFile is fd 3.
	workerListenerFD = 3
)

// Master owns the listening socket and the worker process pool.
type Master struct {
	cfg     *config.Config
	log     *logrus.Entry
	metrics *metrics.Metrics

	upg      *tableflip.Upgrader
	listener net.Listener

	mu      sync.Mutex
	slots   []*workerSlot
	running bool
}

// New constructs a Master from a loaded configuration. m may be nil in
// tests that don't care about the live-worker gauge.
func New(cfg *config.Config, log *logrus.Entry, m *metrics.Metrics) *Master {
	return &Master{cfg: cfg, log: log, metrics: m}
}

// setLiveWorkers updates the live-worker gauge, tolerating a nil metrics
// set (unit tests construct a Master without one).
func (m *Master) setLiveWorkers(n int) {
	if m.metrics != nil {
		m.metrics.LiveWorkers.Set(float64(n))
	}
}

// liveWorkerCountLocked counts slots with a still-running process. Caller
// must hold m.mu.
func (m *Master) liveWorkerCountLocked() int {
	n := 0
	for _, slot := range m.slots {
		if slot != nil && slot.cmd.Process != nil {
			n++
		}
	}
	return n
}

// AcquireListener binds (or inherits) the listening socket. Two paths:
// systemd socket activation when Listen.SystemdActivated is set,
// otherwise a tableflip-managed listener so the master itself can be
// zero-downtime upgraded later, matching tbflip/main.go's
// "Listen must be called before Ready" contract.
func (m *Master) AcquireListener() error {
	if m.cfg.Listen.SystemdActivated {
		listeners, err := activation.Listeners()
		if err != nil {
			return fmt.Errorf("master: systemd activation: %w", err)
		}
		if len(listeners) == 0 {
			return errors.New("master: systemd activation enabled but no listeners passed")
		}
		m.listener = listeners[0]
		m.log.WithField("addr", m.listener.Addr()).Info("acquired systemd-activated listener")
		return nil
	}

	upg, err := tableflip.New(tableflip.Options{})
	if err != nil {
		return fmt.Errorf("master: tableflip.New: %w", err)
	}
	m.upg = upg

	ln, err := upg.Listen("tcp", m.cfg.Listen.Address)
	if err != nil {
		return fmt.Errorf("master: tableflip listen: %w", err)
	}
	if err := applyListenerOptions(ln, m.cfg.Listen.Backlog); err != nil {
		ln.Close()
		return fmt.Errorf("master: applying listener options: %w", err)
	}
	m.listener = ln
	m.log.WithField("addr", ln.Addr()).Info("listening")
	return nil
}

// applyListenerOptions sets SO_REUSEADDR and the configured backlog
// directly on ln's underlying socket, the same SetReuseAddr/Listen(fd,
// backlog) pair other_examples/d6f88aa8_anamulislamshamim-go_raw_epoll_http_server__main.go.go
// applies right after creating its listening socket. Linux allows calling
// listen(2) again on an already-bound socket purely to change its backlog,
// so this works without recreating the fd tableflip is tracking for
// handoff. Only *net.TCPListener carries a raw fd worth tuning; a
// systemd-activated listener is left exactly as systemd configured it.
func applyListenerOptions(ln net.Listener, backlog int) error {
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		return nil
	}

	raw, err := tl.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr, listenErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr == nil {
			listenErr = unix.Listen(int(fd), backlog)
		}
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	if sockErr != nil {
		return sockErr
	}
	return listenErr
}

// listenerFile returns a dup'd *os.File for the listener, suitable for
// cmd.ExtraFiles, the same TCPListener.File()-based handoff
// attemptGracefulRestart uses.
func (m *Master) listenerFile() (*os.File, error) {
	tl, ok := m.listener.(*net.TCPListener)
	if !ok {
		return nil, fmt.Errorf("master: listener is not *net.TCPListener, cannot dup for worker handoff")
	}
	return tl.File()
}

// SpawnWorkers starts count worker processes, one per slot, each inheriting
// a dup'd copy of the listening socket.
func (m *Master) SpawnWorkers(count int) error {
	if count > config.MaxWorkers {
		return fmt.Errorf("master: worker count %d exceeds the hard ceiling of %d", count, config.MaxWorkers)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.slots = make([]*workerSlot, count)
	for i := 0; i < count; i++ {
		if err := m.spawnSlotLocked(i); err != nil {
			return err
		}
	}
	m.running = true
	m.setLiveWorkers(m.liveWorkerCountLocked())
	return nil
}

// spawnSlotLocked starts (or restarts) the worker occupying slot idx.
// Caller must hold m.mu.
func (m *Master) spawnSlotLocked(idx int) error {
	lf, err := m.listenerFile()
	if err != nil {
		return err
	}
	defer lf.Close() // child has its own dup; our copy isn't needed after Start

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	cmd.ExtraFiles = []*os.File{lf}
	cmd.Env = append(os.Environ(),
		EnvWorkerRole+"=1",
		EnvWorkerSlot+"="+strconv.Itoa(idx),
		EnvListenerFD+"="+strconv.Itoa(workerListenerFD),
	)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("master: spawn worker slot %d: %w", idx, err)
	}

	m.slots[idx] = &workerSlot{index: idx, cmd: cmd}
	m.log.WithFields(logrus.Fields{"slot": idx, "pid": cmd.Process.Pid}).Info("spawned worker")
	return nil
}

// MasterLoop blocks reaping dead workers and responding to signals until
// SIGTERM/SIGINT arrives on sig or tableflip signals exit; it then calls
// Shutdown itself and returns. It never busy-waits: each iteration polls all
// worker pids with WNOHANG, and sleeps ReapPollMs between passes, the
// bounded-poll convention spec.md §4.1 specifies in place of SIGCHLD-driven
// reaping (Go cannot safely handle SIGCHLD inside the runtime's own
// process-management signal handling).
func (m *Master) MasterLoop(sig <-chan os.Signal) {
	if m.upg != nil {
		if err := m.upg.Ready(); err != nil {
			m.log.WithError(err).Error("tableflip Ready failed")
		}
	}

	pollInterval := time.Duration(m.cfg.Workers.ReapPollMs) * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var upgExit <-chan struct{}
	if m.upg != nil {
		upgExit = m.upg.Exit()
	}

	for {
		select {
		case s := <-sig:
			switch s {
			case syscall.SIGHUP:
				m.log.Info("SIGHUP received, requesting self-upgrade")
				if m.upg != nil {
					if err := m.upg.Upgrade(); err != nil {
						m.log.WithError(err).Error("upgrade failed")
					}
				} else {
					m.log.Warn("self-upgrade requested but no tableflip upgrader is active (systemd-activated listener)")
				}
			case syscall.SIGTERM, syscall.SIGINT:
				m.log.Info("shutdown signal received")
				m.Shutdown()
				return
			case syscall.SIGCHLD:
				// Reaping happens on the poll tick below; SIGCHLD itself
				// carries no data we need, so it's simply a wakeup nudge.
			}
		case <-ticker.C:
			m.reapAndRespawn()
		case <-upgExit:
			m.log.Info("tableflip signaled exit, draining")
			m.Shutdown()
			return
		}
	}
}

// reapAndRespawn polls every tracked worker pid with a non-blocking
// waitpid and respawns any that have exited, preserving slot index. A slot
// whose respawn fails is left empty and respawned on a later call.
func (m *Master) reapAndRespawn() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	for i, slot := range m.slots {
		if slot == nil {
			// An earlier respawn into this slot failed; retry it now.
			if err := m.spawnSlotLocked(i); err != nil {
				m.log.WithError(err).Error("respawn failed")
			}
			continue
		}
		if slot.cmd.Process == nil {
			continue
		}
		var status syscall.WaitStatus
		pid, err := syscall.Wait4(slot.cmd.Process.Pid, &status, syscall.WNOHANG, nil)
		if err != nil || pid == 0 {
			continue // still running, or reap raced with another waiter
		}

		m.log.WithFields(logrus.Fields{"slot": i, "pid": pid}).Warn("worker exited, respawning")
		if err := m.spawnSlotLocked(i); err != nil {
			m.log.WithError(err).Error("respawn failed")
			m.slots[i] = nil // left empty, retried on the next tick
		}
	}
	m.setLiveWorkers(m.liveWorkerCountLocked())
}

// Shutdown stops accepting new work and tears the pool down: it clears the
// running flag, signals every worker, waits (retrying on EINTR) for each
// to exit, and closes the listener.
func (m *Master) Shutdown() {
	m.mu.Lock()
	m.running = false
	slots := m.slots
	m.mu.Unlock()

	for _, slot := range slots {
		if slot == nil || slot.cmd.Process == nil {
			continue
		}
		_ = slot.cmd.Process.Signal(syscall.SIGTERM)
	}

	for _, slot := range slots {
		if slot == nil || slot.cmd.Process == nil {
			continue
		}
		for {
			_, err := slot.cmd.Process.Wait()
			if err == nil || !errors.Is(err, syscall.EINTR) {
				break
			}
		}
	}

	if m.listener != nil {
		_ = m.listener.Close()
	}
	if m.upg != nil {
		m.upg.Stop()
	}
	m.setLiveWorkers(0)
}
