// Package logging configures structured logging for both the master and
// worker processes. It replaces the teacher's colorCode/logf/logPhase
// ANSI-prefix helpers (graceful_restarts/SocketHandoff/main.go,
// graceful_restarts/tbflip/main.go, graceful_restarts/systemd-socket-activation/main.go)
// with logrus fields carrying the same role/pid information those helpers
// printed inline.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logger tagged with role ("master" or "worker") and the
// current process's PID, the same two facts every teacher log line led
// with via its "[%d]" prefix and process-local colorCode.
func New(role string) *logrus.Entry {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return log.WithFields(logrus.Fields{
		"role": role,
		"pid":  os.Getpid(),
	})
}

// WithSlot attaches a worker slot index, the per-slot identity the
// supervisor uses to respawn a crashed worker into the same position.
func WithSlot(base *logrus.Entry, slot int) *logrus.Entry {
	return base.WithField("slot", slot)
}

// Phase logs a banner-style milestone, the structured analogue of the
// teacher's logPhase separator lines.
func Phase(log *logrus.Entry, msg string) {
	log.WithField("phase", true).Info(msg)
}
