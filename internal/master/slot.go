package master

import "os/exec"

// workerSlot tracks one position in the worker pool. Slots are stable:
// when a worker dies, its replacement is respawned into the same slot
// index, which is what SpawnWorkers hands each child via
// PREFORKD_SLOT so a worker's own identity survives a respawn.
type workerSlot struct {
	index int
	cmd   *exec.Cmd
}
