// SPDX-License-Identifier: MIT

package ffmpeg

import (
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ManuGH/vodhls/internal/log"
)

// Registry tracks live encoder/probe subprocesses so the shutdown hook can
// terminate them. Nothing may outlive the daemon.
type Registry struct {
	mu     sync.Mutex
	nextID uint64
	procs  map[uint64]*exec.Cmd
}

// NewRegistry creates an empty process registry.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[uint64]*exec.Cmd)}
}

// Register records a started command and returns its handle.
func (r *Registry) Register(cmd *exec.Cmd) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.procs[id] = cmd
	return id
}

// Unregister removes a finished command.
func (r *Registry) Unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, id)
}

// Len returns the number of live subprocesses.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// Shutdown terminates all live subprocesses: SIGTERM first, SIGKILL for
// anything still tracked after the grace period. Best effort; Wait is owned
// by the goroutine that started each command.
func (r *Registry) Shutdown(grace time.Duration) {
	r.mu.Lock()
	cmds := make([]*exec.Cmd, 0, len(r.procs))
	for _, cmd := range r.procs {
		cmds = append(cmds, cmd)
	}
	r.mu.Unlock()

	if len(cmds) == 0 {
		return
	}

	logger := log.WithComponent("subprocess-registry")
	logger.Info().Int("count", len(cmds)).Msg("terminating subprocesses")

	for _, cmd := range cmds {
		if cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
	}

	deadline := time.After(grace)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			for _, cmd := range cmds {
				if cmd.Process != nil && (cmd.ProcessState == nil || !cmd.ProcessState.Exited()) {
					logger.Warn().Int("pid", cmd.Process.Pid).Msg("killing subprocess after grace")
					_ = cmd.Process.Kill()
				}
			}
			return
		case <-ticker.C:
			if r.Len() == 0 {
				return
			}
		}
	}
}
