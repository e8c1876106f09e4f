package worker

import (
	"os"
	"os/exec"
	"sync"
)

var errProcessDone = os.ErrProcessDone

// ProcManager tracks started worker processes and can kill them all on
// shutdown.
type ProcManager struct {
	mu    sync.Mutex
	procs []*exec.Cmd
}

func NewProcManager() *ProcManager { return &ProcManager{} }

func (pm *ProcManager) Add(cmd *exec.Cmd) {
	pm.mu.Lock()
	pm.procs = append(pm.procs, cmd)
	pm.mu.Unlock()
}

// Remove forgets cmd once it has exited.
func (pm *ProcManager) Remove(cmd *exec.Cmd) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for i, c := range pm.procs {
		if c == cmd {
			pm.procs = append(pm.procs[:i], pm.procs[i+1:]...)
			return
		}
	}
}

// Len returns the number of tracked processes.
func (pm *ProcManager) Len() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}

// KillAll attempts to kill all tracked processes. It proceeds best-effort.
func (pm *ProcManager) KillAll() {
	pm.mu.Lock()
	procs := append([]*exec.Cmd(nil), pm.procs...)
	pm.procs = nil
	pm.mu.Unlock()
	for _, c := range procs {
		if c != nil && c.Process != nil {
			_ = c.Process.Kill()
		}
	}
}
