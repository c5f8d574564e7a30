// Package reaper implements the non-blocking wait loop (§4.7) and the
// pidhistory map the data model requires: pid ∈ pidhistory ⇔ some FSM has
// that pid and is not yet reaped.
package reaper

import (
	"golang.org/x/sys/unix"

	"github.com/gosv/gosv/internal/fsm"
)

// PidHistory tracks live pid -> owning FSM.
type PidHistory struct {
	byPID map[int]*fsm.ProcessFSM
}

func NewPidHistory() *PidHistory {
	return &PidHistory{byPID: make(map[int]*fsm.ProcessFSM)}
}

func (h *PidHistory) Track(pid int, p *fsm.ProcessFSM) { h.byPID[pid] = p }
func (h *PidHistory) Untrack(pid int)                  { delete(h.byPID, pid) }
func (h *PidHistory) Lookup(pid int) (*fsm.ProcessFSM, bool) {
	p, ok := h.byPID[pid]
	return p, ok
}
func (h *PidHistory) Len() int { return len(h.byPID) }

// Exited is one reaped child.
type Exited struct {
	PID    int
	Status unix.WaitStatus
}

// ReapAll performs non-blocking waits until none remain, returning every
// exited child observed this call. Unknown pids (not in history — e.g. an
// orphaned grandchild) are reported separately so the caller can log them
// at CRITICAL without crashing the sweep.
func ReapAll(history *PidHistory) (known []Exited, unknownPIDs []int) {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return known, unknownPIDs
		}
		if _, ok := history.Lookup(pid); ok {
			known = append(known, Exited{PID: pid, Status: ws})
			history.Untrack(pid)
		} else {
			unknownPIDs = append(unknownPIDs, pid)
		}
	}
}
