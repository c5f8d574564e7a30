// Package introspect renders an operator-facing dump of the supervisor's
// live state, replacing the teacher's hand-rolled fmt.Sprintf dumping of
// /proc/[pid]/{status,fd,maps} with a structured spew.Dump of the
// in-memory model the kernel already maintains — there is no need to
// re-derive process state from /proc when the FSMs already know it.
package introspect

import (
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"

	"github.com/gosv/gosv/internal/fsm"
	"github.com/gosv/gosv/internal/group"
)

// ProcessSnapshot is one FSM's state, flattened for dumping and for
// eventual JSON encoding over the control protocol.
type ProcessSnapshot struct {
	Group        string
	Name         string
	State        string
	PID          int
	BackoffCount int
	SpawnErr     string
	ExitStatus   *int
	StdoutTail   string
	StderrTail   string
}

// dumpConfig mirrors spew's default config but disables pointer addresses,
// which are noise for an operator staring at a terminal and which would
// make two dumps of an identical logical state diff differently run to
// run.
var dumpConfig = &spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// Snapshot walks every group and flattens each FSM into a ProcessSnapshot,
// including up to tailBytes of retained stdout/stderr if the FSM's
// captures still hold one.
func Snapshot(groups []*group.ProcessGroup, tailBytes int) []ProcessSnapshot {
	var out []ProcessSnapshot
	for _, g := range groups {
		for _, p := range g.Procs {
			out = append(out, snapshotOne(g.Name, p, tailBytes))
		}
	}
	return out
}

func snapshotOne(groupName string, p *fsm.ProcessFSM, tailBytes int) ProcessSnapshot {
	s := ProcessSnapshot{
		Group:        groupName,
		Name:         p.Config.Name,
		State:        p.State.String(),
		PID:          p.PID,
		BackoffCount: p.BackoffCount,
		SpawnErr:     p.SpawnErr,
		ExitStatus:   p.ExitStatus,
	}
	if p.StdoutCapture != nil {
		s.StdoutTail = string(p.StdoutCapture.Tail(tailBytes))
	}
	if p.StderrCapture != nil {
		s.StderrTail = string(p.StderrCapture.Tail(tailBytes))
	}
	return s
}

// Dump renders every group's FSMs as a human-readable spew tree, the
// operator command an SSH session or gosvctl dump subcommand prints
// directly.
func Dump(groups []*group.ProcessGroup, tailBytes int) string {
	snaps := Snapshot(groups, tailBytes)
	var b strings.Builder
	for _, s := range snaps {
		fmt.Fprintf(&b, "%s:%s\n", s.Group, s.Name)
		b.WriteString(dumpConfig.Sdump(s))
	}
	return b.String()
}
