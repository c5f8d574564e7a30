// Package group implements ProcessGroup: a container of sibling
// ProcessFSMs sharing a configuration namespace, fanning lifecycle calls
// out in priority order.
package group

import (
	"sort"

	"github.com/gosv/gosv/internal/config"
	"github.com/gosv/gosv/internal/fsm"
	"github.com/gosv/gosv/internal/kernel"
	"github.com/gosv/gosv/internal/logger"
)

// ProcessGroup aggregates the FSMs for one ProcessGroupConfig.
type ProcessGroup struct {
	Name     string
	Priority int
	Procs    []*fsm.ProcessFSM
}

// New builds a ProcessGroup's FSMs in config order (start order within a
// group follows declaration order; the priority field orders groups
// relative to each other, applied by the caller).
func New(cfg config.ProcessGroupConfig, log *logger.Logger, clock kernel.Clock, spawner fsm.Spawner) (*ProcessGroup, error) {
	g := &ProcessGroup{Name: cfg.Name, Priority: cfg.Priority}
	for _, pc := range cfg.Programs {
		f, err := fsm.New(pc, cfg.Name, log, clock, spawner)
		if err != nil {
			return nil, err
		}
		g.Procs = append(g.Procs, f)
	}
	return g, nil
}

// StartNecessary spawns every FSM whose policy calls for it: autostart on
// first sight, or a pending respawn a previous Finish() scheduled by
// leaving the FSM in STOPPED.
func (g *ProcessGroup) StartNecessary() {
	for _, p := range g.Procs {
		if p.ShouldAutostart() {
			_ = p.Spawn()
		}
	}
}

// StopAll issues one Stop() per FSM, in reverse declaration order (spec
// §4.4: "fan out ... in reverse-priority for stop").
func (g *ProcessGroup) StopAll() {
	for i := len(g.Procs) - 1; i >= 0; i-- {
		g.Procs[i].Stop()
	}
}

// GetDelayProcesses returns FSMs still in STOPPING, used by the shutdown
// predicate to decide whether the loop may exit.
func (g *ProcessGroup) GetDelayProcesses() []*fsm.ProcessFSM {
	var out []*fsm.ProcessFSM
	for _, p := range g.Procs {
		if p.State == fsm.Stopping {
			out = append(out, p)
		}
	}
	return out
}

// Transition drives every FSM's Transition() once.
func (g *ProcessGroup) Transition() {
	for _, p := range g.Procs {
		p.Transition()
	}
}

// Select returns the union of read FDs this group's captures expose, plus
// a map from fd to the callback the loop should invoke when that fd is
// readable. Write/exception sets are always empty: captures are read-only
// pipes and we don't currently track backpressure on them.
func (g *ProcessGroup) Select() (callbacks map[int]func(), r []int) {
	callbacks = make(map[int]func())
	for _, p := range g.Procs {
		p := p
		if p.StdoutCapture != nil && p.StdoutCapture.Readable() {
			fd := p.StdoutCapture.FD()
			r = append(r, fd)
			callbacks[fd] = func() { drainAndMaybeClose(p.StdoutCapture) }
		}
		if p.StderrCapture != nil && p.StderrCapture.Readable() {
			fd := p.StderrCapture.FD()
			r = append(r, fd)
			callbacks[fd] = func() { drainAndMaybeClose(p.StderrCapture) }
		}
	}
	return callbacks, r
}

func drainAndMaybeClose(c interface {
	Drain() (bool, error)
	Close() error
}) {
	ok, err := c.Drain()
	_ = err // isolated per spec §7: a capture's I/O error never affects siblings
	if !ok {
		c.Close()
	}
}

// ReopenLogs reopens every FSM's log sinks (SIGUSR2).
func (g *ProcessGroup) ReopenLogs() {
	for _, p := range g.Procs {
		_ = p.ReopenLogs()
	}
}

// RemoveLogs deletes every FSM's log files. Neither Reload nor shutdown
// calls it: log files stay in place across reloads and after exit.
func (g *ProcessGroup) RemoveLogs() {
	for _, p := range g.Procs {
		p.RemoveLogs()
	}
}

// Close permanently releases every FSM's log sinks. Call this only once a
// group will never be ticked again (the supervisor is shutting down for
// good, not reloading) — a reload instead closes just the removed FSMs,
// since adopted ones carry on into the next generation.
func (g *ProcessGroup) Close() {
	for _, p := range g.Procs {
		p.Close()
	}
}

// ByPriority sorts groups ascending by Priority, the start order across
// groups; reverse it for stop order.
func ByPriority(groups []*ProcessGroup) []*ProcessGroup {
	sorted := make([]*ProcessGroup, len(groups))
	copy(sorted, groups)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return sorted
}
