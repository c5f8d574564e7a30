// Package loop implements the single-threaded cooperative event loop that
// owns every mutation of FSM, group, and pidhistory state (§4.5). Nothing
// outside this package's Run call ever touches that state concurrently.
package loop

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/gosv/gosv/internal/control"
	"github.com/gosv/gosv/internal/fsm"
	"github.com/gosv/gosv/internal/group"
	"github.com/gosv/gosv/internal/kernel"
	"github.com/gosv/gosv/internal/logger"
	"github.com/gosv/gosv/internal/metrics"
	"github.com/gosv/gosv/internal/reaper"
	"github.com/gosv/gosv/internal/signals"
)

// selectTimeout bounds how long one tick may block in Select, so the loop
// notices a just-raised signal or a just-enqueued control request within a
// bounded window even when no fd is ready.
const selectTimeout = time.Second

// pollLogInterval is how often the shutdown-wait phase logs that it's
// still waiting on lingering children, matching the original's periodic
// "waiting for X to die" chatter rather than going silent for minutes.
const pollLogInterval = 3 * time.Second

// ErrRestartRequested is returned from Run when a SIGHUP asked for
// reconfiguration. Unlike a shutdown, the loop returns immediately without
// stopping anything: deciding which children survive a reload is
// internal/supervisor.Reload's job, driven by config identity, not the
// loop's.
var ErrRestartRequested = errors.New("loop: restart requested")

// Loop ties the process groups, the pidhistory, the signal sink and the
// optional control server into one tick.
type Loop struct {
	Groups  []*group.ProcessGroup
	History *reaper.PidHistory
	Signals *signals.Sink
	Control *control.Server
	Log     *logger.Logger
	Clock   kernel.Clock

	// Metrics is optional; when set, the reap pass each tick feeds it
	// reap counts. State/backoff gauges are refreshed on scrape by the
	// (out-of-scope) HTTP server calling Collector.Refresh directly, not
	// from here, since that's a read not a loop-owned mutation.
	Metrics *metrics.Collector

	shuttingDown     bool
	shutdownNotify   time.Time
	stopped          bool
	restartRequested bool
}

// Run drives ticks until a stop signal is received and every group has
// finished shutting down, or the control server raises ErrExitNow.
func (l *Loop) Run() error {
	groups := group.ByPriority(l.Groups)
	for {
		l.startNecessary(groups)

		callbacks, readFDs := l.selectSet(groups)
		ready, err := l.block(readFDs)
		if err != nil {
			return err
		}
		l.dispatch(ready, callbacks)

		for _, g := range groups {
			g.Transition()
		}

		l.reap(groups)

		if err := l.handleSignals(groups); err != nil {
			return err
		}
		if l.restartRequested {
			return ErrRestartRequested
		}

		if l.shuttingDown && l.allStopped(groups) {
			return nil
		}
	}
}

func (l *Loop) startNecessary(groups []*group.ProcessGroup) {
	if l.shuttingDown {
		return
	}
	for _, g := range groups {
		g.StartNecessary()
		l.trackPIDs(g)
	}
}

func (l *Loop) trackPIDs(g *group.ProcessGroup) {
	for _, p := range g.Procs {
		if p.PID != 0 {
			l.History.Track(p.PID, p)
		}
	}
}

// dispatcherEntry pairs a raw fd with the callback (process capture drain,
// or control dispatcher) the loop invokes once that fd is ready.
type dispatcherEntry struct {
	fd       int
	readCB   func()
	writeCB  func()
	errCB    func(error)
	wantRead bool
	wantWrite bool
}

func (l *Loop) selectSet(groups []*group.ProcessGroup) (map[int]dispatcherEntry, []int) {
	entries := make(map[int]dispatcherEntry)
	var fds []int

	for _, g := range groups {
		callbacks, r := g.Select()
		for _, fd := range r {
			cb := callbacks[fd]
			entries[fd] = dispatcherEntry{fd: fd, readCB: cb, wantRead: true}
			fds = append(fds, fd)
		}
	}

	if l.Control != nil {
		for fd, d := range l.Control.Dispatchers() {
			d := d
			e := dispatcherEntry{fd: fd, errCB: d.HandleError}
			if d.Readable() {
				e.wantRead = true
				e.readCB = func() {
					if err := d.HandleReadEvent(); err != nil && err != control.ErrExitNow {
						d.HandleError(err)
					} else if err == control.ErrExitNow {
						l.stopped = true
					}
				}
			}
			if d.Writable() {
				e.wantWrite = true
				e.writeCB = func() {
					if err := d.HandleWriteEvent(); err != nil && err != control.ErrExitNow {
						d.HandleError(err)
					} else if err == control.ErrExitNow {
						l.stopped = true
					}
				}
			}
			entries[fd] = e
			fds = append(fds, fd)
		}
	}

	return entries, fds
}

// readySet is what block() reports: which of the requested fds are
// actually readable/writable this tick.
type readySet struct {
	readable map[int]bool
	writable map[int]bool
}

func (l *Loop) block(fds []int) (readySet, error) {
	var rset, wset unix.FdSet
	maxFD := 0
	for _, fd := range fds {
		fdSet(&rset, fd)
		fdSet(&wset, fd)
		if fd > maxFD {
			maxFD = fd
		}
	}

	tv := unix.NsecToTimeval(selectTimeout.Nanoseconds())
	n, err := unix.Select(maxFD+1, &rset, &wset, nil, &tv)
	if err == unix.EINTR {
		l.Log.Trace("select interrupted by signal, retrying")
		return readySet{}, nil
	}
	if err != nil {
		return readySet{}, err
	}

	rs := readySet{readable: make(map[int]bool), writable: make(map[int]bool)}
	if n > 0 {
		for _, fd := range fds {
			if fdIsSet(&rset, fd) {
				rs.readable[fd] = true
			}
			if fdIsSet(&wset, fd) {
				rs.writable[fd] = true
			}
		}
	}
	return rs, nil
}

func (l *Loop) dispatch(ready readySet, entries map[int]dispatcherEntry) {
	for fd, e := range entries {
		if ready.readable[fd] && e.readCB != nil {
			e.readCB()
		}
		if ready.writable[fd] && e.writeCB != nil {
			e.writeCB()
		}
	}
}

func (l *Loop) reap(groups []*group.ProcessGroup) {
	known, unknown := reaper.ReapAll(l.History)
	if l.Metrics != nil {
		l.Metrics.RecordReap(len(known), len(unknown))
	}
	for _, e := range known {
		if p, ok := l.History.Lookup(e.PID); ok {
			p.Finish(e.Status)
			continue
		}
		// Already untracked by ReapAll; find the owning FSM the slow way
		// so its state still reflects the exit even though the pidhistory
		// entry is gone by the time we get here.
		for _, g := range groups {
			for _, p := range g.Procs {
				if p.PID == e.PID {
					p.Finish(e.Status)
				}
			}
		}
	}
	for _, pid := range unknown {
		l.Log.Critical("reaped unknown pid %(pid)s (no owning process)", "pid", pid)
	}
}

func (l *Loop) handleSignals(groups []*group.ProcessGroup) error {
	for _, c := range l.Signals.Drain() {
		switch c {
		case signals.ClassStop:
			l.beginShutdown(groups)
		case signals.ClassRestart:
			l.Log.Info("received reload signal")
			l.restartRequested = true
		case signals.ClassReopenLogs:
			l.Log.Info("received reopen-logs signal")
			for _, err := range l.Log.Reopen() {
				l.Log.Warn("reopen log sink: %(err)s", "err", err)
			}
			for _, g := range groups {
				g.ReopenLogs()
			}
		case signals.ClassChildReap:
			// No-op: reap() above already runs unconditionally each tick.
		case signals.ClassOther:
			l.Log.Debug("received unhandled signal class")
		}
	}
	if l.stopped {
		l.beginShutdown(groups)
	}
	return nil
}

func (l *Loop) beginShutdown(groups []*group.ProcessGroup) {
	if l.shuttingDown {
		return
	}
	l.shuttingDown = true
	l.shutdownNotify = l.Clock.Now()
	l.Log.Info("shutting down")
	for i := len(groups) - 1; i >= 0; i-- {
		groups[i].StopAll()
	}
}

func (l *Loop) allStopped(groups []*group.ProcessGroup) bool {
	var waiting []*fsm.ProcessFSM
	for _, g := range groups {
		waiting = append(waiting, g.GetDelayProcesses()...)
	}
	if len(waiting) == 0 {
		return true
	}
	if l.Clock.Now().Sub(l.shutdownNotify) >= pollLogInterval {
		l.shutdownNotify = l.Clock.Now()
		l.Log.Info("still waiting for %(n)s process(es) to stop", "n", len(waiting))
	}
	return false
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= int64(1) << uint(fd%64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(int64(1)<<uint(fd%64)) != 0
}
