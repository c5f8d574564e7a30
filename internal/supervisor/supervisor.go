// Package supervisor is the top-level orchestrator: it holds the process
// groups, owns the mood, and sequences construction, control-server
// start-up, daemonising, the pid file, running the loop, and cleanup
// (§4.8). Everything it needs from the environment comes through the
// Options interface, so it can be driven by fakes in tests.
package supervisor

import (
	"fmt"

	"github.com/gosv/gosv/internal/control"
	"github.com/gosv/gosv/internal/group"
	"github.com/gosv/gosv/internal/introspect"
	"github.com/gosv/gosv/internal/loop"
	"github.com/gosv/gosv/internal/logger"
	"github.com/gosv/gosv/internal/metrics"
	"github.com/gosv/gosv/internal/reaper"
	"github.com/gosv/gosv/internal/signals"
)

// tailBytes is how much retained stdout/stderr the "dump" control method
// returns per process; operator tooling that wants more reads the log
// file directly.
const tailBytes = 4096

// Supervisor is one generation of the running system: the set of groups
// built from one snapshot of configuration, plus everything it opened to
// run them.
type Supervisor struct {
	opts   Options
	groups []*group.ProcessGroup
	log    *logger.Logger
	mood   Mood

	sink    *signals.Sink
	control *control.Server
	pid     *pidFile
	metrics *metrics.Collector
}

// New builds a Supervisor's groups from opts, which opens each program's
// configured stdout/stderr log files, but does not yet spawn anything,
// open the control socket, or write the pid file; call Run for that.
func New(opts Options) (*Supervisor, error) {
	s := &Supervisor{
		opts: opts,
		log:  opts.Logger(),
		mood:    Active,
		sink:    signals.NewSink(),
		metrics: metrics.NewCollector(),
	}
	for _, gc := range opts.ProcessGroupConfigs() {
		g, err := group.New(gc, opts.Logger(), opts.Clock(), opts.Spawner())
		if err != nil {
			return nil, fmt.Errorf("supervisor: build group %s: %w", gc.Name, err)
		}
		s.groups = append(s.groups, g)
	}
	return s, nil
}

// State reports the operator-visible mood string.
func (s *Supervisor) State() string { return s.mood.State() }

// Groups exposes the built groups, primarily so Reload can walk the
// previous generation's FSMs by identity.
func (s *Supervisor) Groups() []*group.ProcessGroup { return s.groups }

// Metrics exposes the Prometheus collector so the (out-of-scope) HTTP
// server can mount it at /metrics.
func (s *Supervisor) Metrics() *metrics.Collector { return s.metrics }

// Run starts the control server, installs signal handling, daemonises if
// requested, writes the pid file, and drives the event loop until
// shutdown or a reload request. On any exit it runs cleanup regardless of
// which path was taken.
func (s *Supervisor) Run() error {
	defer s.cleanup()

	var err error
	s.control, err = s.opts.OpenControlServer(s.handleControl)
	if err != nil {
		return fmt.Errorf("supervisor: open control server: %w", err)
	}

	src := s.opts.SignalSource()
	src.Start(s.sink)
	defer src.Stop()

	if d := s.opts.Daemoniser(); d != nil {
		if err := d.Daemonize(); err != nil {
			return fmt.Errorf("supervisor: daemonize: %w", err)
		}
	}

	s.pid, err = writePidFile(s.opts.PidFile())
	if err != nil {
		return err
	}

	l := &loop.Loop{
		Groups:  s.groups,
		History: reaper.NewPidHistory(),
		Signals: s.sink,
		Control: s.control,
		Log:     s.log,
		Clock:   s.opts.Clock(),
		Metrics: s.metrics,
	}

	runErr := l.Run()
	if runErr == loop.ErrRestartRequested {
		s.mood = Restarting
		return runErr
	}

	// This generation is never coming back: close every FSM's log sinks.
	// On a restart, Reload instead closes only the FSMs it discards,
	// since the adopted ones carry their sinks into the next generation.
	for _, g := range s.groups {
		g.Close()
	}

	if runErr != nil {
		s.mood = Shutdown
		return runErr
	}
	s.mood = Shutdown
	return nil
}

func (s *Supervisor) cleanup() {
	s.pid.release()
	if s.control != nil {
		s.control.Close()
	}
}

// handleControl answers one control-protocol request. A minimal method
// set (status, stop_all, reopen_logs, shutdown, dump, metrics); growing this is
// exactly what ControlServerShim exists to absorb without the loop or
// FSMs knowing anything changed.
func (s *Supervisor) handleControl(req control.Request) (control.Response, error) {
	switch req.Method {
	case "status":
		return control.Response{OK: true, Result: s.statusSnapshot()}, nil
	case "stop_all":
		for _, g := range s.groups {
			g.StopAll()
		}
		return control.Response{OK: true}, nil
	case "reopen_logs":
		for _, g := range s.groups {
			g.ReopenLogs()
		}
		return control.Response{OK: true}, nil
	case "shutdown":
		return control.Response{OK: true}, control.ErrExitNow
	case "dump":
		return control.Response{OK: true, Result: introspect.Snapshot(s.groups, tailBytes)}, nil
	case "metrics":
		s.metrics.Refresh(s.groups)
		return control.Response{OK: true, Result: "refreshed"}, nil
	default:
		return control.Response{OK: false, Error: "unknown method: " + req.Method}, nil
	}
}

type procStatus struct {
	Name  string `json:"name"`
	Group string `json:"group"`
	State string `json:"state"`
	PID   int    `json:"pid"`
}

func (s *Supervisor) statusSnapshot() []procStatus {
	var out []procStatus
	for _, g := range s.groups {
		for _, p := range g.Procs {
			out = append(out, procStatus{Name: p.Config.Name, Group: g.Name, State: p.State.String(), PID: p.PID})
		}
	}
	return out
}
