package supervisor

import (
	"github.com/gosv/gosv/internal/config"
	"github.com/gosv/gosv/internal/control"
	"github.com/gosv/gosv/internal/fsm"
	"github.com/gosv/gosv/internal/kernel"
	"github.com/gosv/gosv/internal/logger"
	"github.com/gosv/gosv/internal/signals"
)

// Daemoniser detaches the current process from its controlling terminal.
// A real implementation forks and exits the parent (via
// golang.org/x/sys/unix's fork primitives, since Go has no libc daemon(3));
// gosvd's noopDaemoniser.Daemonize is a deliberate no-op — gosvd is normally run
// under a process manager of its own (systemd, a container runtime) that
// already does this job, matching how several of the corpus's own daemons
// ship. The interface is kept so the -n/--nodaemon flag and tests have
// something concrete to substitute.
type Daemoniser interface {
	Daemonize() error
}

// Options is everything the Supervisor needs from its environment. It is
// deliberately a bundle of small, independently fakeable pieces rather
// than one monolithic struct: ClockSource and ProcessSpawner are
// kernel.Clock and fsm.Spawner (already split out for the FSM layer),
// SignalSource is signals.Source, and the rest below round out what the
// old single "Options" object used to carry.
type Options interface {
	ProcessGroupConfigs() []config.ProcessGroupConfig
	Logger() *logger.Logger
	Clock() kernel.Clock
	Spawner() fsm.Spawner
	SignalSource() signals.Source
	Daemoniser() Daemoniser

	PidFile() string
	ChildLogDir() string
	NoCleanup() bool
	ControlSocketPath() string

	// OpenControlServer starts listening for control-protocol connections
	// and wires handler as the request dispatcher. Returns nil, nil if no
	// control socket path is configured.
	OpenControlServer(handler control.Handler) (*control.Server, error)
}
