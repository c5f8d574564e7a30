package supervisor

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/gosv/gosv/internal/config"
	"github.com/gosv/gosv/internal/control"
	"github.com/gosv/gosv/internal/fsm"
	"github.com/gosv/gosv/internal/kernel"
	"github.com/gosv/gosv/internal/logger"
	"github.com/gosv/gosv/internal/signals"
)

// pipePair opens a pipe using raw fds (no *os.File wrapper), the same way
// fsm.OSSpawner does, so nothing here is at the mercy of a GC finalizer
// closing a descriptor a test still expects to be open.
func pipePair() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

// fakeSpawner never forks; it hands back a pid counter and a pipe it
// controls directly, so tests can assert FSM behavior without touching
// the kernel.
type fakeSpawner struct {
	nextPID int
	spawns  []string
}

func (f *fakeSpawner) Spawn(cfg config.ProcessConfig) (int, int, int, error) {
	f.nextPID++
	f.spawns = append(f.spawns, cfg.Name)
	r1, w1, _ := pipePair()
	r2, w2, _ := pipePair()
	unix.Close(w1)
	unix.Close(w2)
	return f.nextPID, r1, r2, nil
}

// fakeSignalSource is a Source that never receives real OS signals;
// tests drive it by calling Raise on the Sink passed to Start directly.
type fakeSignalSource struct {
	started bool
	stopped bool
}

func (f *fakeSignalSource) Start(sink *signals.Sink) { f.started = true }
func (f *fakeSignalSource) Stop()                    { f.stopped = true }

// fakeDaemoniser never forks; Run should behave exactly the same with or
// without one, since production gosvd normally delegates daemonising to
// its process manager anyway.
type fakeDaemoniser struct{ called bool }

func (f *fakeDaemoniser) Daemonize() error {
	f.called = true
	return nil
}

// fakeOptions is the in-memory Options a supervisor_test can drive end to
// end without a filesystem or real control socket.
type fakeOptions struct {
	groups      []config.ProcessGroupConfig
	log         *logger.Logger
	clock       *kernel.FakeClock
	spawner     *fakeSpawner
	sigSource   *fakeSignalSource
	daemoniser  *fakeDaemoniser
	pidFilePath string
}

func newFakeOptions() *fakeOptions {
	return &fakeOptions{
		log:        logger.New(logger.TRACE),
		clock:      kernel.NewFakeClock(time.Unix(0, 0)),
		spawner:    &fakeSpawner{},
		sigSource:  &fakeSignalSource{},
		daemoniser: &fakeDaemoniser{},
	}
}

func (f *fakeOptions) ProcessGroupConfigs() []config.ProcessGroupConfig { return f.groups }
func (f *fakeOptions) Logger() *logger.Logger                          { return f.log }
func (f *fakeOptions) Clock() kernel.Clock                             { return f.clock }
func (f *fakeOptions) Spawner() fsm.Spawner                            { return f.spawner }
func (f *fakeOptions) SignalSource() signals.Source { return f.sigSource }
func (f *fakeOptions) Daemoniser() Daemoniser       { return f.daemoniser }
func (f *fakeOptions) PidFile() string              { return f.pidFilePath }
func (f *fakeOptions) ChildLogDir() string          { return "" }
func (f *fakeOptions) NoCleanup() bool              { return true }
func (f *fakeOptions) ControlSocketPath() string    { return "" }

func (f *fakeOptions) OpenControlServer(handler control.Handler) (*control.Server, error) {
	return nil, nil
}
