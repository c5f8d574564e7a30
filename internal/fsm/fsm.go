// Package fsm implements the per-child process state machine: spawn,
// monitor, signal, reap, backoff, autorestart.
package fsm

import (
	"fmt"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"

	"github.com/gosv/gosv/internal/capture"
	"github.com/gosv/gosv/internal/config"
	"github.com/gosv/gosv/internal/kernel"
	"github.com/gosv/gosv/internal/logger"
)

// backoffCeiling bounds the computed respawn delay regardless of how high
// the exponential curve would otherwise climb.
const backoffCeiling = 60 * time.Second

// ProcessFSM is one supervised child's state machine. Every field is
// mutated only from the event-loop goroutine; there is deliberately no
// mutex (see SPEC_FULL.md §5 and §9's "global-ish Options object" note).
type ProcessFSM struct {
	Config    config.ProcessConfig
	GroupName string

	State              State
	PID                int
	LastStart          time.Time
	LastStop           time.Time
	SpawnErr           string
	BackoffCount       int
	Delay              time.Time
	AdministrativeStop bool
	ExitStatus         *int

	StdoutCapture *capture.OutputCapture
	StderrCapture *capture.OutputCapture

	log       *logger.Logger
	clock     kernel.Clock
	spawner   Spawner
	backoffer *backoff.ExponentialBackOff

	stdoutSink logger.Sink
	stdoutRing *logger.RingSink
	stderrSink logger.Sink
	stderrRing *logger.RingSink
}

// clockAdapter lets kernel.Clock satisfy cenkalti/backoff's own Clock
// interface (both are `Now() time.Time`), so backoff delay math advances
// off the same clock the FSM uses everywhere else.
type clockAdapter struct{ kernel.Clock }

// New builds a ProcessFSM and opens its (persistent, across respawns)
// stdout/stderr log sinks.
func New(cfg config.ProcessConfig, groupName string, log *logger.Logger, clock kernel.Clock, spawner Spawner) (*ProcessFSM, error) {
	p := &ProcessFSM{
		Config:    cfg,
		GroupName: groupName,
		State:     Stopped,
		log:       log,
		clock:     clock,
		spawner:   spawner,
	}

	if cfg.StdoutLogfile != "" {
		s, err := logger.NewFileSink(cfg.StdoutLogfile, cfg.StdoutMaxBytes, cfg.StdoutBackupCount)
		if err != nil {
			return nil, fmt.Errorf("fsm %s: stdout log: %w", cfg.Name, err)
		}
		p.stdoutSink = s
	}
	if cfg.StderrLogfile != "" {
		s, err := logger.NewFileSink(cfg.StderrLogfile, cfg.StderrMaxBytes, cfg.StderrBackupCount)
		if err != nil {
			return nil, fmt.Errorf("fsm %s: stderr log: %w", cfg.Name, err)
		}
		p.stderrSink = s
	}
	if cfg.TailBytes > 0 {
		p.stdoutRing = logger.NewRingSink(cfg.TailBytes)
		p.stderrRing = logger.NewRingSink(cfg.TailBytes)
	}

	p.backoffer = backoff.NewExponentialBackOff()
	p.backoffer.InitialInterval = time.Second
	p.backoffer.Multiplier = 2
	p.backoffer.MaxInterval = backoffCeiling
	p.backoffer.MaxElapsedTime = 0 // startretries, not elapsed time, gates FATAL
	p.backoffer.Clock = clockAdapter{clock}

	return p, nil
}

// ShouldAutostart reports whether StartNecessary should spawn this FSM:
// a never-started FSM with autostart set, or one a previous Finish() left
// in STOPPED to schedule a respawn. EXITED FSMs and FSMs stopped by an
// operator are never respawned here.
func (p *ProcessFSM) ShouldAutostart() bool {
	if p.State != Stopped {
		return false
	}
	if p.LastStart.IsZero() {
		return p.Config.AutoStart
	}
	return !p.AdministrativeStop
}

// Spawn starts the child if currently idle. No-op while
// STARTING/RUNNING/STOPPING, matching the spec's spawn() contract.
func (p *ProcessFSM) Spawn() error {
	if p.State == Running || p.State == Starting || p.State == Stopping {
		return nil
	}

	pid, stdoutFD, stderrFD, err := p.spawner.Spawn(p.Config)
	if err != nil {
		p.onSpawnFailure(err.Error())
		return err
	}

	p.StdoutCapture = capture.New(stdoutFD, p.Config.Name+":stdout", p.stdoutSink, p.stdoutRing)
	p.StderrCapture = capture.New(stderrFD, p.Config.Name+":stderr", p.stderrSink, p.stderrRing)

	now := p.clock.Now()
	p.PID = pid
	p.State = Starting
	p.LastStart = now
	p.Delay = now.Add(p.Config.StartSecsDuration())
	p.SpawnErr = ""
	p.ExitStatus = nil

	p.log.Info("spawned %(name)s as pid %(pid)s", "name", p.Config.Name, "pid", pid)
	return nil
}

func (p *ProcessFSM) onSpawnFailure(reason string) {
	p.BackoffCount++
	p.State = Backoff
	p.SpawnErr = reason
	p.Delay = p.clock.Now().Add(p.nextDelay())
	p.log.Warn("spawn error for %(name)s: %(err)s", "name", p.Config.Name, "err", reason)
}

func (p *ProcessFSM) nextDelay() time.Duration {
	d := p.backoffer.NextBackOff()
	if d == backoff.Stop || d <= 0 {
		d = backoffCeiling
	}
	if d > backoffCeiling {
		d = backoffCeiling
	}
	return d
}

// Transition is invoked once per tick.
func (p *ProcessFSM) Transition() {
	now := p.clock.Now()
	switch p.State {
	case Starting:
		if !now.Before(p.Delay) && p.isAlive() {
			p.State = Running
			p.BackoffCount = 0
			p.backoffer.Reset()
			p.SpawnErr = ""
			p.log.Info("%(name)s entered RUNNING state", "name", p.Config.Name)
		}
	case Backoff:
		if !now.Before(p.Delay) {
			if p.BackoffCount >= p.Config.StartRetries {
				p.State = Fatal
				p.log.Critical("%(name)s gave up after %(n)s failed starts", "name", p.Config.Name, "n", p.BackoffCount)
				return
			}
			_ = p.Spawn()
		}
	case Stopping:
		if !now.Before(p.Delay) {
			p.log.Warn("%(name)s did not stop in time, sending SIGKILL", "name", p.Config.Name)
			p.killPID(unix.SIGKILL)
		}
	}
}

func (p *ProcessFSM) isAlive() bool {
	if p.PID == 0 {
		return false
	}
	return unix.Kill(p.PID, 0) == nil
}

// Stop requests a graceful shutdown: stopsignal now, SIGKILL escalation
// after stopwaitsecs if the child hasn't exited.
func (p *ProcessFSM) Stop() {
	if p.State != Starting && p.State != Running {
		return
	}
	p.AdministrativeStop = true
	p.State = Stopping
	p.Delay = p.clock.Now().Add(p.Config.StopWaitDuration())
	p.killPID(p.Config.Signal())
}

// Kill sends an arbitrary signal to the process group, if any.
func (p *ProcessFSM) Kill(sig syscall.Signal) error {
	if p.PID == 0 {
		return fmt.Errorf("fsm %s: not running", p.Config.Name)
	}
	return p.killPID(sig)
}

func (p *ProcessFSM) killPID(sig syscall.Signal) error {
	if p.PID == 0 {
		return nil
	}
	// Negative pid addresses the whole process group (Setpgid'd at spawn).
	return unix.Kill(-p.PID, sig)
}

// Finish is called from the reap path with a child's exit status.
func (p *ProcessFSM) Finish(status unix.WaitStatus) {
	expected := status.Exited() && p.Config.ExpectedExit(status.ExitStatus())
	code := exitCode(status)
	p.ExitStatus = &code
	p.LastStop = p.clock.Now()

	switch p.State {
	case Starting:
		p.onSpawnFailure(fmt.Sprintf("exited too quickly (process log may have details), status=%d", code))
	case Running:
		p.State = Exited
		if !p.AdministrativeStop && p.shouldAutoRestart(expected) {
			// Picked up by the next StartNecessary() pass, per spec.
			p.State = Stopped
		}
	case Stopping:
		p.State = Stopped
	}

	p.closeCaptures()
	p.PID = 0
}

func (p *ProcessFSM) shouldAutoRestart(expected bool) bool {
	switch p.Config.AutoRestart {
	case config.RestartAlways:
		return true
	case config.RestartOnFailure:
		return !expected
	default:
		return false
	}
}

func (p *ProcessFSM) closeCaptures() {
	if p.StdoutCapture != nil {
		p.StdoutCapture.Drain()
		p.StdoutCapture.Close()
	}
	if p.StderrCapture != nil {
		p.StderrCapture.Drain()
		p.StderrCapture.Close()
	}
}

// ReopenLogs reopens this FSM's stdout/stderr file sinks in place.
func (p *ProcessFSM) ReopenLogs() error {
	var firstErr error
	if p.stdoutSink != nil {
		if err := p.stdoutSink.Reopen(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.stderrSink != nil {
		if err := p.stderrSink.Reopen(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RemoveLogs deletes this FSM's log files, used on group teardown.
func (p *ProcessFSM) RemoveLogs() {
	if fs, ok := p.stdoutSink.(*logger.FileSink); ok {
		fs.Remove()
	}
	if fs, ok := p.stderrSink.(*logger.FileSink); ok {
		fs.Remove()
	}
}

// Close permanently releases this FSM's stdout/stderr log sinks. Unlike
// closeCaptures (called on every exit, to free that spawn's pipe fds),
// Close must only be called once this FSM will never spawn again: final
// supervisor shutdown, or removal of its config during a reload. Calling
// it any earlier would leave the next respawn's capture writing into a
// closed file.
func (p *ProcessFSM) Close() error {
	var firstErr error
	if p.stdoutSink != nil {
		if err := p.stdoutSink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.stdoutSink = nil
	}
	if p.stderrSink != nil {
		if err := p.stderrSink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.stderrSink = nil
	}
	return firstErr
}

func exitCode(status unix.WaitStatus) int {
	switch {
	case status.Exited():
		return status.ExitStatus()
	case status.Signaled():
		return 128 + int(status.Signal())
	default:
		return -1
	}
}
