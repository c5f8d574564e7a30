package signals

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// Source feeds a Sink from the outside world. Real processes use
// OSSource; tests substitute a fake that calls Sink.Raise directly,
// matching the ClockSource/ProcessSpawner split documented in
// SPEC_FULL.md §9.
type Source interface {
	// Start begins forwarding OS signals into sink until Stop is called.
	Start(sink *Sink)
	Stop()
}

// classify maps a raw signal to the coarse class the event loop acts on,
// mirroring handle_signal()'s dispatch in the original.
func classify(sig os.Signal) Class {
	switch sig {
	case unix.SIGTERM, unix.SIGINT, unix.SIGQUIT:
		return ClassStop
	case unix.SIGHUP:
		return ClassRestart
	case unix.SIGUSR2:
		return ClassReopenLogs
	case unix.SIGCHLD:
		return ClassChildReap
	default:
		return ClassOther
	}
}

// OSSource forwards real process signals via os/signal.
type OSSource struct {
	ch   chan os.Signal
	done chan struct{}
}

func NewOSSource() *OSSource {
	return &OSSource{
		ch:   make(chan os.Signal, 16),
		done: make(chan struct{}),
	}
}

func (s *OSSource) Start(sink *Sink) {
	signal.Notify(s.ch,
		unix.SIGTERM, unix.SIGINT, unix.SIGQUIT,
		unix.SIGHUP, unix.SIGUSR2, unix.SIGCHLD,
		unix.SIGUSR1, unix.SIGWINCH,
	)
	go func() {
		for {
			select {
			case sig := <-s.ch:
				sink.Raise(classify(sig))
			case <-s.done:
				return
			}
		}
	}()
}

func (s *OSSource) Stop() {
	signal.Stop(s.ch)
	close(s.done)
}
