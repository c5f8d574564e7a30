package loop

import (
	"testing"
	"time"

	"github.com/gosv/gosv/internal/config"
	"github.com/gosv/gosv/internal/fsm"
	"github.com/gosv/gosv/internal/group"
	"github.com/gosv/gosv/internal/kernel"
	"github.com/gosv/gosv/internal/logger"
	"github.com/gosv/gosv/internal/reaper"
	"github.com/gosv/gosv/internal/signals"
)

// TestRunExitsOnStopSignalAfterChildExits spawns a real, instantly-exiting
// shell child through the full stack (group -> fsm -> OSSpawner) and
// drives the loop for real, the way the teacher's zombie_demo.go exercises
// spawn/reap manually but through the actual supervision kernel instead.
func TestRunExitsOnStopSignalAfterChildExits(t *testing.T) {
	cfg := config.ProcessGroupConfig{
		Name:     "test",
		Priority: 1,
		Programs: []config.ProcessConfig{{
			Name:         "quick",
			Command:      "/bin/sh",
			Args:         []string{"-c", "exit 0"},
			AutoStart:    true,
			AutoRestart:  config.RestartNever,
			StartSecs:    0,
			StartRetries: 1,
			StopSignal:   "TERM",
			StopWaitSecs: 1,
			ExitCodes:    []int{0},
		}},
	}

	log := logger.New(logger.TRACE)
	g, err := group.New(cfg, log, kernel.RealClock{}, fsm.NewOSSpawner())
	if err != nil {
		t.Fatalf("group.New: %v", err)
	}

	sink := signals.NewSink()
	l := &Loop{
		Groups:  []*group.ProcessGroup{g},
		History: reaper.NewPidHistory(),
		Signals: sink,
		Log:     log,
		Clock:   kernel.RealClock{},
	}

	runDone := make(chan error, 1)
	go func() { runDone <- l.Run() }()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && g.Procs[0].State != fsm.Exited {
		time.Sleep(10 * time.Millisecond)
	}
	if g.Procs[0].State != fsm.Exited {
		t.Fatalf("expected child to reach EXITED, got %s", g.Procs[0].State)
	}

	sink.Raise(signals.ClassStop)

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not exit after stop signal")
	}

	if g.Procs[0].PID != 0 {
		t.Fatalf("expected pid cleared after reap, got %d", g.Procs[0].PID)
	}
}
