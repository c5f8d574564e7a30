package supervisor

import (
	"testing"

	"github.com/gosv/gosv/internal/config"
)

func oneProgramConfig(name string) []config.ProcessGroupConfig {
	return []config.ProcessGroupConfig{
		{
			Name:     "web",
			Priority: 1,
			Programs: []config.ProcessConfig{
				{
					Name:         name,
					Command:      "sleep",
					Args:         []string{"60"},
					AutoStart:    true,
					AutoRestart:  config.RestartNever,
					StartSecs:    1,
					StartRetries: 3,
					StopSignal:   "TERM",
					StopWaitSecs: 1,
					ExitCodes:    []int{0},
				},
			},
		},
	}
}

func TestNewBuildsGroupsFromConfig(t *testing.T) {
	opts := newFakeOptions()
	opts.groups = oneProgramConfig("sleeper")

	sup, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(sup.Groups()) != 1 {
		t.Fatalf("expected 1 group, got %d", len(sup.Groups()))
	}
	if len(sup.Groups()[0].Procs) != 1 {
		t.Fatalf("expected 1 proc, got %d", len(sup.Groups()[0].Procs))
	}
	if sup.State() != "RUNNING" {
		t.Fatalf("expected fresh supervisor mood RUNNING, got %s", sup.State())
	}
}

func TestReloadAdoptsUnchangedFSM(t *testing.T) {
	opts := newFakeOptions()
	opts.groups = oneProgramConfig("sleeper")

	prev, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := prev.Groups()[0].Procs[0].Spawn(); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	livePID := prev.Groups()[0].Procs[0].PID
	if livePID == 0 {
		t.Fatal("expected nonzero pid after spawn")
	}

	next, err := Reload(prev, opts)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if next.Groups()[0].Procs[0].PID != livePID {
		t.Fatalf("reload should have adopted the running FSM, got new pid %d want %d",
			next.Groups()[0].Procs[0].PID, livePID)
	}
}

func TestReloadStopsRemovedProcess(t *testing.T) {
	opts := newFakeOptions()
	opts.groups = oneProgramConfig("sleeper")
	prev, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := prev.Groups()[0].Procs[0].Spawn(); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	nextOpts := newFakeOptions()
	nextOpts.groups = oneProgramConfig("renamed")
	next, err := Reload(prev, nextOpts)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if next.Groups()[0].Procs[0].Config.Name != "renamed" {
		t.Fatalf("expected fresh FSM for changed config")
	}
	// The old FSM should have been asked to stop since its config no
	// longer exists in the new generation.
	if prev.Groups()[0].Procs[0].State.String() != "STOPPING" {
		t.Fatalf("expected removed FSM to be stopping, got %s", prev.Groups()[0].Procs[0].State.String())
	}
}
