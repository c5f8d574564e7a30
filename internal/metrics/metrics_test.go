package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gosv/gosv/internal/config"
	"github.com/gosv/gosv/internal/fsm"
	"github.com/gosv/gosv/internal/group"
	"github.com/gosv/gosv/internal/kernel"
	"github.com/gosv/gosv/internal/logger"
)

type fakeSpawner struct{}

func (fakeSpawner) Spawn(cfg config.ProcessConfig) (int, int, int, error) {
	return 0, 0, 0, errFake
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errFake = fakeErr("fake spawn failure")

func TestRefreshReportsCurrentState(t *testing.T) {
	cfg := config.ProcessGroupConfig{
		Name: "g",
		Programs: []config.ProcessConfig{
			{Name: "p", Command: "true", StartRetries: 3, ExitCodes: []int{0}},
		},
	}
	clock := kernel.NewFakeClock(time.Unix(0, 0))
	g, err := group.New(cfg, logger.New(logger.TRACE), clock, fakeSpawner{})
	if err != nil {
		t.Fatalf("group.New: %v", err)
	}

	c := NewCollector()
	c.Refresh([]*group.ProcessGroup{g})

	got := testutil.ToFloat64(c.processState.WithLabelValues("g", "p", fsm.Stopped.String()))
	if got != 1 {
		t.Fatalf("expected gauge 1 for STOPPED, got %v", got)
	}
	got = testutil.ToFloat64(c.processState.WithLabelValues("g", "p", fsm.Running.String()))
	if got != 0 {
		t.Fatalf("expected gauge 0 for RUNNING, got %v", got)
	}
}

func TestRecordReapIncrementsCounters(t *testing.T) {
	c := NewCollector()
	c.RecordReap(2, 1)
	if got := testutil.ToFloat64(c.reapedTotal); got != 2 {
		t.Fatalf("expected reapedTotal 2, got %v", got)
	}
	if got := testutil.ToFloat64(c.unknownReaped); got != 1 {
		t.Fatalf("expected unknownReaped 1, got %v", got)
	}
}
