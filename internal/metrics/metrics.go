// Package metrics exposes the supervisor's state as Prometheus gauges and
// counters. Each Collector registers its metrics into its own registry;
// the out-of-scope HTTP server would serve Collector.Registry().
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gosv/gosv/internal/fsm"
	"github.com/gosv/gosv/internal/group"
)

// Collector holds every metric gosvd reports; Refresh reads the group set
// passed to it.
type Collector struct {
	registry *prometheus.Registry

	processState  *prometheus.GaugeVec
	backoffCount  *prometheus.GaugeVec
	reapedTotal   prometheus.Counter
	unknownReaped prometheus.Counter
}

// NewCollector builds the metric families and registers them into the
// collector's own registry; call Registry to get that *prometheus.Registry
// for an HTTP handler to serve.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		processState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gosv",
			Name:      "process_state",
			Help:      "1 for the current state of a supervised process, 0 for every other state.",
		}, []string{"group", "name", "state"}),
		backoffCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gosv",
			Name:      "process_backoff_count",
			Help:      "Consecutive failed spawn attempts for a supervised process.",
		}, []string{"group", "name"}),
		reapedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gosv",
			Name:      "reaped_children_total",
			Help:      "Total children reaped by the event loop.",
		}),
		unknownReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gosv",
			Name:      "reaped_unknown_pids_total",
			Help:      "Total waitpid() reaps for a pid with no owning FSM.",
		}),
	}
	c.registry.MustRegister(c.processState, c.backoffCount, c.reapedTotal, c.unknownReaped)
	return c
}

// Registry is what the (out-of-scope) HTTP server would mount at /metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// allStates lists every fsm.State so Refresh can zero out states a
// process isn't currently in, rather than leaving stale 1s behind from a
// previous scrape.
var allStates = []fsm.State{
	fsm.Stopped, fsm.Starting, fsm.Running, fsm.Backoff,
	fsm.Stopping, fsm.Exited, fsm.Fatal, fsm.Unknown,
}

// Refresh recomputes every gauge from the current group set. Cheap enough
// to call on every scrape; there is no background goroutine polling FSMs
// on a timer, keeping with the loop's single-owner-of-state rule.
func (c *Collector) Refresh(groups []*group.ProcessGroup) {
	c.processState.Reset()
	c.backoffCount.Reset()
	for _, g := range groups {
		for _, p := range g.Procs {
			for _, st := range allStates {
				v := 0.0
				if p.State == st {
					v = 1.0
				}
				c.processState.WithLabelValues(g.Name, p.Config.Name, st.String()).Set(v)
			}
			c.backoffCount.WithLabelValues(g.Name, p.Config.Name).Set(float64(p.BackoffCount))
		}
	}
}

// RecordReap increments the reap counters; the loop calls this once per
// tick's reap pass with however many children of each kind it found.
func (c *Collector) RecordReap(known, unknown int) {
	c.reapedTotal.Add(float64(known))
	c.unknownReaped.Add(float64(unknown))
}
