// Package drift implements the rolling-average ingest lag monitor (C11).
// It supersedes the source's cruder per-event panic-on-drift behavior with
// a windowed moving average: individual spikes trigger a firehose failover
// (handled by internal/firehose directly), while a sustained high average
// triggers a hard restart.
package drift

import (
	"context"
	"log/slog"
	"time"

	"github.com/aegis-proto/aegis/internal/metrics"
)

// WindowSize is the number of recent per-event drift samples (in
// milliseconds) the rolling average is computed over.
const WindowSize = 25_000

// EmitInterval is how often the rolling average is logged and published.
const EmitInterval = 60 * time.Second

// RestartThresholdMs is the sustained average drift, in milliseconds, above
// which the process should terminate rather than continue degraded.
const RestartThresholdMs = 50_000

// Restarter is invoked when the rolling average crosses RestartThresholdMs.
// In production this terminates the process; tests supply a fake.
type Restarter func(avgMs float64)

// Monitor is a fixed-size ring buffer of drift samples plus a running sum,
// so the rolling average is O(1) to update and to read.
type Monitor struct {
	log     *slog.Logger
	restart Restarter
	samples []int64
	next    int
	filled  int
	sum     int64
}

// New builds a Monitor. restart is called (from Run's goroutine) when the
// rolling average exceeds RestartThresholdMs.
func New(log *slog.Logger, restart Restarter) *Monitor {
	return &Monitor{
		log:     log.With(slog.String("component", "drift")),
		restart: restart,
		samples: make([]int64, WindowSize),
	}
}

// Observe records one event's drift sample, evicting the oldest sample once
// the window is full.
func (m *Monitor) Observe(driftMs int64) {
	size := len(m.samples)
	if m.filled == size {
		m.sum -= m.samples[m.next]
	} else {
		m.filled++
	}
	m.samples[m.next] = driftMs
	m.sum += driftMs
	m.next = (m.next + 1) % size
}

// Average returns the current rolling average, or 0 if no samples have been
// observed yet.
func (m *Monitor) Average() float64 {
	if m.filled == 0 {
		return 0
	}
	return float64(m.sum) / float64(m.filled)
}

// Run periodically emits the rolling average as a metric and log line, and
// triggers restart when it's sustained above RestartThresholdMs. It returns
// when ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(EmitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			avg := m.Average()
			metrics.DriftAverageMs.Set(avg)
			m.log.Info("ingest drift", "avg_ms", avg, "samples", m.filled)

			if avg > RestartThresholdMs {
				m.log.Error("sustained ingest drift exceeds restart threshold", "avg_ms", avg)
				if m.restart != nil {
					m.restart(avg)
				}
			}
		}
	}
}
