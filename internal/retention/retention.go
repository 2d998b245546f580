// Package retention implements the periodic graph purge sweep (C10): every
// tick it deletes stale posts, orphaned FOLLOWS edges on untracked users,
// and users left with no followers, in a single transaction.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/aegis-proto/aegis/internal/graphdb"
	"github.com/aegis-proto/aegis/internal/metrics"
)

// SweepInterval is how often the purge runs.
const SweepInterval = 5 * time.Minute

const (
	retryInitial    = 50 * time.Millisecond
	retryMaxElapsed = 10 * time.Second
)

// Writer is the subset of GraphDB the sweeper writes the purge through.
type Writer interface {
	WriteMany(ctx context.Context, queries []string) error
}

// Sweeper periodically purges stale graph state. A failed sweep is logged
// and retried on the next tick rather than treated as fatal.
type Sweeper struct {
	log    *slog.Logger
	tracer trace.Tracer
	writer Writer

	retryMaxElapsed time.Duration
}

// New builds a Sweeper.
func New(log *slog.Logger, tracer trace.Tracer, writer Writer) *Sweeper {
	return &Sweeper{
		log:             log.With(slog.String("component", "retention")),
		tracer:          tracer,
		writer:          writer,
		retryMaxElapsed: retryMaxElapsed,
	}
}

// Run ticks every SweepInterval until ctx is canceled, purging once per
// tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "retention.sweep")
	defer span.End()

	s.log.Info("purging stale graph state")
	start := time.Now()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitial
	bo.MaxElapsedTime = s.retryMaxElapsed

	err := backoff.Retry(func() error {
		return s.writer.WriteMany(ctx, []string{
			graphdb.PurgeOldPosts,
			graphdb.PurgeNoFollowers,
			graphdb.PurgeDisconnected,
		})
	}, backoff.WithContext(bo, ctx))

	status := metrics.StatusOK
	if err != nil {
		status = metrics.StatusError
		s.log.Warn("purge sweep failed", "error", err)
	}
	metrics.RetentionSweepDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}
