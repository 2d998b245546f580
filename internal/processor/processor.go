// Package processor implements the batch queues (C5) and transaction
// pipeline (C6) that turn individual graph mutations into UNWIND-batched,
// ordered-commit Cypher transactions.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/aegis-proto/aegis/internal/graphdb"
	"github.com/aegis-proto/aegis/internal/metrics"
)

// QLimit is the per-event-type batch queue threshold: once a queue holds
// this many rows, it drains and hands its contents to the transaction
// pipeline.
const QLimit = 55

// TxQLen is the transaction pipeline's pending-statement threshold: once it
// holds this many prepared statements, the next enqueue triggers a flush.
const TxQLen = 70

// Token is a single-capacity completion channel. The caller that triggers a
// flush receives the token and must pass it into the next flush it
// triggers, so that commit B cannot start before commit A finishes.
type Token <-chan struct{}

type pendingStatement struct {
	query  string
	params map[string]any
}

// Writer is the graph database capability the transaction pipeline needs:
// committing a batch of prepared statements atomically. Satisfied by
// *graphdb.GraphDB; defined here so tests can supply a fake.
type Writer interface {
	WriteStatements(ctx context.Context, stmts []graphdb.Statement) error
}

// Processor owns the twelve batch queues (six upsert, six delete) and the
// transaction pipeline that flushes them.
type Processor struct {
	log    *slog.Logger
	tracer trace.Tracer
	db     Writer

	likeQueue, postQueue, replyQueue, repostQueue, followQueue, blockQueue []graphdb.Row

	rmLikeQueue, rmPostQueue, rmReplyQueue, rmRepostQueue, rmFollowQueue, rmBlockQueue []graphdb.Row

	txMu    sync.Mutex
	pending []pendingStatement
}

// New builds a Processor bound to db.
func New(log *slog.Logger, tracer trace.Tracer, db Writer) *Processor {
	return &Processor{
		log:    log.With(slog.String("component", "processor")),
		tracer: tracer,
		db:     db,
	}
}

// enqueueQuery implements the transaction pipeline's core semantics: insert
// under a fresh slot if there's room, otherwise flush the existing pending
// statements (dropping the just-batched query on this call, matching the
// canonical backpressure shape) and return a token for the flush.
func (p *Processor) enqueueQuery(ctx context.Context, query, paramName string, rows []graphdb.Row, prevToken Token) Token {
	p.txMu.Lock()
	full := len(p.pending) >= TxQLen
	p.txMu.Unlock()

	if full {
		next := make(chan struct{})
		snapshotStart := time.Now()

		p.txMu.Lock()
		snapshot := p.pending
		p.pending = nil
		p.txMu.Unlock()

		go func() {
			defer close(next)

			if prevToken != nil {
				<-prevToken
			}

			if err := p.commitWithRetry(ctx, snapshot); err != nil {
				p.log.Warn("transaction commit failed after retries", "err", err, "statements", len(snapshot))
				metrics.TransactionCommitsDropped.WithLabelValues().Inc()
				return
			}

			elapsed := time.Since(snapshotStart)
			if elapsed > 200*time.Millisecond {
				rate := float64(len(snapshot)) / elapsed.Seconds()
				p.log.Info("slow transaction commit", "elapsed_ms", elapsed.Milliseconds(), "events_per_sec", int(rate))
			}
		}()

		return next
	}

	p.txMu.Lock()
	p.pending = append(p.pending, pendingStatement{
		query:  query,
		params: map[string]any{paramName: rows},
	})
	p.txMu.Unlock()

	metrics.QueueFlushes.WithLabelValues(paramName).Inc()

	return prevToken
}

func (p *Processor) commitWithRetry(ctx context.Context, snapshot []pendingStatement) error {
	if len(snapshot) == 0 {
		return nil
	}

	stmts := make([]graphdb.Statement, len(snapshot))
	for i, s := range snapshot {
		stmts[i] = graphdb.Statement{Query: s.query, Params: s.params}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Millisecond
	bo.RandomizationFactor = 0.35
	bo.MaxElapsedTime = 350 * time.Millisecond

	start := time.Now()
	err := backoff.Retry(func() error {
		return p.db.WriteStatements(ctx, stmts)
	}, backoff.WithContext(bo, ctx))

	status := metrics.StatusOK
	if err != nil {
		status = metrics.StatusError
	}
	metrics.TransactionCommitDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if err != nil {
		return fmt.Errorf("commit %d statements: %w", len(stmts), err)
	}
	return nil
}

func (p *Processor) pushUpsert(ctx context.Context, name, query string, queue *[]graphdb.Row, row graphdb.Row, prevToken Token) Token {
	*queue = append(*queue, row)
	if len(*queue) >= QLimit {
		batch := *queue
		*queue = nil
		return p.enqueueQuery(ctx, query, pluralize(name), batch, prevToken)
	}
	return prevToken
}
