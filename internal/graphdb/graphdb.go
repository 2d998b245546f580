// Package graphdb wraps the Cypher graph database (C7) this pipeline writes
// events into and reads rankings from. It exposes the capability set the
// rest of the system depends on: single writes, UNWIND-batched writes,
// chunked writes, single reads, and fanned-out parallel reads.
package graphdb

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Row is a single result record, keyed by the Cypher RETURN aliases.
type Row map[string]any

// RowSet is an ordered collection of Rows, in the order the database
// returned them.
type RowSet []Row

// Config configures the driver connection. ReplicaURI is optional; when set,
// GraphDB issues "SET REPLICATION ROLE TO REPLICA" against it at startup,
// matching a primary/replica Memgraph deployment.
type Config struct {
	URI        string
	ReplicaURI string
	User       string
	Password   string
	FetchSize  int
}

// defaultFetchSize matches the page size the source deployment pinned on
// every session it opened.
const defaultFetchSize = 8192

// batchWriteRetryInitial and batchWriteRetryMaxElapsed match the backoff the
// source wraps around chunk_write/batch_write's single transaction.
const (
	batchWriteRetryInitial    = 250 * time.Millisecond
	batchWriteRetryMaxElapsed = 10 * time.Second
)

// replicaPort is the port the replica listens for replication traffic on,
// fixed at deployment time rather than configured per-environment.
const replicaPort = 10000

// GraphDB is a tracer-wrapped handle to the graph database driver.
type GraphDB struct {
	log       *slog.Logger
	tracer    trace.Tracer
	driver    neo4j.DriverWithContext
	fetchSize int
}

// New opens the driver, verifies connectivity, ensures the indexes this
// pipeline's query shapes depend on exist, and, when cfg.ReplicaURI is set,
// promotes that instance to a replication target and registers it with the
// main instance. Both replication statements are best-effort: a topology
// that already has the role set returns an error here, which is logged and
// otherwise ignored.
func New(ctx context.Context, log *slog.Logger, tracer trace.Tracer, cfg Config) (*GraphDB, error) {
	log = log.With(slog.String("component", "graphdb"))

	if cfg.ReplicaURI != "" {
		replicaDriver, err := neo4j.NewDriverWithContext(cfg.ReplicaURI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
		if err != nil {
			return nil, fmt.Errorf("create replica driver: %w", err)
		}
		log.Info("connecting to replica first")
		session := replicaDriver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
		_, err = session.Run(ctx, fmt.Sprintf("SET REPLICATION ROLE TO REPLICA WITH PORT %d;", replicaPort), nil)
		session.Close(ctx)
		if err != nil {
			log.Warn("unable to set replica role, it has probably already been set", "error", err)
		}
		if err := replicaDriver.Close(ctx); err != nil {
			log.Warn("closing replica setup connection", "error", err)
		}
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create graph driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verify graph connectivity: %w", err)
	}

	fetchSize := cfg.FetchSize
	if fetchSize == 0 {
		fetchSize = defaultFetchSize
	}

	g := &GraphDB{
		log:       log,
		tracer:    tracer,
		driver:    driver,
		fetchSize: fetchSize,
	}

	for _, idx := range []string{indexUserDID, indexPostRkey} {
		if _, err := g.Write(ctx, idx, nil); err != nil {
			return nil, fmt.Errorf("ensure index %q: %w", idx, err)
		}
	}

	if cfg.ReplicaURI != "" {
		if _, err := g.Write(ctx, fmt.Sprintf(`REGISTER REPLICA REP1 ASYNC TO "%s";`, replicaHost(cfg.ReplicaURI)), nil); err != nil {
			log.Warn("unable to register replica on main, it has probably already been set", "error", err)
		}
	}

	return g, nil
}

// replicaHost strips the scheme and port from a bolt connection URI, since
// REGISTER REPLICA takes a bare host.
func replicaHost(uri string) string {
	host := uri
	if i := strings.Index(host, "://"); i != -1 {
		host = host[i+3:]
	}
	if i := strings.LastIndex(host, ":"); i != -1 {
		host = host[:i]
	}
	return host
}

// Close releases the underlying driver.
func (g *GraphDB) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func writeTxn[T any](ctx context.Context, session neo4j.SessionWithContext, fn func(tx neo4j.ManagedTransaction) (T, error)) (T, error) {
	var zero T
	resI, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return fn(tx)
	})
	if err != nil {
		return zero, err
	}
	res, ok := resI.(T)
	if !ok {
		return zero, fmt.Errorf("cast write result %T to %T", resI, zero)
	}
	return res, nil
}

func readTxn[T any](ctx context.Context, session neo4j.SessionWithContext, fn func(tx neo4j.ManagedTransaction) (T, error)) (T, error) {
	var zero T
	resI, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return fn(tx)
	})
	if err != nil {
		return zero, err
	}
	res, ok := resI.(T)
	if !ok {
		return zero, fmt.Errorf("cast read result %T to %T", resI, zero)
	}
	return res, nil
}

// Write runs a single Cypher statement in a write transaction.
func (g *GraphDB) Write(ctx context.Context, query string, params map[string]any) (neo4j.ResultSummary, error) {
	ctx, span := g.tracer.Start(ctx, "graphdb.Write")
	defer span.End()

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, FetchSize: g.fetchSize})
	defer session.Close(ctx)

	return writeTxn(ctx, session, func(tx neo4j.ManagedTransaction) (neo4j.ResultSummary, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
}

// Statement pairs a Cypher query with its bound parameters, for use in a
// multi-statement transaction.
type Statement struct {
	Query  string
	Params map[string]any
}

// WriteStatements runs every statement in order within a single write
// transaction, committing only if all of them succeed. Used by the
// transaction pipeline (C6) to commit a flushed batch of prepared queries,
// and by the retention sweeper (C10) to purge in one atomic pass.
func (g *GraphDB) WriteStatements(ctx context.Context, stmts []Statement) error {
	ctx, span := g.tracer.Start(ctx, "graphdb.WriteStatements")
	defer span.End()

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, FetchSize: g.fetchSize})
	defer session.Close(ctx)

	_, err := writeTxn(ctx, session, func(tx neo4j.ManagedTransaction) (struct{}, error) {
		for _, s := range stmts {
			if _, err := tx.Run(ctx, s.Query, s.Params); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	return err
}

// WriteMany is WriteStatements for statements with no parameters.
func (g *GraphDB) WriteMany(ctx context.Context, queries []string) error {
	stmts := make([]Statement, len(queries))
	for i, q := range queries {
		stmts[i] = Statement{Query: q}
	}
	return g.WriteStatements(ctx, stmts)
}

// Read runs a single Cypher statement in a read transaction and collects
// every row into a RowSet.
func (g *GraphDB) Read(ctx context.Context, query string, params map[string]any) (RowSet, error) {
	ctx, span := g.tracer.Start(ctx, "graphdb.Read")
	defer span.End()

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead, FetchSize: g.fetchSize})
	defer session.Close(ctx)

	return readTxn(ctx, session, func(tx neo4j.ManagedTransaction) (RowSet, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make(RowSet, 0, len(records))
		for _, rec := range records {
			rows = append(rows, Row(rec.AsMap()))
		}
		return rows, nil
	})
}

// BatchWrite runs every statement in stmts inside a single write
// transaction, retrying the whole transaction with exponential backoff if it
// fails, matching the source's batch_write.
func (g *GraphDB) BatchWrite(ctx context.Context, stmts []Statement) error {
	if len(stmts) == 0 {
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = batchWriteRetryInitial
	bo.MaxElapsedTime = batchWriteRetryMaxElapsed

	return backoff.Retry(func() error {
		return g.WriteStatements(ctx, stmts)
	}, backoff.WithContext(bo, ctx))
}

// ChunkWrite splits rows into chunks of at most chunkSize, binds each chunk
// under paramName, and runs query once per chunk, all inside the single
// retried transaction BatchWrite opens. Used by the backfill engine, where a
// single follow/block listing can run into the tens of thousands of rows.
func (g *GraphDB) ChunkWrite(ctx context.Context, query, paramName string, rows []Row, chunkSize int) error {
	chunks := chunkRows(rows, chunkSize)
	if len(chunks) == 0 {
		return nil
	}
	stmts := make([]Statement, len(chunks))
	for i, chunk := range chunks {
		stmts[i] = Statement{Query: query, Params: map[string]any{paramName: chunk}}
	}
	if err := g.BatchWrite(ctx, stmts); err != nil {
		return fmt.Errorf("chunk write (%d rows): %w", len(rows), err)
	}
	return nil
}

func chunkRows(rows []Row, size int) [][]Row {
	if size <= 0 {
		size = len(rows)
	}
	if len(rows) == 0 {
		return nil
	}
	chunks := make([][]Row, 0, (len(rows)+size-1)/size)
	for i := 0; i < len(rows); i += size {
		end := min(i+size, len(rows))
		chunks = append(chunks, rows[i:end])
	}
	return chunks
}

// NamedQuery pairs a label (used for reason-tagging results) with the
// Cypher statement and parameters to run.
type NamedQuery struct {
	Name   string
	Query  string
	Params map[string]any
}

// BatchRead runs every query concurrently against independent read
// sessions and returns each one's RowSet keyed by its Name. Used by the
// fetch coordinator to fan its five ranking lenses out in parallel.
func (g *GraphDB) BatchRead(ctx context.Context, queries []NamedQuery) (map[string]RowSet, error) {
	ctx, span := g.tracer.Start(ctx, "graphdb.BatchRead")
	defer span.End()

	results := make(map[string]RowSet, len(queries))
	var mu sync.Mutex

	grp, gctx := errgroup.WithContext(ctx)
	for _, q := range queries {
		q := q
		grp.Go(func() error {
			rows, err := g.Read(gctx, q.Query, q.Params)
			if err != nil {
				return fmt.Errorf("query %s: %w", q.Name, err)
			}
			mu.Lock()
			results[q.Name] = rows
			mu.Unlock()
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
