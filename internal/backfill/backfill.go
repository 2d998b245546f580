// Package backfill implements the first-contact graph backfill (C9): the
// first time a DID is seen by the fetch path, its blocks
// and follows are pulled from its PDS and written into the graph, and its
// follows' follows (2nd degree) are recursively expanded in parallel so the
// ranking lenses have a populated social graph to query against.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/aegis-proto/aegis/internal/graphdb"
)

const (
	blockChunkSize  = 60
	followChunkSize = 20
	followFanout    = 24
)

// Follower fetches a repo's social graph edges. Client implements it against
// a live PDS; tests supply a fake.
type Follower interface {
	ListFollows(ctx context.Context, did string) ([]Edge, error)
	ListBlocks(ctx context.Context, did string) ([]Edge, error)
}

// Writer is the subset of GraphDB the engine writes backfilled edges
// through.
type Writer interface {
	ChunkWrite(ctx context.Context, query, paramName string, rows []graphdb.Row, chunkSize int) error
}

// Engine drives first-contact backfill for DIDs it hasn't seen before.
type Engine struct {
	log      *slog.Logger
	tracer   trace.Tracer
	follower Follower
	writer   Writer

	// writeLock serializes the final 2nd-degree follow commit (taken
	// exclusively) against the per-chunk block writes (taken shared), the
	// same asymmetry the source uses so independent backfills don't starve
	// each other on block writes but never interleave a follow commit.
	writeLock sync.RWMutex

	mu       sync.Mutex
	inFlight map[string]struct{}
	seen     map[string]struct{}
}

// New builds an Engine.
func New(log *slog.Logger, tracer trace.Tracer, follower Follower, writer Writer) *Engine {
	return &Engine{
		log:      log.With(slog.String("component", "backfill")),
		tracer:   tracer,
		follower: follower,
		writer:   writer,
		inFlight: make(map[string]struct{}),
		seen:     make(map[string]struct{}),
	}
}

// markSeen reports whether did was newly marked seen (false if it already
// was).
func (e *Engine) markSeen(did string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.seen[did]; ok {
		return false
	}
	e.seen[did] = struct{}{}
	return true
}

// claimInFlight atomically marks did in-flight and reports whether the
// caller won the claim. Marking happens before any goroutine is spawned,
// unlike the source (which raced the check against the insert inside the
// already-spawned task).
func (e *Engine) claimInFlight(did string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.inFlight[did]; ok {
		return false
	}
	e.inFlight[did] = struct{}{}
	return true
}

func (e *Engine) releaseInFlight(did string) {
	e.mu.Lock()
	delete(e.inFlight, did)
	e.mu.Unlock()
}

// IsInFlight reports whether did currently has a backfill running. The fetch
// coordinator consults this before resolving a request, so a request that
// raced a DID's first-contact backfill gets the sentinel response rather
// than a ranking pass over a still-empty slice of the graph.
func (e *Engine) IsInFlight(did string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inFlight[did]
	return ok
}

// Backfill runs first-contact backfill for did: blocks are written
// synchronously, then 1st-degree follows are fetched and, if this DID isn't
// already being backfilled, recursively expanded to 2nd degree and written.
func (e *Engine) Backfill(ctx context.Context, did string) error {
	ctx, span := e.tracer.Start(ctx, "backfill.Backfill")
	defer span.End()

	if e.markSeen(did) {
		if err := e.backfillBlocks(ctx, did); err != nil {
			e.log.Warn("backfill blocks failed", "did", did, "error", err)
		}
	}

	follows, err := e.follower.ListFollows(ctx, did)
	if errors.Is(err, ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("list follows for %s: %w", did, err)
	}

	if !e.claimInFlight(did) {
		e.log.Warn("backfill already in flight, skipping", "did", did)
		return nil
	}
	defer e.releaseInFlight(did)

	// Every 1st-degree follow becomes a row for did, regardless of whether
	// the friend has been seen before; seen only gates which friends get
	// recursively expanded to 2nd degree.
	rows := make([]graphdb.Row, 0, len(follows))
	var unseenFriends []string
	for _, f := range follows {
		rows = append(rows, followRow(f.Subject, f.Rkey, did))
		if e.markSeen(f.Subject) {
			unseenFriends = append(unseenFriends, f.Subject)
		}
	}

	if len(rows) == 0 {
		return nil
	}

	rows = append(rows, e.expandSecondDegree(ctx, unseenFriends)...)

	e.writeLock.Lock()
	defer e.writeLock.Unlock()
	return e.writer.ChunkWrite(ctx, graphdb.PopulateFollow, "follows", rows, followChunkSize)
}

// expandSecondDegree fetches, in followFanout parallel chunks, the follow
// lists of each of did's unseen 1st-degree friends and returns the
// resulting edges rooted at each friend (friend -> friend-of-friend), which
// is what gives the graph real 2-hop FOLLOWS paths for the 2nd-degree
// ranking lenses to walk.
func (e *Engine) expandSecondDegree(ctx context.Context, friends []string) []graphdb.Row {
	if len(friends) == 0 {
		return nil
	}

	chunks := chunkStrings(friends, followFanout)

	var mu sync.Mutex
	var rows []graphdb.Row
	var wg sync.WaitGroup

	for _, chunk := range chunks {
		chunk := chunk
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, friend := range chunk {
				fctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				edges, err := e.follower.ListFollows(fctx, friend)
				cancel()
				if err != nil {
					if !errors.Is(err, ErrRecordNotFound) {
						e.log.Warn("2nd degree follow fetch failed", "did", friend, "error", err)
						// unmark so a later backfill retries this friend
						e.mu.Lock()
						delete(e.seen, friend)
						e.mu.Unlock()
					}
					continue
				}
				mu.Lock()
				for _, edge := range edges {
					rows = append(rows, followRow(edge.Subject, edge.Rkey, friend))
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return rows
}

func (e *Engine) backfillBlocks(ctx context.Context, did string) error {
	blocks, err := e.follower.ListBlocks(ctx, did)
	if errors.Is(err, ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		return nil
	}

	rows := make([]graphdb.Row, len(blocks))
	for i, b := range blocks {
		rows[i] = graphdb.Row{"blockee": b.Subject, "did": did, "rkey": b.Rkey}
	}

	e.writeLock.RLock()
	defer e.writeLock.RUnlock()
	return e.writer.ChunkWrite(ctx, graphdb.PopulateBlock, "blocks", rows, blockChunkSize)
}

func followRow(out, rkey, did string) graphdb.Row {
	return graphdb.Row{"out": out, "rkey": rkey, "did": did}
}

func chunkStrings(items []string, fanout int) [][]string {
	if len(items) < fanout {
		chunks := make([][]string, len(items))
		for i, it := range items {
			chunks[i] = []string{it}
		}
		return chunks
	}

	size := len(items) / fanout
	if size == 0 {
		size = 1
	}
	var chunks [][]string
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		chunks = append(chunks, items[i:end])
	}
	return chunks
}
