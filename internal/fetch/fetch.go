// Package fetch implements the personalized post ranking fetch path (C8):
// given a DID, it fans five ranking lenses out against the graph database in
// parallel, merges and dedups the results by URI, and paginates a caller
// through the backlog with a per-DID overflow cache so a burst of requests
// for the same user doesn't re-run the same five queries.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/aegis-proto/aegis/internal/graphdb"
)

// EmptyDIDCursor is returned as the cursor when the caller supplied no DID,
// mirroring the source's sentinel so clients can distinguish "no session"
// from "no more posts".
const EmptyDIDCursor = "EMPTY_DID"

// maxBatch is the number of posts a single response carries at most; any
// overflow beyond it is cached for the DID's next request.
const maxBatch = 30

// prefetchFloor is the cached-overflow size at which Fetch skips the ranking
// lenses; below it the lenses run once per Fetch. It's deliberately above
// maxBatch to leave pagination room.
const prefetchFloor = 40

// cacheStaleness is how long a cached overflow is trusted before it's
// discarded in favor of a fresh fetch.
const cacheStaleness = 5 * time.Minute

// Post is a single ranked post result.
type Post struct {
	URI       string
	Reason    string
	Timestamp int64
}

// Response is what a fetch request resolves to.
type Response struct {
	Posts  []Post
	Cursor string
}

// Reader is the subset of GraphDB the coordinator depends on, so tests can
// supply a fake without a live database.
type Reader interface {
	BatchRead(ctx context.Context, queries []graphdb.NamedQuery) (map[string]graphdb.RowSet, error)
}

// lens names a single ranking query and the reason tag attached to its
// results.
type lens struct {
	reason string
	query  string
}

var lenses = []lens{
	{"2ND_DEG_LIKES", graphdb.GetBest2ndDegLikes},
	{"2ND_DEG_REPOSTS", graphdb.GetBest2ndDegReposts},
	{"FPLUS_LIKES", graphdb.GetFollowingPlusLikes},
	{"FPLUS_REPOSTS", graphdb.GetFollowingPlusReposts},
	{"BEST_FOLLOWING", graphdb.GetBestFollowed},
}

// Coordinator serves fetch requests. It holds a small per-DID cache of
// overflow posts so pagination doesn't re-run the ranking lenses every call.
type Coordinator struct {
	log        *slog.Logger
	tracer     trace.Tracer
	reader     Reader
	isInFlight func(did string) bool

	mu    sync.Mutex
	cache map[string][]Post
}

// New builds a Coordinator. isInFlight, if non-nil, is consulted on every
// request to detect a DID whose first-contact backfill (C9) is still
// running; callers typically pass a backfill Engine's IsInFlight method. A
// nil isInFlight treats every DID as never in flight.
func New(log *slog.Logger, tracer trace.Tracer, reader Reader, isInFlight func(did string) bool) *Coordinator {
	return &Coordinator{
		log:        log.With(slog.String("component", "fetch")),
		tracer:     tracer,
		reader:     reader,
		isInFlight: isInFlight,
		cache:      make(map[string][]Post),
	}
}

// sentinelResponse is returned for an empty DID and for a DID whose backfill
// is still in flight, mirroring the source's "nothing to rank yet" reply.
func sentinelResponse() *Response {
	return &Response{
		Posts:  []Post{{}},
		Cursor: EmptyDIDCursor,
	}
}

// Fetch resolves one personalized feed request for did, starting from
// cursor (a microsecond timestamp string, or "" to start from now). A failed
// ranking query fails the whole request.
func (c *Coordinator) Fetch(ctx context.Context, did, cursor string) (*Response, error) {
	if did == "" {
		c.log.Warn("fetch request with empty did")
		return sentinelResponse(), nil
	}

	if c.isInFlight != nil && c.isInFlight(did) {
		c.log.Info("backfill in flight, returning sentinel", "did", did)
		return sentinelResponse(), nil
	}

	ctx, span := c.tracer.Start(ctx, "fetch.Fetch")
	defer span.End()

	resVec, cursor := c.takeCached(did, cursor)

	calledOnce := false
	for len(resVec) < prefetchFloor && !calledOnce {
		posts, err := c.fetchLenses(ctx, did, cursor)
		if err != nil {
			return nil, fmt.Errorf("fetch ranking lenses for %s: %w", did, err)
		}
		if len(posts) == 0 {
			c.log.Info("reached the end of the backlog", "did", did)
			break
		}

		resVec = append(resVec, posts...)
		calledOnce = true
	}

	if len(resVec) == 0 {
		return &Response{Posts: nil, Cursor: ""}, nil
	}

	if len(resVec) > maxBatch {
		leftover := append([]Post(nil), resVec[maxBatch:]...)
		resVec = resVec[:maxBatch]

		c.mu.Lock()
		c.cache[did] = leftover
		c.mu.Unlock()
	}

	sort.Slice(resVec, func(i, j int) bool {
		if resVec[i].Timestamp != resVec[j].Timestamp {
			return resVec[i].Timestamp > resVec[j].Timestamp
		}
		if resVec[i].URI != resVec[j].URI {
			return resVec[i].URI < resVec[j].URI
		}
		return resVec[i].Reason < resVec[j].Reason
	})
	cursor = strconv.FormatInt(resVec[len(resVec)-1].Timestamp, 10)

	return &Response{Posts: resVec, Cursor: cursor}, nil
}

// takeCached returns any cached overflow for did plus the cursor to resume
// from, evicting the cache entry if it's gone stale.
func (c *Coordinator) takeCached(did, cursor string) ([]Post, string) {
	c.mu.Lock()
	cached, ok := c.cache[did]
	if ok {
		delete(c.cache, did)
	}
	c.mu.Unlock()

	if !ok || len(cached) == 0 {
		if cursor == "" {
			cursor = strconv.FormatInt(time.Now().UnixMicro(), 10)
		}
		return nil, cursor
	}

	last := cached[len(cached)-1].Timestamp
	if time.Now().UnixMicro()-last > cacheStaleness.Microseconds() {
		if cursor == "" {
			cursor = strconv.FormatInt(time.Now().UnixMicro(), 10)
		}
		return nil, cursor
	}
	return cached, strconv.FormatInt(last, 10)
}

// fetchLenses fans all five ranking queries out in parallel and merges their
// rows into a deduplicated (by URI) post list. Later lenses in the list win
// ties, matching the source's last-write-wins map insertion.
func (c *Coordinator) fetchLenses(ctx context.Context, did, cursor string) ([]Post, error) {
	queries := make([]graphdb.NamedQuery, len(lenses))
	for i, l := range lenses {
		queries[i] = graphdb.NamedQuery{
			Name:   l.reason,
			Query:  substituteCursor(l.query, cursor),
			Params: map[string]any{"did": did},
		}
	}

	results, err := c.reader.BatchRead(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("batch read ranking lenses: %w", err)
	}

	byURI := make(map[string]Post)
	for _, l := range lenses {
		for _, row := range results[l.reason] {
			user, _ := row["user"].(string)
			rkey, _ := row["url"].(string)
			ts, _ := toInt64(row["ts"])
			uri := postURI(user, rkey)
			byURI[uri] = Post{URI: uri, Reason: l.reason, Timestamp: ts}
		}
	}

	out := make([]Post, 0, len(byURI))
	for _, p := range byURI {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

func substituteCursor(query, cursor string) string {
	out := make([]byte, 0, len(query))
	for i := 0; i < len(query); i++ {
		if query[i] == '{' && i+1 < len(query) && query[i+1] == '}' {
			out = append(out, cursor...)
			i++
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

func postURI(did, rkey string) string {
	return fmt.Sprintf("at://%s/app.bsky.feed.post/%s", did, rkey)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
