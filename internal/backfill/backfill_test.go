package backfill

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/aegis-proto/aegis/internal/graphdb"
	"github.com/aegis-proto/aegis/internal/testutil"
)

type fakeFollower struct {
	mu      sync.Mutex
	follows map[string][]Edge
	blocks  map[string][]Edge
	calls   map[string]int
}

func newFakeFollower() *fakeFollower {
	return &fakeFollower{
		follows: make(map[string][]Edge),
		blocks:  make(map[string][]Edge),
		calls:   make(map[string]int),
	}
}

func (f *fakeFollower) ListFollows(_ context.Context, did string) ([]Edge, error) {
	f.mu.Lock()
	f.calls[did]++
	f.mu.Unlock()
	if edges, ok := f.follows[did]; ok {
		return edges, nil
	}
	return nil, ErrRecordNotFound
}

func (f *fakeFollower) ListBlocks(_ context.Context, did string) ([]Edge, error) {
	if edges, ok := f.blocks[did]; ok {
		return edges, nil
	}
	return nil, ErrRecordNotFound
}

type fakeWriter struct {
	mu    sync.Mutex
	calls []struct {
		query string
		rows  []graphdb.Row
	}
}

func (f *fakeWriter) ChunkWrite(_ context.Context, query, _ string, rows []graphdb.Row, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, struct {
		query string
		rows  []graphdb.Row
	}{query, rows})
	return nil
}

func newEngine(follower Follower, writer Writer) *Engine {
	return New(slog.Default(), noop.NewTracerProvider().Tracer("test"), follower, writer)
}

func TestBackfill_WritesFirstDegreeFollows(t *testing.T) {
	follower := newFakeFollower()
	follower.follows["did:plc:me"] = []Edge{{Subject: "did:plc:friend", Rkey: "r1"}}

	writer := &fakeWriter{}
	e := newEngine(follower, writer)

	err := e.Backfill(context.Background(), "did:plc:me")
	require.NoError(t, err)

	require.Len(t, writer.calls, 1)
	require.Equal(t, graphdb.PopulateFollow, writer.calls[0].query)
	require.Equal(t, []graphdb.Row{{"out": "did:plc:friend", "rkey": "r1", "did": "did:plc:me"}}, writer.calls[0].rows)
}

func TestBackfill_ExpandsSecondDegreeRootedAtFriend(t *testing.T) {
	follower := newFakeFollower()
	follower.follows["did:plc:me"] = []Edge{{Subject: "did:plc:friend", Rkey: "r1"}}
	follower.follows["did:plc:friend"] = []Edge{{Subject: "did:plc:fof", Rkey: "r2"}}

	writer := &fakeWriter{}
	e := newEngine(follower, writer)

	err := e.Backfill(context.Background(), "did:plc:me")
	require.NoError(t, err)

	require.Len(t, writer.calls, 1)
	rows := writer.calls[0].rows
	require.Contains(t, rows, graphdb.Row{"out": "did:plc:friend", "rkey": "r1", "did": "did:plc:me"})
	require.Contains(t, rows, graphdb.Row{"out": "did:plc:fof", "rkey": "r2", "did": "did:plc:friend"})
}

func TestBackfill_RecordNotFoundIsNotAnError(t *testing.T) {
	follower := newFakeFollower()
	writer := &fakeWriter{}
	e := newEngine(follower, writer)

	err := e.Backfill(context.Background(), "did:plc:ghost")
	require.NoError(t, err)
	require.Empty(t, writer.calls)
}

func TestBackfill_BlocksOnlyFetchedOncePerDID(t *testing.T) {
	follower := newFakeFollower()
	follower.blocks["did:plc:me"] = []Edge{{Subject: "did:plc:blocked", Rkey: "r1"}}
	writer := &fakeWriter{}
	e := newEngine(follower, writer)

	require.NoError(t, e.Backfill(context.Background(), "did:plc:me"))
	require.NoError(t, e.Backfill(context.Background(), "did:plc:me"))

	var blockWrites int
	for _, c := range writer.calls {
		if c.query == graphdb.PopulateBlock {
			blockWrites++
		}
	}
	require.Equal(t, 1, blockWrites)
}

func TestBackfill_SameFriendNotExpandedTwiceAcrossCalls(t *testing.T) {
	follower := newFakeFollower()
	follower.follows["did:plc:a"] = []Edge{{Subject: "did:plc:shared", Rkey: "r1"}}
	follower.follows["did:plc:b"] = []Edge{{Subject: "did:plc:shared", Rkey: "r2"}}
	follower.follows["did:plc:shared"] = []Edge{{Subject: "did:plc:x", Rkey: "r3"}}

	writer := &fakeWriter{}
	e := newEngine(follower, writer)

	require.NoError(t, e.Backfill(context.Background(), "did:plc:a"))
	require.NoError(t, e.Backfill(context.Background(), "did:plc:b"))

	require.Equal(t, 1, follower.calls["did:plc:shared"])
}

func TestClaimInFlight_SecondClaimFails(t *testing.T) {
	e := newEngine(newFakeFollower(), &fakeWriter{})
	require.True(t, e.claimInFlight("did:plc:a"))
	require.False(t, e.claimInFlight("did:plc:a"))
	e.releaseInFlight("did:plc:a")
	require.True(t, e.claimInFlight("did:plc:a"))
}

func TestIsInFlight_ReflectsClaimAndRelease(t *testing.T) {
	e := newEngine(newFakeFollower(), &fakeWriter{})
	require.False(t, e.IsInFlight("did:plc:a"))
	require.True(t, e.claimInFlight("did:plc:a"))
	require.True(t, e.IsInFlight("did:plc:a"))
	e.releaseInFlight("did:plc:a")
	require.False(t, e.IsInFlight("did:plc:a"))
}

func TestChunkStrings_SmallInputOneItemPerChunk(t *testing.T) {
	chunks := chunkStrings([]string{"a", "b", "c"}, 24)
	require.Len(t, chunks, 3)
}

func TestChunkStrings_LargeInputFansOutByFanout(t *testing.T) {
	items := make([]string, 48)
	for i := range items {
		items[i] = "did:plc:" + testutil.RandString(24)
	}
	chunks := chunkStrings(items, 24)
	require.LessOrEqual(t, len(chunks), 24)
}
