package processor

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/aegis-proto/aegis/internal/graphdb"
)

type fakeWriter struct {
	mu    sync.Mutex
	calls [][]graphdb.Statement
}

func (f *fakeWriter) WriteStatements(ctx context.Context, stmts []graphdb.Statement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]graphdb.Statement, len(stmts))
	copy(cp, stmts)
	f.calls = append(f.calls, cp)
	return nil
}

func (f *fakeWriter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestProcessor(w Writer) *Processor {
	return New(slog.Default(), noop.NewTracerProvider().Tracer("test"), w)
}

func TestAddPost_QueuesBelowLimit(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProcessor(w)

	for i := 0; i < QLimit-1; i++ {
		p.AddPost(context.Background(), "did:plc:a", "rkey", 100, false, "text", nil)
	}

	require.Len(t, p.postQueue, QLimit-1)
	require.Equal(t, 0, w.callCount())
}

func TestAddPost_FlushesAtQLimit(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProcessor(w)

	var tok Token
	for i := 0; i < QLimit; i++ {
		tok = p.AddPost(context.Background(), "did:plc:a", "rkey", 100, false, "text", tok)
	}

	require.Empty(t, p.postQueue)
	// below TxQLen, so it's inserted into the pending transaction, not
	// flushed to the writer yet.
	require.Equal(t, 0, w.callCount())
	require.Len(t, p.pending, 1)
}

func TestEnqueueQuery_FlushesAtTxQLen(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProcessor(w)

	ctx := context.Background()
	var tok Token
	for i := 0; i <= TxQLen; i++ {
		rows := []graphdb.Row{{"did": "did:plc:a", "rkey": "r"}}
		tok = p.enqueueQuery(ctx, graphdb.AddPost, "posts", rows, tok)
	}

	require.NotNil(t, tok)
	select {
	case <-tok:
	case <-time.After(time.Second):
		t.Fatal("token never closed")
	}

	require.Equal(t, 1, w.callCount())
}

func TestEnqueueQuery_TokenChainOrdersCommits(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProcessor(w)
	ctx := context.Background()

	// fill the pending queue past TxQLen to trigger the first flush.
	var tok Token
	for i := 0; i <= TxQLen; i++ {
		tok = p.enqueueQuery(ctx, graphdb.AddPost, "posts", []graphdb.Row{{"did": "a"}}, tok)
	}
	require.NotNil(t, tok)

	// trigger a second flush immediately, chained off the first token.
	p.txMu.Lock()
	p.pending = make([]pendingStatement, TxQLen+1)
	p.txMu.Unlock()

	tok2 := p.enqueueQuery(ctx, graphdb.AddPost, "posts", []graphdb.Row{{"did": "b"}}, tok)
	require.NotNil(t, tok2)

	select {
	case <-tok2:
	case <-time.After(time.Second):
		t.Fatal("second token never closed")
	}

	require.Equal(t, 2, w.callCount())
}

func TestRmPost_UsesRemoveQuery(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProcessor(w)

	for i := 0; i < QLimit; i++ {
		p.RmPost(context.Background(), "did:plc:a", "rkey", nil)
	}

	require.Len(t, p.pending, 1)
	require.Equal(t, graphdb.RemovePost, p.pending[0].query)
}
