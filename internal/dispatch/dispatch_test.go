package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegis-proto/aegis/internal/at"
	"github.com/aegis-proto/aegis/internal/codec"
	"github.com/aegis-proto/aegis/internal/filter"
	"github.com/aegis-proto/aegis/internal/processor"
)

func now() int64 { return time.Now().UnixMicro() }

type call struct {
	op  string
	did string
}

type fakeOps struct {
	calls []call
}

func (f *fakeOps) AddReply(ctx context.Context, did, rkey, parent string, prevToken processor.Token) processor.Token {
	f.calls = append(f.calls, call{"add_reply", did})
	return prevToken
}
func (f *fakeOps) AddPost(ctx context.Context, did, rkey string, timestamp int64, isReply bool, postType string, prevToken processor.Token) processor.Token {
	f.calls = append(f.calls, call{"add_post", did})
	return prevToken
}
func (f *fakeOps) AddRepost(ctx context.Context, did, rkeyParent, rkey string, prevToken processor.Token) processor.Token {
	f.calls = append(f.calls, call{"add_repost", did})
	return prevToken
}
func (f *fakeOps) AddFollow(ctx context.Context, did, out, rkey string, prevToken processor.Token) processor.Token {
	f.calls = append(f.calls, call{"add_follow", did})
	return prevToken
}
func (f *fakeOps) AddBlock(ctx context.Context, blockee, did, rkey string, prevToken processor.Token) processor.Token {
	f.calls = append(f.calls, call{"add_block", did})
	return prevToken
}
func (f *fakeOps) AddLike(ctx context.Context, did, rkeyParent, rkey string, prevToken processor.Token) processor.Token {
	f.calls = append(f.calls, call{"add_like", did})
	return prevToken
}
func (f *fakeOps) RmPost(ctx context.Context, did, rkey string, prevToken processor.Token) processor.Token {
	f.calls = append(f.calls, call{"rm_post", did})
	return prevToken
}
func (f *fakeOps) RmRepost(ctx context.Context, did, rkey string, prevToken processor.Token) processor.Token {
	f.calls = append(f.calls, call{"rm_repost", did})
	return prevToken
}
func (f *fakeOps) RmFollow(ctx context.Context, did, rkey string, prevToken processor.Token) processor.Token {
	f.calls = append(f.calls, call{"rm_follow", did})
	return prevToken
}
func (f *fakeOps) RmLike(ctx context.Context, did, rkey string, prevToken processor.Token) processor.Token {
	f.calls = append(f.calls, call{"rm_like", did})
	return prevToken
}
func (f *fakeOps) RmBlock(ctx context.Context, did, rkey string, prevToken processor.Token) processor.Token {
	f.calls = append(f.calls, call{"rm_block", did})
	return prevToken
}
func (f *fakeOps) RmReply(ctx context.Context, did, rkey string, prevToken processor.Token) processor.Token {
	f.calls = append(f.calls, call{"rm_reply", did})
	return prevToken
}

func newDispatcher(ops Ops) *Dispatcher {
	return New(filter.NewChain(nil), ops)
}

func TestDispatch_PlainPostCreate(t *testing.T) {
	ops := &fakeOps{}
	d := newDispatcher(ops)

	ts := now()
	rec := &codec.EventRecord{
		DID:    "did:plc:a",
		TimeUs: ts,
		Commit: &codec.Commit{
			Operation:  codec.OpCreate,
			Collection: at.CollectionPost,
			Rkey:       "abc123",
			Record:     &codec.Record{CreatedAt: ""},
		},
	}

	drift, _ := d.Dispatch(context.Background(), rec, ts+1000, nil)
	require.Equal(t, int64(1), drift) // (ts+1000 - ts)us / 1000 = 1ms
	require.Equal(t, []call{{"add_post", "did:plc:a"}}, ops.calls)
}

func TestDispatch_ReplyPostCallsAddReplyFirst(t *testing.T) {
	ops := &fakeOps{}
	d := newDispatcher(ops)

	rec := &codec.EventRecord{
		DID:    "did:plc:a",
		TimeUs: now(),
		Commit: &codec.Commit{
			Operation:  codec.OpCreate,
			Collection: at.CollectionPost,
			Rkey:       "bbbbbbbbbbbbb",
			Record: &codec.Record{
				Reply: &codec.Reply{
					Parent: codec.RefPost{URI: "at://did:plc:parent/app.bsky.feed.post/pppppppppppp1"},
				},
			},
		},
	}

	_, _ = d.Dispatch(context.Background(), rec, now(), nil)
	require.Equal(t, []call{
		{"add_reply", "did:plc:a"},
		{"add_post", "did:plc:a"},
	}, ops.calls)
}

func TestDispatch_DeleteRoutesByCollection(t *testing.T) {
	ops := &fakeOps{}
	d := newDispatcher(ops)

	rec := &codec.EventRecord{
		DID: "did:plc:a",
		Commit: &codec.Commit{
			Operation:  codec.OpDelete,
			Collection: at.CollectionFollow,
			Rkey:       "r",
		},
	}

	_, _ = d.Dispatch(context.Background(), rec, 0, nil)
	require.Equal(t, []call{{"rm_follow", "did:plc:a"}}, ops.calls)
}

func TestDispatch_UpdateOperationDropped(t *testing.T) {
	ops := &fakeOps{}
	d := newDispatcher(ops)

	rec := &codec.EventRecord{
		DID: "did:plc:a",
		Commit: &codec.Commit{
			Operation:  "update",
			Collection: at.CollectionPost,
			Rkey:       "r",
		},
	}

	drift, tok := d.Dispatch(context.Background(), rec, 0, nil)
	require.Equal(t, int64(0), drift)
	require.Nil(t, tok)
	require.Empty(t, ops.calls)
}

func TestDispatch_UnknownCollectionDropped(t *testing.T) {
	ops := &fakeOps{}
	d := newDispatcher(ops)

	rec := &codec.EventRecord{
		DID: "did:plc:a",
		Commit: &codec.Commit{
			Operation:  codec.OpCreate,
			Collection: "app.bsky.actor.profile",
			Rkey:       "r",
		},
	}

	_, _ = d.Dispatch(context.Background(), rec, 0, nil)
	require.Empty(t, ops.calls)
}

func TestDispatch_NoCommitIsNoop(t *testing.T) {
	ops := &fakeOps{}
	d := newDispatcher(ops)

	rec := &codec.EventRecord{DID: "did:plc:a", TimeUs: 500}
	drift, tok := d.Dispatch(context.Background(), rec, 1500, nil)
	require.Equal(t, int64(1), drift)
	require.Nil(t, tok)
	require.Empty(t, ops.calls)
}

func TestDispatch_SpamDIDFiltered(t *testing.T) {
	spam := map[string]struct{}{"did:plc:xdx2v7gyd5dmfqt7v77gf457": {}}
	ops := &fakeOps{}
	d := New(filter.NewChain(spam), ops)

	rec := &codec.EventRecord{
		DID: "did:plc:xdx2v7gyd5dmfqt7v77gf457",
		Commit: &codec.Commit{
			Operation:  codec.OpCreate,
			Collection: at.CollectionPost,
			Rkey:       "r",
		},
	}

	_, _ = d.Dispatch(context.Background(), rec, 0, nil)
	require.Empty(t, ops.calls)
}
