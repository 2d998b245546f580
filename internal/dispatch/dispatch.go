// Package dispatch classifies each decoded EventRecord by (operation,
// collection) and invokes exactly one processor operation per accepted
// event, threading the commit token through (C4).
package dispatch

import (
	"context"
	"time"

	"github.com/aegis-proto/aegis/internal/at"
	"github.com/aegis-proto/aegis/internal/codec"
	"github.com/aegis-proto/aegis/internal/filter"
	"github.com/aegis-proto/aegis/internal/processor"
)

// Ops is the subset of *processor.Processor's methods dispatch needs,
// named here so tests can supply a fake and assert on call order.
type Ops interface {
	AddReply(ctx context.Context, did, rkey, parent string, prevToken processor.Token) processor.Token
	AddPost(ctx context.Context, did, rkey string, timestamp int64, isReply bool, postType string, prevToken processor.Token) processor.Token
	AddRepost(ctx context.Context, did, rkeyParent, rkey string, prevToken processor.Token) processor.Token
	AddFollow(ctx context.Context, did, out, rkey string, prevToken processor.Token) processor.Token
	AddBlock(ctx context.Context, blockee, did, rkey string, prevToken processor.Token) processor.Token
	AddLike(ctx context.Context, did, rkeyParent, rkey string, prevToken processor.Token) processor.Token

	RmPost(ctx context.Context, did, rkey string, prevToken processor.Token) processor.Token
	RmRepost(ctx context.Context, did, rkey string, prevToken processor.Token) processor.Token
	RmFollow(ctx context.Context, did, rkey string, prevToken processor.Token) processor.Token
	RmLike(ctx context.Context, did, rkey string, prevToken processor.Token) processor.Token
	RmBlock(ctx context.Context, did, rkey string, prevToken processor.Token) processor.Token
	RmReply(ctx context.Context, did, rkey string, prevToken processor.Token) processor.Token
}

// Dispatcher pairs the filter chain with the processor operations it feeds.
type Dispatcher struct {
	filters *filter.Chain
	ops     Ops
}

func New(filters *filter.Chain, ops Ops) *Dispatcher {
	return &Dispatcher{filters: filters, ops: ops}
}

// Dispatch classifies rec, runs the filter chain, and invokes exactly one
// processor operation for an accepted create/delete event. It returns the
// ingest drift in milliseconds and the token to thread into the next
// dispatch call. Unrecognised collections, update operations, and
// filtered-out events return (0, token) unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *codec.EventRecord, nowUs int64, prevToken processor.Token) (driftMs int64, nextToken processor.Token) {
	driftMs = (nowUs - rec.TimeUs) / 1000

	if rec.Commit == nil {
		return driftMs, prevToken
	}

	typ := at.ClassifyCollection(rec.Commit.Collection)

	if !d.filters.Allow(typ, rec) {
		return 0, prevToken
	}
	if typ == at.EventUnknown {
		return 0, prevToken
	}

	switch rec.Commit.Operation {
	case codec.OpCreate:
		return driftMs, d.dispatchCreate(ctx, rec, typ, prevToken)
	case codec.OpDelete:
		return driftMs, d.dispatchDelete(ctx, rec, typ, prevToken)
	default:
		return 0, prevToken
	}
}

func (d *Dispatcher) dispatchCreate(ctx context.Context, rec *codec.EventRecord, typ at.EventType, token processor.Token) processor.Token {
	commit := rec.Commit
	rkey := commit.Rkey

	switch typ {
	case at.EventPost:
		isReply := false
		postType := "text"
		if commit.Record != nil {
			if len(commit.Record.Images) > 0 || (commit.Record.Embed != nil && len(commit.Record.Embed.Images) > 0) {
				postType = "image"
			}
			if commit.Record.Reply != nil {
				parentRkey := at.ExtractRkey(commit.Record.Reply.Parent.URI)
				token = d.ops.AddReply(ctx, rec.DID, rkey, parentRkey, token)
				isReply = true
			}
		}
		timestamp := parseTimestamp(commit, rec.TimeUs)
		return d.ops.AddPost(ctx, rec.DID, rkey, timestamp, isReply, postType, token)

	case at.EventRepost:
		rkeyParent := subjectRkey(commit)
		if rkeyParent == "" {
			return token
		}
		return d.ops.AddRepost(ctx, rec.DID, rkeyParent, rkey, token)

	case at.EventLike:
		rkeyParent := subjectRkey(commit)
		if rkeyParent == "" {
			return token
		}
		return d.ops.AddLike(ctx, rec.DID, rkeyParent, rkey, token)

	case at.EventFollow:
		out := subjectDID(commit)
		if out == "" {
			return token
		}
		return d.ops.AddFollow(ctx, rec.DID, out, rkey, token)

	case at.EventBlock:
		blockee := subjectDID(commit)
		if blockee == "" {
			return token
		}
		return d.ops.AddBlock(ctx, blockee, rec.DID, rkey, token)

	default:
		return token
	}
}

func (d *Dispatcher) dispatchDelete(ctx context.Context, rec *codec.EventRecord, typ at.EventType, token processor.Token) processor.Token {
	commit := rec.Commit
	rkey := commit.Rkey

	switch typ {
	case at.EventPost:
		return d.ops.RmPost(ctx, rec.DID, rkey, token)
	case at.EventRepost:
		return d.ops.RmRepost(ctx, rec.DID, rkey, token)
	case at.EventLike:
		return d.ops.RmLike(ctx, rec.DID, rkey, token)
	case at.EventFollow:
		return d.ops.RmFollow(ctx, rec.DID, rkey, token)
	case at.EventBlock:
		return d.ops.RmBlock(ctx, rec.DID, rkey, token)
	default:
		return token
	}
}

// subjectDID extracts a bare-DID subject (follow/block records).
func subjectDID(commit *codec.Commit) string {
	if commit.Record == nil || commit.Record.Subject == nil {
		return ""
	}
	return commit.Record.Subject.DID
}

// subjectRkey extracts the rkey of a {uri,cid} subject (like/repost records).
func subjectRkey(commit *codec.Commit) string {
	if commit.Record == nil || commit.Record.Subject == nil {
		return ""
	}
	return at.ExtractRkey(commit.Record.Subject.URI)
}

func parseTimestamp(commit *codec.Commit, fallbackUs int64) int64 {
	if commit.Record != nil && commit.Record.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, commit.Record.CreatedAt); err == nil {
			return t.UnixMicro()
		}
	}
	return fallbackUs
}
