package processor

import (
	"context"
	"strconv"

	"github.com/aegis-proto/aegis/internal/graphdb"
)

// AddReply queues a REPLIED_TO edge. Dispatch must call this before AddPost
// for the same event when the post carries a reply field, and must thread
// its returned token into that AddPost call.
func (p *Processor) AddReply(ctx context.Context, did, rkey, parent string, prevToken Token) Token {
	row := graphdb.Row{"did": did, "rkey": rkey, "parent": parent}
	return p.pushUpsert(ctx, "reply", graphdb.AddReply, &p.replyQueue, row, prevToken)
}

// AddPost queues a POSTED edge and Post node. isReply and postType are
// carried as row fields for downstream classification even where the
// current query text doesn't reference postType.
func (p *Processor) AddPost(ctx context.Context, did, rkey string, timestamp int64, isReply bool, postType string, prevToken Token) Token {
	isReplyFlag := "n"
	if isReply {
		isReplyFlag = "y"
	}
	row := graphdb.Row{
		"did":       did,
		"rkey":      rkey,
		"is_reply":  isReplyFlag,
		"post_type": postType,
		"timestamp": strconv.FormatInt(timestamp, 10),
	}
	return p.pushUpsert(ctx, "post", graphdb.AddPost, &p.postQueue, row, prevToken)
}

// AddRepost queues a REPOSTED edge and increments the parent post's repost
// counter.
func (p *Processor) AddRepost(ctx context.Context, did, rkeyParent, rkey string, prevToken Token) Token {
	row := graphdb.Row{"did": did, "rkey": rkey, "rkey_parent": rkeyParent}
	return p.pushUpsert(ctx, "repost", graphdb.AddRepost, &p.repostQueue, row, prevToken)
}

// AddFollow queues a FOLLOWS edge. out is the followed DID.
func (p *Processor) AddFollow(ctx context.Context, did, out, rkey string, prevToken Token) Token {
	row := graphdb.Row{"did": did, "out": out, "rkey": rkey}
	return p.pushUpsert(ctx, "follow", graphdb.AddFollow, &p.followQueue, row, prevToken)
}

// AddBlock queues a BLOCKED edge. blockee is the blocked DID.
func (p *Processor) AddBlock(ctx context.Context, blockee, did, rkey string, prevToken Token) Token {
	row := graphdb.Row{"did": did, "blockee": blockee, "rkey": rkey}
	return p.pushUpsert(ctx, "block", graphdb.AddBlock, &p.blockQueue, row, prevToken)
}

// AddLike queues a LIKES edge and increments the parent post's like counter.
func (p *Processor) AddLike(ctx context.Context, did, rkeyParent, rkey string, prevToken Token) Token {
	row := graphdb.Row{"did": did, "rkey": rkey, "rkey_parent": rkeyParent}
	return p.pushUpsert(ctx, "like", graphdb.AddLike, &p.likeQueue, row, prevToken)
}

// RmPost queues removal of a Post node and its POSTED edge.
func (p *Processor) RmPost(ctx context.Context, did, rkey string, prevToken Token) Token {
	row := graphdb.Row{"did": did, "rkey": rkey}
	return p.pushUpsert(ctx, "post", graphdb.RemovePost, &p.rmPostQueue, row, prevToken)
}

// RmRepost queues removal of a REPOSTED edge.
func (p *Processor) RmRepost(ctx context.Context, did, rkey string, prevToken Token) Token {
	row := graphdb.Row{"did": did, "rkey": rkey}
	return p.pushUpsert(ctx, "repost", graphdb.RemoveRepost, &p.rmRepostQueue, row, prevToken)
}

// RmFollow queues removal of a FOLLOWS edge.
func (p *Processor) RmFollow(ctx context.Context, did, rkey string, prevToken Token) Token {
	row := graphdb.Row{"did": did, "rkey": rkey}
	return p.pushUpsert(ctx, "follow", graphdb.RemoveFollow, &p.rmFollowQueue, row, prevToken)
}

// RmLike queues removal of a LIKES edge.
func (p *Processor) RmLike(ctx context.Context, did, rkey string, prevToken Token) Token {
	row := graphdb.Row{"did": did, "rkey": rkey}
	return p.pushUpsert(ctx, "like", graphdb.RemoveLike, &p.rmLikeQueue, row, prevToken)
}

// RmBlock queues removal of a BLOCKED edge.
func (p *Processor) RmBlock(ctx context.Context, did, rkey string, prevToken Token) Token {
	row := graphdb.Row{"did": did, "rkey": rkey}
	return p.pushUpsert(ctx, "block", graphdb.RemoveBlock, &p.rmBlockQueue, row, prevToken)
}

// RmReply queues removal of a REPLIED_TO edge.
func (p *Processor) RmReply(ctx context.Context, did, rkey string, prevToken Token) Token {
	row := graphdb.Row{"did": did, "rkey": rkey}
	return p.pushUpsert(ctx, "reply", graphdb.RemoveReply, &p.rmReplyQueue, row, prevToken)
}
