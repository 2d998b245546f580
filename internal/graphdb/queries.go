package graphdb

// Mutation queries (C6). Every one of these is UNWIND-batched: the caller
// supplies a plural parameter name holding a slice of per-row maps, matching
// the field names referenced below.
const (
	AddFollow = `
UNWIND $follows as follow
MERGE (u:User {did: follow.did})
MERGE (v:User {did: follow.out})
CREATE (u)-[r:FOLLOWS {rkey: follow.rkey }]->(v)
`

	// PopulateFollow is AddFollow's backfill counterpart: it marks the
	// following user (follow.did) as tracked and merges (rather than creates) the edge, since
	// backfill may observe the same follow more than once.
	PopulateFollow = `
UNWIND $follows as follow
MERGE (u:User {did: follow.did})
    SET u.tracked = true
MERGE (v:User {did: follow.out})
MERGE (u)-[r:FOLLOWS { rkey: follow.rkey }]->(v)
`

	AddBlock = `
UNWIND $blocks as block
MERGE (u:User {did: block.did})
MERGE (v:User {did: block.blockee})
CREATE (u)-[r:BLOCKED {rkey: block.rkey }]->(v)
`

	PopulateBlock = `
UNWIND $blocks as block
MERGE (u:User {did: block.did})
MERGE (v:User {did: block.blockee})
MERGE (u)-[r:BLOCKED {rkey: block.rkey }]->(v)
`

	AddLike = `
UNWIND $likes as like
MATCH (p:Post) WHERE p.rkey = like.rkey_parent
SET p.likes = p.likes + 1
MERGE (u:User {did: like.did})
CREATE (u)-[r:LIKES {rkey: like.rkey }]->(p)
`

	AddPost = `
UNWIND $posts as post
MERGE (u:User {did: post.did})
CREATE (u)-[:POSTED]->(p: Post { timestamp: post.timestamp, rkey: post.rkey, isReply: post.is_reply , likes: 0, reposts: 0} )
`

	AddRepost = `
UNWIND $reposts as repost
MATCH (p:Post) WHERE p.rkey = repost.rkey_parent
SET p.reposts = p.reposts + 1
MERGE (u:User {did: repost.did})
CREATE (u)-[r:REPOSTED {rkey: repost.rkey}]->(p)
`

	AddReply = `
UNWIND $replies as reply
MATCH (p:Post) WHERE p.rkey = reply.parent
MERGE (u:User {did: reply.did})
CREATE (u)-[r:REPLIED_TO {rkey: reply.rkey }]->(p)
`

	RemoveLike = `
UNWIND $likes as like
MATCH (:User {did: like.did})-[r:LIKES {rkey: like.rkey }]->(p:Post)
SET p.likes = p.likes - 1
DELETE r
`

	RemoveFollow = `
UNWIND $follows as follow
MATCH (:User {did: follow.did})-[r:FOLLOWS {rkey: follow.rkey}]->(:User)
DELETE r
`

	RemoveBlock = `
UNWIND $blocks as block
MATCH (:User {did: block.did})-[r:BLOCKED  {rkey: block.rkey} ]->(:User)
DELETE r
`

	RemovePost = `
UNWIND $posts as post
MATCH (:User {did: post.did})-[r:POSTED ]->(p:Post {rkey: post.rkey})
DETACH DELETE p
`

	// RemoveReply carries its original "is_reply == y" guard verbatim: a
	// reply edge is only torn down if the target post is still marked as a
	// reply, which is how the source handles the case where a post's own
	// delete event raced ahead of its reply edge's.
	RemoveReply = `
UNWIND $replies as reply
MATCH (:User {did: reply.did})-[r:REPLIED_TO {rkey: reply.rkey }]->(p:Post)
with p, r where p.is_reply == "y"
DELETE r
`

	// RemoveRepost decrements the parent post's repost counter. Per-post
	// counters are approximate; see SPEC_FULL.md.
	RemoveRepost = `
UNWIND $reposts as repost
MATCH (:User {did: repost.did})-[r:REPOSTED {rkey: repost.rkey }]->(p:Post)
SET p.reposts = p.reposts - 1
DELETE r
`
)

// Retention queries (C10).
const (
	PurgeOldPosts = `
MATCH (p:Post) WHERE toInteger(p.timestamp) < (timestamp() - 7200000000) DETACH DELETE p
`

	PurgeDisconnected = `
MATCH (p:User)-[f:FOLLOWS]->(:User) WHERE p.tracked IS NULL DETACH DELETE f
`

	PurgeNoFollowers = `
OPTIONAL MATCH (:User)-[r:FOLLOWS]->(u:User) WITH u, count(r) as followers WHERE followers = 0 DETACH DELETE u
`
)

// Fetch ranking queries (C8). Each is a template: the caller substitutes the
// cursor placeholder "{}" with a microsecond timestamp before binding $did.
const (
	GetFollowingPlusLikes = `
MATCH (og:User {did: $did})-[:FOLLOWS]->(:User)-[:FOLLOWS]->(u:User)-[:POSTED]->(p:Post)
WITH u,p,og
WITH og, u, p AS post
OPTIONAL MATCH (og)-[b:BLOCKED]->(u)
with u,b, post, CASE WHEN b IS NULL
  THEN post ELSE NULL END as p
WHERE p IS NOT NULL AND p.likes >= 100
WITH p, u, toInteger(p.timestamp) AS ts
WHERE ts < {}
RETURN u.did AS user, p.rkey AS url, ts ORDER BY ts DESC LIMIT 200
`

	GetFollowingPlusReposts = `
MATCH (og:User {did: $did})-[:FOLLOWS]->(:User)-[:FOLLOWS]->(u:User)-[:POSTED]->(p:Post)
WITH u,p,og
WITH og, u, p AS post
OPTIONAL MATCH (og)-[b:BLOCKED]->(u)
WITH u,b, post, CASE WHEN b IS NULL
  THEN post ELSE NULL END as p
WHERE p IS NOT NULL AND p.reposts >= 80
WITH p, u, toInteger(p.timestamp) AS ts
WHERE ts < {}
RETURN u.did AS user, p.rkey AS url, ts ORDER BY ts DESC LIMIT 200
`

	GetBest2ndDegReposts = `
MATCH (og:User {did: $did})-[:FOLLOWS]->(:User)-[:FOLLOWS]->(u:User)-[:REPOSTED]->(p:Post)
WITH p,og
WHERE p.likes >= 125
MATCH (p)<-[a:POSTED]-(u:User)
WITH DISTINCT p, a, u, og
OPTIONAL MATCH (og)-[b:BLOCKED]->(u)
WITH u, b, p, toInteger(p.timestamp) AS ts, CASE WHEN b IS NULL
  THEN p ELSE NULL END as post
WHERE post IS NOT NULL AND ts < {}
RETURN u.did AS user, p.rkey AS url, ts ORDER BY ts DESC LIMIT 200
`

	GetBest2ndDegLikes = `
MATCH (og:User {did: $did})-[:FOLLOWS]->(:User)-[:FOLLOWS]->(:User)-[:LIKES]->(p:Post)
WITH p,og
WHERE p.likes >= 125
MATCH (p)<-[a:POSTED]-(u:User)
WITH DISTINCT p, a, u, og
OPTIONAL MATCH (og)-[b:BLOCKED]->(u)
WITH u, b, p, toInteger(p.timestamp) AS ts,  CASE WHEN b IS NULL
  THEN p ELSE NULL END as post
WHERE post IS NOT NULL AND ts < {}
RETURN u.did AS user, p.rkey AS url, ts ORDER BY ts DESC LIMIT 200
`

	// GetBestFollowed covers the fifth ranking lens: recent, high-signal
	// posts from 1st-degree follows. "Recent" is a 2 minute window trailing
	// the cursor (120000000 microseconds); "high-signal" reuses the
	// engagement floor, just lower than the 2nd-degree lenses since a
	// direct follow's posts need less engagement to be worth surfacing.
	GetBestFollowed = `
MATCH (og:User {did: $did})-[:FOLLOWS]->(u:User)-[:POSTED]->(p:Post)
WITH u,p,og
WHERE p.likes >= 20 OR p.reposts >= 15
OPTIONAL MATCH (og)-[b:BLOCKED]->(u)
WITH u, b, p, toInteger(p.timestamp) AS ts, CASE WHEN b IS NULL
  THEN p ELSE NULL END as post
WHERE post IS NOT NULL AND ts < {} AND ts > ({} - 120000000)
RETURN u.did AS user, p.rkey AS url, ts ORDER BY ts DESC LIMIT 200
`
)

const (
	indexUserDID  = `CREATE INDEX ON :User(did)`
	indexPostRkey = `CREATE INDEX ON :Post(rkey)`
)
