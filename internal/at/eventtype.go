package at

// EventType classifies a firehose commit by its collection.
type EventType int

const (
	EventUnknown EventType = iota
	EventPost
	EventRepost
	EventLike
	EventFollow
	EventBlock
	EventReply
	// EventGlobal is never produced by classification; it names the filter
	// bucket that runs before every other bucket (see internal/filter).
	EventGlobal
)

func (t EventType) String() string {
	switch t {
	case EventPost:
		return "post"
	case EventRepost:
		return "repost"
	case EventLike:
		return "like"
	case EventFollow:
		return "follow"
	case EventBlock:
		return "block"
	case EventReply:
		return "reply"
	case EventGlobal:
		return "global"
	default:
		return "unknown"
	}
}

const (
	CollectionPost   = "app.bsky.feed.post"
	CollectionRepost = "app.bsky.feed.repost"
	CollectionLike   = "app.bsky.feed.like"
	CollectionFollow = "app.bsky.graph.follow"
	CollectionBlock  = "app.bsky.graph.block"
)

// ClassifyCollection maps a collection NSID to its base EventType. The
// dispatcher (internal/dispatch) further refines EventPost into EventReply
// when the record carries a reply field; this function never returns
// EventReply or EventGlobal.
func ClassifyCollection(collection string) EventType {
	switch collection {
	case CollectionPost:
		return EventPost
	case CollectionRepost:
		return EventRepost
	case CollectionLike:
		return EventLike
	case CollectionFollow:
		return EventFollow
	case CollectionBlock:
		return EventBlock
	default:
		return EventUnknown
	}
}
