package at

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyCollection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		collection string
		expected   EventType
	}{
		{CollectionPost, EventPost},
		{CollectionRepost, EventRepost},
		{CollectionLike, EventLike},
		{CollectionFollow, EventFollow},
		{CollectionBlock, EventBlock},
		{"app.bsky.actor.profile", EventUnknown},
		{"", EventUnknown},
	}

	for _, tt := range tests {
		require.Equal(t, tt.expected, ClassifyCollection(tt.collection), tt.collection)
	}
}

func TestEventTypeString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "post", EventPost.String())
	require.Equal(t, "reply", EventReply.String())
	require.Equal(t, "unknown", EventType(99).String())
}
