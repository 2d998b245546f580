package filter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegis-proto/aegis/internal/at"
	"github.com/aegis-proto/aegis/internal/codec"
)

func TestChain_GlobalBucketRunsForEveryType(t *testing.T) {
	c := &Chain{buckets: map[at.EventType][]Predicate{
		at.EventGlobal: {func(*codec.EventRecord) bool { return false }},
	}}
	require.False(t, c.Allow(at.EventPost, &codec.EventRecord{}))
	require.False(t, c.Allow(at.EventLike, &codec.EventRecord{}))
}

func TestChain_TypeBucketOnlyAppliesToItsType(t *testing.T) {
	c := &Chain{buckets: map[at.EventType][]Predicate{
		at.EventPost: {func(*codec.EventRecord) bool { return false }},
	}}
	require.False(t, c.Allow(at.EventPost, &codec.EventRecord{}))
	require.True(t, c.Allow(at.EventLike, &codec.EventRecord{}))
}

func TestChain_AllowsWhenNoPredicatesRegistered(t *testing.T) {
	c := &Chain{buckets: map[at.EventType][]Predicate{}}
	require.True(t, c.Allow(at.EventFollow, &codec.EventRecord{}))
}

func TestNewChain_CanonicalBuckets(t *testing.T) {
	c := NewChain(map[string]struct{}{"did:plc:spammer": {}})

	require.False(t, c.Allow(at.EventPost, &codec.EventRecord{DID: "did:plc:spammer"}))
	require.False(t, c.Allow(at.EventRepost, &codec.EventRecord{DID: "did:plc:spammer"}))
	// follow isn't spam-checked in the canonical set
	require.True(t, c.Allow(at.EventFollow, &codec.EventRecord{DID: "did:plc:spammer"}))
}

func TestChain_Add(t *testing.T) {
	c := &Chain{buckets: map[at.EventType][]Predicate{}}
	c.Add(at.EventBlock, func(*codec.EventRecord) bool { return false })
	require.False(t, c.Allow(at.EventBlock, &codec.EventRecord{}))
}
