// Package filter implements the per-event-type predicate chain that runs
// between decode and dispatch: a reserved Global bucket runs first, then
// the event's own bucket, and any false short-circuits the pipeline.
package filter

import (
	"time"

	"github.com/aegis-proto/aegis/internal/at"
	"github.com/aegis-proto/aegis/internal/codec"
	"github.com/aegis-proto/aegis/internal/metrics"
)

// Predicate reports whether an event should continue through the pipeline.
// Predicates must be side-effect-free and safe for concurrent invocation.
type Predicate func(rec *codec.EventRecord) bool

// Chain is a configuration-time mapping from EventType to its ordered
// predicate bucket.
type Chain struct {
	buckets map[at.EventType][]Predicate
}

// NewChain builds the canonical filter configuration: Global=[date],
// Post=[spam], Repost=[spam]. Other buckets are empty. (Earlier revisions
// of this pipeline carried duplicate/overlapping filter sets across its
// buckets; this is the canonical, de-duplicated set.)
func NewChain(spamDIDs map[string]struct{}) *Chain {
	c := &Chain{buckets: make(map[at.EventType][]Predicate)}
	c.buckets[at.EventGlobal] = []Predicate{DateFilter(24 * time.Hour)}
	c.buckets[at.EventPost] = []Predicate{SpamFilter(spamDIDs)}
	c.buckets[at.EventRepost] = []Predicate{SpamFilter(spamDIDs)}
	return c
}

// Add appends a predicate to typ's bucket. Exposed for tests and for callers
// wiring a non-canonical configuration.
func (c *Chain) Add(typ at.EventType, p Predicate) {
	c.buckets[typ] = append(c.buckets[typ], p)
}

// Allow runs the Global bucket, then typ's bucket, short-circuiting on the
// first predicate that returns false.
func (c *Chain) Allow(typ at.EventType, rec *codec.EventRecord) bool {
	for _, p := range c.buckets[at.EventGlobal] {
		if !p(rec) {
			metrics.FilterDrops.WithLabelValues(typ.String()).Inc()
			return false
		}
	}
	for _, p := range c.buckets[typ] {
		if !p(rec) {
			metrics.FilterDrops.WithLabelValues(typ.String()).Inc()
			return false
		}
	}
	return true
}
