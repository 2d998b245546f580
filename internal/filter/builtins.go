package filter

import (
	"time"

	"github.com/aegis-proto/aegis/internal/codec"
)

// knownSpamDIDs are accounts observed posting high-volume repost spam.
// Hand-curated, not learned; a dedicated spam classifier is out of scope.
var knownSpamDIDs = map[string]struct{}{
	"did:plc:xdx2v7gyd5dmfqt7v77gf457": {},
	"did:plc:a56vfzkrxo2bh443zgjxr4ix": {},
	"did:plc:cov6pwd7ajm2wgkrgbpej2f3": {},
	"did:plc:fcnbisw7xl6lmtcnvioocffz": {},
	"did:plc:ss7fj6p6yfirwq2hnlkfuntt": {},
}

// SpamFilter rejects events from a fixed DID denylist. A nil or empty set
// falls back to the built-in list.
func SpamFilter(extra map[string]struct{}) Predicate {
	spam := knownSpamDIDs
	if len(extra) > 0 {
		spam = extra
	}
	return func(rec *codec.EventRecord) bool {
		_, blocked := spam[rec.DID]
		return !blocked
	}
}

// DateFilter rejects events older than maxAge. It prefers the record's
// createdAt timestamp; if that field is absent or fails to parse as
// RFC3339, it falls back to the envelope's emission time (time_us).
func DateFilter(maxAge time.Duration) Predicate {
	return func(rec *codec.EventRecord) bool {
		if rec.Commit == nil || rec.Commit.Record == nil {
			return true
		}

		createdAt := rec.Commit.Record.CreatedAt
		if createdAt != "" {
			if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
				return time.Since(t) < maxAge
			}
		}

		emitted := time.UnixMicro(rec.TimeUs)
		return time.Since(emitted) < maxAge
	}
}
