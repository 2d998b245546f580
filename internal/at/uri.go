// Package at implements small AT Protocol primitives shared across the
// ingest pipeline and fetch path: URI parsing/formatting, rkey extraction,
// and collection-to-event-type classification.
package at

import (
	"fmt"
	"strings"
)

// URI is a parsed at:// record URI: at://<repo>/<collection>/<rkey>.
type URI struct {
	Repo       string
	Collection string
	Rkey       string
}

// ParseURI parses an AT-URI, with or without the at:// prefix.
func ParseURI(uri string) (*URI, error) {
	rest := strings.TrimPrefix(uri, "at://")

	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 3 {
		return nil, fmt.Errorf("parse at-uri %q: not enough component parts", uri)
	}

	u := &URI{Repo: parts[0], Collection: parts[1], Rkey: parts[2]}

	if u.Repo == "" {
		return nil, fmt.Errorf("parse at-uri %q: repo must not be empty", uri)
	}
	if u.Collection == "" {
		return nil, fmt.Errorf("parse at-uri %q: collection must not be empty", uri)
	}
	if u.Rkey == "" {
		return nil, fmt.Errorf("parse at-uri %q: rkey must not be empty", uri)
	}

	return u, nil
}

// FormatURI builds the canonical string form of an at:// URI.
func FormatURI(repo, collection, rkey string) string {
	return fmt.Sprintf("at://%s/%s/%s", repo, collection, rkey)
}

// PostURI builds the canonical URI for a post authored by did with the given rkey.
func PostURI(did, rkey string) string {
	return FormatURI(did, "app.bsky.feed.post", rkey)
}

func (u URI) String() string {
	return FormatURI(u.Repo, u.Collection, u.Rkey)
}
