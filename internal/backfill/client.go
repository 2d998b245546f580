package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bluesky-social/indigo/xrpc"
)

// ErrRecordNotFound mirrors the source's sentinel for a repo that has no
// records in the requested collection (new accounts, suspended/never
// migrated DIDs): it's not a transport error, just "nothing to backfill".
var ErrRecordNotFound = errors.New("record not found")

const (
	collectionFollow = "app.bsky.graph.follow"
	collectionBlock  = "app.bsky.graph.block"
	listPageSize     = 100
)

// Edge is one outgoing follow or block edge: Subject is the target DID,
// Rkey is the record key of the follow/block record itself.
type Edge struct {
	Subject string
	Rkey    string
}

// Client fetches a repo's follow and block records over the AT Protocol
// public API.
type Client struct {
	xrpc *xrpc.Client
}

// NewClient builds a Client against host (e.g. "https://public.api.bsky.app").
func NewClient(host string) *Client {
	return &Client{xrpc: &xrpc.Client{Host: host}}
}

// ListFollows returns every app.bsky.graph.follow record in did's repo.
func (c *Client) ListFollows(ctx context.Context, did string) ([]Edge, error) {
	return c.listEdges(ctx, did, collectionFollow)
}

// ListBlocks returns every app.bsky.graph.block record in did's repo.
func (c *Client) ListBlocks(ctx context.Context, did string) ([]Edge, error) {
	return c.listEdges(ctx, did, collectionBlock)
}

type listRecordsOutput struct {
	Cursor  *string              `json:"cursor,omitempty"`
	Records []listRecordsRecord `json:"records"`
}

type listRecordsRecord struct {
	URI   string          `json:"uri"`
	CID   string          `json:"cid"`
	Value json.RawMessage `json:"value"`
}

type subjectValue struct {
	Subject string `json:"subject"`
}

func (c *Client) listEdges(ctx context.Context, did, collection string) ([]Edge, error) {
	var edges []Edge
	cursor := ""

	for {
		params := map[string]interface{}{
			"repo":       did,
			"collection": collection,
			"limit":      listPageSize,
		}
		if cursor != "" {
			params["cursor"] = cursor
		}

		var out listRecordsOutput
		err := c.xrpc.Do(ctx, xrpc.Query, "", "com.atproto.repo.listRecords", params, nil, &out)
		if err != nil {
			if isRecordNotFound(err) {
				return nil, ErrRecordNotFound
			}
			return nil, fmt.Errorf("list %s for %s: %w", collection, did, err)
		}

		for _, rec := range out.Records {
			var val subjectValue
			if err := json.Unmarshal(rec.Value, &val); err != nil {
				continue
			}
			edges = append(edges, Edge{Subject: val.Subject, Rkey: rkeyFromURI(rec.URI)})
		}

		if out.Cursor == nil || *out.Cursor == "" {
			break
		}
		cursor = *out.Cursor
	}

	return edges, nil
}

// isRecordNotFound reports whether err is the XRPC 400 the PDS returns for
// a repo with no records in the requested collection. The PDS error message
// text is the only stable signal available here.
func isRecordNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "missing field") && strings.Contains(msg, "records")
}

func rkeyFromURI(uri string) string {
	idx := strings.LastIndex(uri, "/")
	if idx < 0 {
		return uri
	}
	return uri[idx+1:]
}
