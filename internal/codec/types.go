// Package codec decodes firehose wire frames (plain JSON or zstd-with-dictionary)
// into EventRecord values. Collection classification lives in package at.
package codec

import (
	"encoding/json"
	"fmt"
)

// EventRecord is a decoded firehose message envelope.
type EventRecord struct {
	DID    string  `json:"did"`
	TimeUs int64   `json:"time_us"`
	Kind   string  `json:"kind"`
	Commit *Commit `json:"commit,omitempty"`
}

// Commit describes a single repo mutation carried by an EventRecord.
type Commit struct {
	Rev        string          `json:"rev"`
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	Rkey       string          `json:"rkey"`
	CID        string          `json:"cid,omitempty"`
	Record     *Record `json:"record,omitempty"`
}

const (
	OpCreate = "create"
	OpDelete = "delete"
	OpUpdate = "update"
)

// Record is the permissive, mostly-optional record payload. Every field is
// optional: a missing field decodes to its zero value (nil for the pointer
// and slice fields) rather than an error.
type Record struct {
	Type      string   `json:"$type,omitempty"`
	CreatedAt string   `json:"createdAt,omitempty"`
	Subject   *Subject `json:"subject,omitempty"`
	Lang      string   `json:"lang,omitempty"`
	Langs     []string `json:"langs,omitempty"`
	Text      string   `json:"text,omitempty"`
	Reply     *Reply   `json:"reply,omitempty"`
	Embed     *Embed   `json:"embed,omitempty"`
	Images    []Image  `json:"images,omitempty"`
}

// Subject models the record.subject union: either a bare DID string
// (follow, block) or an object with uri/cid (like, repost).
type Subject struct {
	DID string
	URI string
	CID string
}

func (s *Subject) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		s.DID = asString
		return nil
	}

	var asObject struct {
		URI string `json:"uri"`
		CID string `json:"cid"`
	}
	if err := json.Unmarshal(data, &asObject); err != nil {
		return fmt.Errorf("unmarshal subject: neither a string nor a {uri,cid} object: %w", err)
	}
	s.URI = asObject.URI
	s.CID = asObject.CID
	return nil
}

func (s Subject) MarshalJSON() ([]byte, error) {
	if s.URI != "" {
		return json.Marshal(struct {
			URI string `json:"uri"`
			CID string `json:"cid,omitempty"`
		}{URI: s.URI, CID: s.CID})
	}
	return json.Marshal(s.DID)
}

// IsDID reports whether the subject was carried as a bare DID string.
func (s Subject) IsDID() bool { return s.DID != "" }

type Reply struct {
	Parent RefPost `json:"parent"`
	Root   RefPost `json:"root"`
}

type RefPost struct {
	CID string `json:"cid"`
	URI string `json:"uri"`
}

// Embed models the record.embed union, which has several practically
// distinct shapes (images, external link, record reference). Only the
// fields this pipeline cares about (presence of images) are modeled.
type Embed struct {
	Type   string  `json:"$type,omitempty"`
	Images []Image `json:"images,omitempty"`
}

type Image struct {
	Alt   string     `json:"alt,omitempty"`
	Image *ImageBlob `json:"image,omitempty"`
}

type ImageBlob struct {
	Type     string `json:"$type,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}
