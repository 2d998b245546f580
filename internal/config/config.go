// Package config loads the process configuration this pipeline's binaries
// need from the environment. There is no config file format or flag
// parser: every knob is an environment variable with a documented default,
// matching how the source deployed these services.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Graph holds the graph database connection settings shared by both
// binaries.
type Graph struct {
	URI        string
	ReplicaURI string
	User       string
	Password   string
	Replica    bool
}

// Ingest configures cmd/ingestd.
type Ingest struct {
	Graph Graph

	FirehoseHost          string
	FirehoseHostSecondary string
	Collections           []string
	CompressEnable        bool
	ForwardMode           bool

	MetricsAddr string
	LogLevel    string
	LogFormat   string
}

// Fetch configures cmd/fetchd.
type Fetch struct {
	Graph Graph

	FetchAddr string

	FeedgenServiceDID string
	FeedgenHostname   string
	ProfileEnable     bool

	MetricsAddr string
	LogLevel    string
	LogFormat   string
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// getenvBool treats any non-empty value (including "false") as true and an
// unset or empty variable as fallback.
func getenvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	return true
}

func getenvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadGraph() (Graph, error) {
	g := Graph{
		URI:        getenv("MM_URI", "bolt://localhost:7687"),
		ReplicaURI: getenv("MM_REPLICA_URI", ""),
		User:       getenv("MM_USER", ""),
		Password:   getenv("MM_PW", ""),
		Replica:    getenvBool("REPLICA", false),
	}
	if g.User == "" {
		return g, fmt.Errorf("MM_USER is required")
	}
	return g, nil
}

// LoadIngest reads cmd/ingestd's configuration from the environment.
func LoadIngest() (*Ingest, error) {
	graph, err := loadGraph()
	if err != nil {
		return nil, err
	}

	defaultCollections := []string{
		"app.bsky.feed.post",
		"app.bsky.feed.repost",
		"app.bsky.feed.like",
		"app.bsky.graph.follow",
		"app.bsky.graph.block",
	}

	return &Ingest{
		Graph:                 graph,
		FirehoseHost:          getenv("FIREHOSE_HOST", "wss://jetstream2.us-east.bsky.network"),
		FirehoseHostSecondary: getenv("FIREHOSE_HOST_SECONDARY", "wss://jetstream2.us-west.bsky.network"),
		Collections:           getenvList("FIREHOSE_COLLECTIONS", defaultCollections),
		CompressEnable:        getenvBool("COMPRESS_ENABLE", true),
		ForwardMode:           getenvBool("FORWARD_MODE", false),
		MetricsAddr:           getenv("METRICS_ADDR", ":9090"),
		LogLevel:              getenv("LOG_LEVEL", "info"),
		LogFormat:             getenv("LOG_FORMAT", "json"),
	}, nil
}

// LoadFetch reads cmd/fetchd's configuration from the environment.
func LoadFetch() (*Fetch, error) {
	graph, err := loadGraph()
	if err != nil {
		return nil, err
	}

	return &Fetch{
		Graph:             graph,
		FetchAddr:         getenv("FETCH_ADDR", ":8090"),
		FeedgenServiceDID: getenv("FEEDGEN_SERVICE_DID", ""),
		FeedgenHostname:   getenv("FEEDGEN_HOSTNAME", ""),
		ProfileEnable:     getenvBool("PROFILE_ENABLE", false),
		MetricsAddr:       getenv("METRICS_ADDR", ":9091"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		LogFormat:         getenv("LOG_FORMAT", "json"),
	}, nil
}
