package firehose

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func newTestTransport(cfg Config, cursor string) *Transport {
	return New(slog.Default(), noop.NewTracerProvider().Tracer("test"), cfg, cursor)
}

func TestDialURL_Primary(t *testing.T) {
	tr := newTestTransport(Config{
		Primary:     "wss://jetstream.example.com",
		Collections: []string{"app.bsky.feed.post", "app.bsky.graph.follow"},
		Compress:    true,
	}, "")

	endpoint, dialURL, err := tr.dialURL()
	require.NoError(t, err)
	require.Equal(t, "wss://jetstream.example.com", endpoint)
	require.Contains(t, dialURL, "/subscribe?")
	require.Contains(t, dialURL, "compress=true")
	require.Contains(t, dialURL, "wantedCollections=app.bsky.feed.post")
	require.Contains(t, dialURL, "wantedCollections=app.bsky.graph.follow")
	require.NotContains(t, dialURL, "cursor=")
}

func TestDialURL_WithCursor(t *testing.T) {
	tr := newTestTransport(Config{Primary: "wss://a.example.com"}, "1700000000000000")

	_, dialURL, err := tr.dialURL()
	require.NoError(t, err)
	require.Contains(t, dialURL, "cursor=1700000000000000")
}

func TestFailover_SwitchesEndpoint(t *testing.T) {
	tr := newTestTransport(Config{
		Primary:   "wss://primary.example.com",
		Secondary: "wss://secondary.example.com",
	}, "")

	endpoint, _, err := tr.dialURL()
	require.NoError(t, err)
	require.Equal(t, "wss://primary.example.com", endpoint)

	tr.Failover()

	endpoint, _, err = tr.dialURL()
	require.NoError(t, err)
	require.Equal(t, "wss://secondary.example.com", endpoint)
}

func TestDialURL_NoEndpoint(t *testing.T) {
	tr := newTestTransport(Config{}, "")
	_, _, err := tr.dialURL()
	require.Error(t, err)
}

func TestSetCursor_AffectsNextDial(t *testing.T) {
	tr := newTestTransport(Config{Primary: "wss://a.example.com"}, "")
	tr.SetCursor(42)

	_, dialURL, err := tr.dialURL()
	require.NoError(t, err)
	require.Contains(t, dialURL, "cursor=42")
}
