package at

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractRkey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		uri      string
		expected string
	}{
		{
			name:     "ascii uri",
			uri:      "at://did:plc:aaa/app.bsky.feed.post/rkeyPOST00001",
			expected: "rkeyPOST00001",
		},
		{
			name:     "too short",
			uri:      "short",
			expected: "",
		},
		{
			name:     "empty",
			uri:      "",
			expected: "",
		},
		{
			name:     "exactly 13 runes",
			uri:      "abcdefghijklm",
			expected: "abcdefghijklm",
		},
		{
			name: "multi-byte unicode tail counted by rune not byte",
			// each "é" is 2 bytes in UTF-8 but a single rune; the uri has
			// 13 trailing runes that total more than 13 bytes.
			uri:      "at://did:plc:aaa/" + "éééééééééééé1",
			expected: "éééééééééééé1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ExtractRkey(tt.uri)
			require.Equal(t, tt.expected, got)
			require.True(t, got == "" || len([]rune(got)) == RkeyLen)
		})
	}
}
