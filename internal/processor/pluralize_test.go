package processor

import "testing"

func TestPluralize(t *testing.T) {
	cases := map[string]string{
		"post":    "posts",
		"repost":  "reposts",
		"like":    "likes",
		"follow":  "follows",
		"block":   "blocks",
		"reply":   "replies",
		"city":    "cities",
		"day":     "daies", // 'y' branch fires before the "ay" special case, matching the source exactly
		"box":     "boxes",
		"buzz":    "buzzes",
		"bus":     "buses",
		"potato":  "potatoes",
		"bamboo":  "bamboos",
		"cactu":   "cacti",
	}

	for in, want := range cases {
		if got := pluralize(in); got != want {
			t.Errorf("pluralize(%q) = %q, want %q", in, got, want)
		}
	}
}
