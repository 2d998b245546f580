package processor

import "strings"

// pluralize turns a singular query-name ("post", "reply", ...) into the
// plural UNWIND parameter name its Cypher query binds ("posts", "replies").
// The branch order mirrors the source inflector exactly: y/ay before
// s/x/z, before the o-not-oo case, before the trailing-u case, falling
// back to a plain "+s".
func pluralize(word string) string {
	last := word[len(word)-1]
	snip := word[:len(word)-1]

	switch {
	case last == 'y' || strings.HasSuffix(word, "ay"):
		return snip + "ies"
	case last == 's' || last == 'x' || last == 'z':
		return word + "es"
	case last == 'o' && !strings.HasSuffix(word, "oo"):
		return snip + "oes"
	case last == 'u':
		return snip + "i"
	default:
		return word + "s"
	}
}
