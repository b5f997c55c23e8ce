// Package headword implements the shared headword normalization used by every
// component that needs to agree on entry identity.
//
// The extractor, the shard store, the headword index and the build engine all
// key on the output of Normalize. Any two components that disagree on
// normalization would silently create duplicate canonical entries, so this is
// the single place where the rules live.
package headword

import (
	"hash/fnv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var foldCaser = cases.Fold()

// Normalize converts raw text into the canonical lookup key:
//
//   - Unicode NFC normalization (diacritics preserved, composed form)
//   - case folding
//   - whitespace collapsed to single ASCII spaces
//   - leading/trailing punctuation stripped per token; interior hyphens and
//     apostrophes are kept ("mother-in-law", "o'clock")
//
// Normalize is a pure function. Callers must not post-process its output.
func Normalize(raw string) string {
	s := norm.NFC.String(raw)
	s = foldCaser.String(s)

	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, isEdgePunct)
		if f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}

// isEdgePunct reports whether r is punctuation that carries no semantic
// weight at a token boundary. Hyphen and apostrophe are word-internal in
// English and are trimmed only when they dangle at an edge, which TrimFunc
// handles for us.
func isEdgePunct(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

// IsPhrase reports whether a normalized headword is a multi-word phrase.
func IsPhrase(normalized string) bool {
	return strings.ContainsRune(normalized, ' ')
}

// Hash returns the stable 64-bit FNV-1a hash of a normalized headword.
// Shard assignment and batch-level dedup sets are both derived from it.
func Hash(normalized string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(normalized))
	return h.Sum64()
}

// ShardID maps a normalized headword onto one of numShards partitions.
// It is a pure function of the headword, never of entry content, so all
// versions of a headword land in the same shard.
func ShardID(normalized string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	return int(Hash(normalized) % uint64(numShards))
}
