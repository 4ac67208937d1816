// Package strings cleans up comma-separated configuration lists.
package strings

import "strings"

// DedupeAndTrim drops blank entries and repeats, trimming each value.
// Order is preserved. Works on any string-kinded slice, so typed lists such
// as actor IDs can be cleaned without conversion.
func DedupeAndTrim[S ~[]E, E ~string](values S) S {
	return dedupe(values, strings.TrimSpace)
}

// DedupeAndTrimLower is DedupeAndTrim with case folding, for wallet
// addresses and other case-insensitive identifiers.
func DedupeAndTrimLower[S ~[]E, E ~string](values S) S {
	return dedupe(values, func(s string) string { return strings.ToLower(strings.TrimSpace(s)) })
}

func dedupe[S ~[]E, E ~string](values S, normalize func(string) string) S {
	if len(values) == 0 {
		return values
	}
	seen := make(map[E]struct{}, len(values))
	out := make(S, 0, len(values))
	for _, v := range values {
		n := E(normalize(string(v)))
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
