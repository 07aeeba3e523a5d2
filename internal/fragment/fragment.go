// Package fragment implements pure transformations over document fragments:
// deep copy, deep merge, and placeholder substitution. A fragment is an
// arbitrarily nested tree of map[string]any, []any, and scalars, exactly as
// produced by yaml.v3 or encoding/json when decoding into any.
package fragment

import (
	"fmt"
	"regexp"
	"sort"
)

// Map is a single mapping node of a fragment.
type Map = map[string]any

// tokenRe matches $name-style placeholder tokens inside scalar strings.
var tokenRe = regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_]*`)

// Clone returns a deep copy of a fragment. Scalars are returned as-is.
func Clone(v any) any {
	switch val := v.(type) {
	case Map:
		out := make(Map, len(val))
		for k, item := range val {
			out[k] = Clone(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Clone(item)
		}
		return out
	default:
		return v
	}
}

// CloneMap is Clone specialized to a mapping node. Returns nil for nil input.
func CloneMap(m Map) Map {
	if m == nil {
		return nil
	}
	return Clone(m).(Map)
}

// Merge deep-merges override onto base and returns a new map; neither input
// is modified. Mapping values merge recursively, the override wins on every
// other kind of conflict, and sequences are replaced wholesale rather than
// concatenated.
func Merge(base, override Map) Map {
	out := CloneMap(base)
	if out == nil {
		out = Map{}
	}
	for k, ov := range override {
		if bv, ok := out[k]; ok {
			bm, bIsMap := bv.(Map)
			om, oIsMap := ov.(Map)
			if bIsMap && oIsMap {
				out[k] = Merge(bm, om)
				continue
			}
		}
		out[k] = Clone(ov)
	}
	return out
}

// Substitute replaces $token placeholders inside every scalar string of the
// fragment with the mapped value and returns a new fragment. A string that is
// exactly one token is replaced by the raw mapped value, which lets a
// placeholder carry a structured or numeric replacement. Tokens not present
// in subs are left untouched so that a different expansion pass can claim
// them. Replacement values are never re-scanned for further placeholders.
func Substitute(v any, subs map[string]any) any {
	switch val := v.(type) {
	case Map:
		out := make(Map, len(val))
		for k, item := range val {
			out[k] = Substitute(item, subs)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Substitute(item, subs)
		}
		return out
	case string:
		return substituteString(val, subs)
	default:
		return v
	}
}

func substituteString(s string, subs map[string]any) any {
	if replacement, ok := subs[s]; ok && tokenRe.FindString(s) == s {
		return Clone(replacement)
	}
	return tokenRe.ReplaceAllStringFunc(s, func(tok string) string {
		if replacement, ok := subs[tok]; ok {
			return formatScalar(replacement)
		}
		return tok
	})
}

// Tokens returns the placeholder tokens referenced by one scalar string, in
// order of appearance.
func Tokens(s string) []string {
	return tokenRe.FindAllString(s, -1)
}

// Placeholders returns the deduplicated, sorted set of placeholder tokens
// referenced anywhere in the fragment.
func Placeholders(v any) []string {
	seen := map[string]struct{}{}
	collectPlaceholders(v, seen)
	out := make([]string, 0, len(seen))
	for tok := range seen {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

func collectPlaceholders(v any, seen map[string]struct{}) {
	switch val := v.(type) {
	case Map:
		for _, item := range val {
			collectPlaceholders(item, seen)
		}
	case []any:
		for _, item := range val {
			collectPlaceholders(item, seen)
		}
	case string:
		for _, tok := range Tokens(val) {
			seen[tok] = struct{}{}
		}
	}
}

func formatScalar(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
