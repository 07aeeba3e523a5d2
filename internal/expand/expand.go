// Package expand implements repeat expansion: turning one templated entry
// plus a list of substitution sets into an ordered sequence of concrete
// entries. Expansion is a pure data transformation with no I/O, so the sync
// engine can run it (and fail on bad documents) before the first network
// call.
package expand

import (
	"fmt"
	"sort"

	"agsync/internal/document"
	"agsync/internal/fragment"
)

// OverrideKey marks the per-substitution-set override fragment inside a
// repeat entry.
const OverrideKey = "_override"

// RepeatKey is the field of an entry that carries its substitution sets.
const RepeatKey = "repeat"

// Entry expands one templated entry. An entry with no repeat field expands
// to itself, unchanged. Otherwise, for each substitution set in order, the
// base fragment (minus the repeat field) is substituted with the set and
// then deep-merged with the set's _override fragment, override winning.
//
// Every placeholder token referenced by the base fragment must be present in
// every substitution set; tokens inside nested entries that carry their own
// repeat field belong to that inner expansion and are exempt. A missing
// token aborts the whole expansion. Two substitution sets producing the same
// final name is likewise an error, because downstream sync matches entries
// by name.
func Entry(entry fragment.Map) ([]fragment.Map, error) {
	sets, err := substitutionSets(entry)
	if err != nil {
		return nil, err
	}
	if sets == nil {
		return []fragment.Map{fragment.CloneMap(entry)}, nil
	}

	base := fragment.CloneMap(entry)
	delete(base, RepeatKey)
	required := ownPlaceholders(base)
	entryName := entryName(entry)

	out := make([]fragment.Map, 0, len(sets))
	for i, set := range sets {
		subs := make(map[string]any, len(set))
		for token, replacement := range set {
			if token != OverrideKey {
				subs[token] = replacement
			}
		}

		for _, token := range required {
			if _, ok := subs[token]; !ok {
				return nil, &document.ConfigError{
					Entry: entryName,
					Index: i,
					Msg:   fmt.Sprintf("substitution set is missing placeholder %q", token),
				}
			}
		}

		expanded := fragment.Substitute(base, subs).(fragment.Map)

		if rawOverride, ok := set[OverrideKey]; ok {
			override, ok := rawOverride.(fragment.Map)
			if !ok {
				return nil, &document.ConfigError{
					Entry: entryName,
					Index: i,
					Field: OverrideKey,
					Msg:   fmt.Sprintf("expected a mapping for repeat override, got %T", rawOverride),
				}
			}
			for key := range override {
				if _, ok := expanded[key]; !ok {
					return nil, &document.ConfigError{
						Entry: entryName,
						Index: i,
						Field: OverrideKey,
						Msg:   fmt.Sprintf("unrecognized field %q in repeat override", key),
					}
				}
			}
			expanded = fragment.Merge(expanded, override)
		}

		out = append(out, expanded)
	}

	if err := checkDuplicates(out, entryName); err != nil {
		return nil, err
	}
	return out, nil
}

// Entries expands a sequence of sibling entries and flattens the result,
// preserving order.
func Entries(entries []fragment.Map) ([]fragment.Map, error) {
	out := make([]fragment.Map, 0, len(entries))
	for _, entry := range entries {
		expanded, err := Entry(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

func substitutionSets(entry fragment.Map) ([]fragment.Map, error) {
	raw, ok := entry[RepeatKey]
	if !ok || raw == nil {
		return nil, nil
	}
	seq, ok := raw.([]any)
	if !ok {
		return nil, document.NewConfigError(entryName(entry), RepeatKey,
			"expected a sequence of substitution sets, got %T", raw)
	}
	if len(seq) == 0 {
		return nil, nil
	}
	sets := make([]fragment.Map, len(seq))
	for i, item := range seq {
		set, ok := item.(fragment.Map)
		if !ok {
			return nil, &document.ConfigError{
				Entry: entryName(entry),
				Index: i,
				Field: RepeatKey,
				Msg:   fmt.Sprintf("expected a mapping of placeholder to value, got %T", item),
			}
		}
		sets[i] = set
	}
	return sets, nil
}

// ownPlaceholders collects the placeholder tokens the entry's own expansion
// must resolve: every token in the fragment except those inside nested
// entries that declare their own repeat field.
func ownPlaceholders(v any) []string {
	seen := map[string]struct{}{}
	collectOwn(v, seen)
	out := make([]string, 0, len(seen))
	for tok := range seen {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

func collectOwn(v any, seen map[string]struct{}) {
	switch val := v.(type) {
	case fragment.Map:
		if raw, ok := val[RepeatKey]; ok {
			if seq, isSeq := raw.([]any); isSeq && len(seq) > 0 {
				return // a nested expansion pass owns these tokens
			}
		}
		for _, item := range val {
			collectOwn(item, seen)
		}
	case []any:
		for _, item := range val {
			collectOwn(item, seen)
		}
	case string:
		for _, tok := range fragment.Tokens(val) {
			seen[tok] = struct{}{}
		}
	}
}

func checkDuplicates(entries []fragment.Map, templateName string) error {
	seen := map[string]int{}
	for i, entry := range entries {
		name := entryName(entry)
		if name == "" {
			continue
		}
		if first, dup := seen[name]; dup {
			return &document.ConfigError{
				Entry: templateName,
				Index: i,
				Msg: fmt.Sprintf(
					"substitution sets %d and %d both expand to entry name %q", first, i, name),
			}
		}
		seen[name] = i
	}
	return nil
}

func entryName(entry fragment.Map) string {
	name, _ := entry["name"].(string)
	return name
}
