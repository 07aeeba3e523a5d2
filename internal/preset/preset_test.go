package preset

import (
	"errors"
	"testing"

	"agsync/internal/fragment"
)

func TestResolveBuiltinByName(t *testing.T) {
	r := NewResolver(nil, nil)
	rec, err := r.Resolve(Command, "pass/fail")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec["return_code_fdbk_level"] != "correct_or_incorrect" {
		t.Fatalf("unexpected builtin preset contents: %#v", rec)
	}
}

func TestResolveUserPresetShadowsBuiltin(t *testing.T) {
	user := map[string]Record{
		"pass/fail": {"visible": false},
	}
	r := NewResolver(user, nil)
	rec, err := r.Resolve(Command, "pass/fail")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec["visible"] != false {
		t.Fatalf("user preset should shadow the builtin, got %#v", rec)
	}
}

func TestResolveUnknownNameFails(t *testing.T) {
	r := NewResolver(nil, nil)
	_, err := r.Resolve(Command, "no-such-preset")
	var unknown *UnknownPresetError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownPresetError, got %T: %v", err, err)
	}
	if unknown.Name != "no-such-preset" {
		t.Fatalf("error should carry the offending name, got %q", unknown.Name)
	}
}

func TestResolveInlineRecordPassesThrough(t *testing.T) {
	r := NewResolver(nil, nil)
	inline := Record{"visible": true, "show_points": false}
	rec, err := r.Resolve(Command, inline)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fragment.Equal(rec, inline) {
		t.Fatalf("inline record should pass through, got %#v", rec)
	}
	rec["visible"] = false
	if inline["visible"] != true {
		t.Fatalf("resolved record must be a copy, not an alias")
	}
}

func TestResolveNilStaysNil(t *testing.T) {
	r := NewResolver(nil, nil)
	rec, err := r.Resolve(Command, nil)
	if err != nil || rec != nil {
		t.Fatalf("nil reference should resolve to nil, got %#v, %v", rec, err)
	}
}

func TestResolveSuiteSetupUsesItsOwnNamespace(t *testing.T) {
	r := NewResolver(nil, nil)
	if _, err := r.Resolve(SuiteSetup, "pass/fail+diff"); err == nil {
		t.Fatal("command preset names must not leak into the suite setup namespace")
	}
	if _, err := r.Resolve(SuiteSetup, "pass/fail"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNameForMatchesBuiltin(t *testing.T) {
	r := NewResolver(nil, nil)
	rec, err := r.Resolve(Command, "private")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	name, ok := r.NameFor(Command, rec)
	if !ok || name != "private" {
		t.Fatalf("expected the record to match back to private, got %q, %v", name, ok)
	}
}

func TestNameForPrefersUserPresets(t *testing.T) {
	rec := Record{"visible": true, "show_points": true}
	r := NewResolver(map[string]Record{"mine": rec}, nil)
	name, ok := r.NameFor(Command, fragment.CloneMap(rec))
	if !ok || name != "mine" {
		t.Fatalf("expected the user preset name, got %q, %v", name, ok)
	}
}

func TestNameForSkipsShadowedBuiltin(t *testing.T) {
	// The user redefined pass/fail, so a record equal to the builtin
	// pass/fail must not claim that name.
	r := NewResolver(map[string]Record{"pass/fail": {"visible": false}}, nil)
	builtin := BuiltinCommand()["pass/fail"]
	if name, ok := r.NameFor(Command, builtin); ok && name == "pass/fail" {
		t.Fatalf("a shadowed builtin must not match its own name")
	}
}

func TestNameForNoMatch(t *testing.T) {
	r := NewResolver(nil, nil)
	if name, ok := r.NameFor(Command, Record{"visible": "odd"}); ok {
		t.Fatalf("expected no match, got %q", name)
	}
}

func TestBuiltinTablesAreCopies(t *testing.T) {
	a := BuiltinCommand()
	a["pass/fail"]["visible"] = false
	b := BuiltinCommand()
	if b["pass/fail"]["visible"] != true {
		t.Fatal("BuiltinCommand must return independent copies")
	}
}
