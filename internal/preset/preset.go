// Package preset resolves named feedback presets to full settings records.
// Two tiers exist: built-in presets the engine always recognizes, and
// user-defined presets parsed from the document's feedback_presets sections.
// A user-defined preset may reuse a built-in name, in which case it shadows
// the built-in; the lookup order is explicit (user table first) rather than
// any kind of inheritance so that resolution stays auditable. The built-in
// tables also exist in freshly initialized documents for human readability,
// but removing them from a document changes nothing.
package preset

import (
	"fmt"
	"sort"

	"agsync/internal/fragment"
)

// Record is a fully populated feedback settings record.
type Record = fragment.Map

// Kind selects which preset namespace a reference resolves in.
type Kind string

const (
	// Command presets configure feedback for one test command.
	Command Kind = "feedback"
	// SuiteSetup presets configure feedback for a suite's setup command.
	SuiteSetup Kind = "test suite setup feedback"
)

// UnknownPresetError reports a preset name that neither the user tables nor
// the built-in tables define.
type UnknownPresetError struct {
	Kind Kind
	Name string
}

func (e *UnknownPresetError) Error() string {
	return fmt.Sprintf("%s preset %q not found", e.Kind, e.Name)
}

// builtinCommandOrder fixes the order reverse lookups check built-in command
// presets in.
var builtinCommandOrder = []string{
	"pass/fail",
	"pass/fail+timeout",
	"pass/fail+exit_status",
	"pass/fail+output",
	"pass/fail+diff",
	"private",
	"public",
}

var builtinCommand = map[string]Record{
	"pass/fail": {
		"visible":                  true,
		"show_student_description": true,
		"return_code_fdbk_level":   "correct_or_incorrect",
		"stdout_fdbk_level":        "correct_or_incorrect",
		"stderr_fdbk_level":        "correct_or_incorrect",
		"show_points":              true,
		"show_actual_return_code":  false,
		"show_actual_stdout":       false,
		"show_actual_stderr":       false,
		"show_whether_timed_out":   false,
	},
	"pass/fail+timeout": {
		"visible":                  true,
		"show_student_description": true,
		"return_code_fdbk_level":   "correct_or_incorrect",
		"stdout_fdbk_level":        "correct_or_incorrect",
		"stderr_fdbk_level":        "correct_or_incorrect",
		"show_points":              true,
		"show_actual_return_code":  false,
		"show_actual_stdout":       false,
		"show_actual_stderr":       false,
		"show_whether_timed_out":   true,
	},
	"pass/fail+exit_status": {
		"visible":                  true,
		"show_student_description": true,
		"return_code_fdbk_level":   "correct_or_incorrect",
		"stdout_fdbk_level":        "correct_or_incorrect",
		"stderr_fdbk_level":        "correct_or_incorrect",
		"show_points":              true,
		"show_actual_return_code":  true,
		"show_actual_stdout":       false,
		"show_actual_stderr":       false,
		"show_whether_timed_out":   true,
	},
	"pass/fail+output": {
		"visible":                  true,
		"show_student_description": true,
		"return_code_fdbk_level":   "correct_or_incorrect",
		"stdout_fdbk_level":        "correct_or_incorrect",
		"stderr_fdbk_level":        "correct_or_incorrect",
		"show_points":              true,
		"show_actual_return_code":  false,
		"show_actual_stdout":       true,
		"show_actual_stderr":       true,
		"show_whether_timed_out":   false,
	},
	"pass/fail+diff": {
		"visible":                  true,
		"show_student_description": true,
		"return_code_fdbk_level":   "correct_or_incorrect",
		"stdout_fdbk_level":        "expected_and_actual",
		"stderr_fdbk_level":        "expected_and_actual",
		"show_points":              true,
		"show_actual_return_code":  false,
		"show_actual_stdout":       false,
		"show_actual_stderr":       false,
		"show_whether_timed_out":   false,
	},
	"private": {
		"visible":                  true,
		"show_student_description": false,
		"return_code_fdbk_level":   "no_feedback",
		"stdout_fdbk_level":        "no_feedback",
		"stderr_fdbk_level":        "no_feedback",
		"show_points":              false,
		"show_actual_return_code":  false,
		"show_actual_stdout":       false,
		"show_actual_stderr":       false,
		"show_whether_timed_out":   false,
	},
	"public": {
		"visible":                  true,
		"show_student_description": true,
		"return_code_fdbk_level":   "expected_and_actual",
		"stdout_fdbk_level":        "expected_and_actual",
		"stderr_fdbk_level":        "expected_and_actual",
		"show_points":              true,
		"show_actual_return_code":  true,
		"show_actual_stdout":       true,
		"show_actual_stderr":       true,
		"show_whether_timed_out":   true,
	},
}

var builtinSuiteSetupOrder = []string{"public", "pass/fail", "private"}

var builtinSuiteSetup = map[string]Record{
	"public": {
		"visible":                  true,
		"show_individual_tests":    true,
		"show_student_description": true,
		"show_setup_return_code":   true,
		"show_setup_timed_out":     true,
		"show_setup_stdout":        true,
		"show_setup_stderr":        true,
	},
	"pass/fail": {
		"visible":                  true,
		"show_individual_tests":    true,
		"show_student_description": true,
		"show_setup_return_code":   true,
		"show_setup_timed_out":     true,
		"show_setup_stdout":        false,
		"show_setup_stderr":        false,
	},
	"private": {
		"visible":                  true,
		"show_individual_tests":    true,
		"show_student_description": false,
		"show_setup_return_code":   false,
		"show_setup_timed_out":     false,
		"show_setup_stdout":        false,
		"show_setup_stderr":        false,
	},
}

// BuiltinCommand returns the built-in command feedback presets, keyed by
// name, for seeding a fresh document.
func BuiltinCommand() map[string]Record {
	return cloneTable(builtinCommand)
}

// BuiltinSuiteSetup returns the built-in suite setup feedback presets.
func BuiltinSuiteSetup() map[string]Record {
	return cloneTable(builtinSuiteSetup)
}

func cloneTable(src map[string]Record) map[string]Record {
	out := make(map[string]Record, len(src))
	for name, rec := range src {
		out[name] = fragment.CloneMap(rec)
	}
	return out
}

// Resolver holds the user-defined preset tables for one document.
type Resolver struct {
	command    map[string]Record
	suiteSetup map[string]Record
}

// NewResolver builds a resolver from the document's preset sections. Either
// table may be nil.
func NewResolver(command, suiteSetup map[string]Record) *Resolver {
	return &Resolver{command: command, suiteSetup: suiteSetup}
}

// Resolve turns a preset reference into a full settings record. A string
// reference looks up the user table first, then the built-ins; a mapping
// reference is an inline record and passes through as-is (the default model
// fills it later); nil stays nil. An unresolvable name is an error.
func (r *Resolver) Resolve(kind Kind, ref any) (Record, error) {
	switch val := ref.(type) {
	case nil:
		return nil, nil
	case string:
		if rec, ok := r.userTable(kind)[val]; ok {
			return fragment.CloneMap(rec), nil
		}
		if rec, ok := builtinTable(kind)[val]; ok {
			return fragment.CloneMap(rec), nil
		}
		return nil, &UnknownPresetError{Kind: kind, Name: val}
	case Record:
		return fragment.CloneMap(val), nil
	default:
		return nil, fmt.Errorf("%s preset reference must be a name or a mapping, got %T", kind, ref)
	}
}

// NameFor searches for a preset whose record equals rec, checking
// user-defined presets (in name order) before built-ins (in declaration
// order). The load direction uses it to write a readable preset name instead
// of an inline record whenever one matches.
func (r *Resolver) NameFor(kind Kind, rec Record) (string, bool) {
	user := r.userTable(kind)
	names := make([]string, 0, len(user))
	for name := range user {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if fragment.Equal(user[name], rec) {
			return name, true
		}
	}

	builtin := builtinTable(kind)
	for _, name := range builtinOrder(kind) {
		if _, shadowed := user[name]; shadowed {
			continue
		}
		if fragment.Equal(builtin[name], rec) {
			return name, true
		}
	}
	return "", false
}

func (r *Resolver) userTable(kind Kind) map[string]Record {
	if kind == SuiteSetup {
		return r.suiteSetup
	}
	return r.command
}

func builtinTable(kind Kind) map[string]Record {
	if kind == SuiteSetup {
		return builtinSuiteSetup
	}
	return builtinCommand
}

func builtinOrder(kind Kind) []string {
	if kind == SuiteSetup {
		return builtinSuiteSetupOrder
	}
	return builtinCommandOrder
}
