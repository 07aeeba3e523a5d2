// Package defaults declares the canonical default value of every optional
// field of every settings record in a project document, and implements the
// two operations built on those declarations: Fill, which produces a total
// record, and Elide, which produces a minimal one. The tables are
// constructed once at package init and never mutated; they are the single
// source of truth shared by the save direction (omission means "server
// default") and the load direction (fields equal to the default are dropped
// from the written document). The values mirror the server's own defaults
// exactly.
package defaults

import (
	"fmt"

	"agsync/internal/fragment"
)

// Record is a settings record: a flat-ish mapping of setting name to value.
type Record = fragment.Map

// Type identifies one settings record type.
type Type string

const (
	ProjectSettings   Type = "project settings"
	TestSuite         Type = "test suite"
	SingleCmdTestCase Type = "single-command test case"
	MultiCmdTestCase  Type = "multi-command test case"
	MultiCommand      Type = "test command"
	Stdin             Type = "stdin settings"
	SingleReturnCode  Type = "return code check"
	MultiReturnCode   Type = "return code check (multi-command)"
	SingleOutput      Type = "output check"
	MultiOutput       Type = "output check (multi-command)"
	DiffOptions       Type = "diff options"
	CommandFeedback   Type = "command feedback selection"
	TestCaseFeedback  Type = "test case feedback"
	CaseFeedbackRole  Type = "test case feedback config"
	Resources         Type = "resource limits"
)

// field declares one table entry. A structural field belongs to the record
// but has no default: Fill never inserts it and Elide never drops it (entry
// names, commands lists, repeat specs). A field with a sub type holds a
// nested record that fills and elides recursively.
type field struct {
	name       string
	def        any
	sub        Type
	structural bool
}

type table struct {
	typ    Type
	fields []field
	index  map[string]int
}

var tables = map[Type]*table{}

func register(typ Type, fields ...field) {
	t := &table{typ: typ, fields: fields, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		t.index[f.name] = i
	}
	tables[typ] = t
}

func opt(name string, def any) field { return field{name: name, def: def} }

func nested(name string, sub Type) field { return field{name: name, sub: sub} }

func structural(name string) field { return field{name: name, structural: true} }

const placeholderSetupCmd = `echo "Configure your setup command here. Set to empty string to not use a setup command"`

func init() {
	register(ProjectSettings,
		opt("anyone_with_link_can_submit", false),
		opt("deadline", nil),
		opt("allow_late_days", false),
		opt("final_graded_submission_policy", "most_recent"),
		opt("min_group_size", 1),
		opt("max_group_size", 1),
		opt("submission_limit_per_day", nil),
		opt("allow_submissions_past_limit", true),
		opt("groups_combine_daily_submissions", false),
		opt("submission_limit_reset_time", "12:00AM"),
		opt("num_bonus_submissions", 0),
		opt("send_email_receipts", false),
		opt("honor_pledge", ""),
		opt("total_submission_limit", nil),
	)

	register(TestSuite,
		structural("name"),
		structural("repeat"),
		opt("instructor_files_needed", []any{}),
		opt("read_only_instructor_files", true),
		opt("student_files_needed", []any{}),
		opt("allow_network_access", false),
		opt("deferred", false),
		opt("sandbox_docker_image", "Default"),
		opt("setup_suite_cmd", placeholderSetupCmd),
		opt("setup_suite_cmd_name", "Setup"),
		opt("reject_submission_if_setup_fails", false),
		opt("normal_fdbk_config", "public"),
		opt("ultimate_submission_fdbk_config", "public"),
		opt("past_limit_submission_fdbk_config", "public"),
		opt("staff_viewer_fdbk_config", "public"),
		structural("test_cases"),
	)

	register(SingleCmdTestCase,
		structural("name"),
		structural("repeat"),
		opt("type", "default"),
		opt("internal_admin_notes", ""),
		opt("staff_description", ""),
		opt("student_description", ""),
		opt("student_on_fail_description", ""),
		structural("cmd"),
		nested("input", Stdin),
		nested("return_code", SingleReturnCode),
		nested("stdout", SingleOutput),
		nested("stderr", SingleOutput),
		nested("diff_options", DiffOptions),
		nested("feedback", CommandFeedback),
		nested("resources", Resources),
	)

	register(MultiCmdTestCase,
		structural("name"),
		structural("repeat"),
		structural("type"),
		opt("internal_admin_notes", ""),
		opt("staff_description", ""),
		opt("student_description", ""),
		nested("feedback", TestCaseFeedback),
		structural("commands"),
	)

	register(MultiCommand,
		structural("name"),
		structural("repeat"),
		structural("cmd"),
		nested("input", Stdin),
		nested("return_code", MultiReturnCode),
		nested("stdout", MultiOutput),
		nested("stderr", MultiOutput),
		nested("diff_options", DiffOptions),
		nested("feedback", CommandFeedback),
		nested("resources", Resources),
	)

	register(Stdin,
		opt("source", "none"),
		opt("text", ""),
		opt("instructor_file", nil),
	)

	register(SingleReturnCode,
		opt("expected", "none"),
		opt("points", 0),
	)

	register(MultiReturnCode,
		opt("expected", "none"),
		opt("points", 0),
		opt("deduction", 0),
	)

	register(SingleOutput,
		opt("compare_with", "none"),
		opt("text", ""),
		opt("instructor_file", nil),
		opt("points", 0),
	)

	register(MultiOutput,
		opt("compare_with", "none"),
		opt("text", ""),
		opt("instructor_file", nil),
		opt("points", 0),
		opt("deduction", 0),
	)

	register(DiffOptions,
		opt("ignore_case", false),
		opt("ignore_whitespace", false),
		opt("ignore_whitespace_changes", false),
		opt("ignore_blank_lines", false),
	)

	register(CommandFeedback,
		opt("normal_fdbk_config", "pass/fail"),
		opt("first_failed_test_normal_fdbk_config", nil),
		opt("ultimate_submission_fdbk_config", "pass/fail"),
		opt("past_limit_submission_fdbk_config", "private"),
		opt("staff_viewer_fdbk_config", "public"),
	)

	register(TestCaseFeedback,
		nested("normal_fdbk_config", CaseFeedbackRole),
		nested("ultimate_submission_fdbk_config", CaseFeedbackRole),
		nested("past_limit_submission_fdbk_config", CaseFeedbackRole),
		nested("staff_viewer_fdbk_config", CaseFeedbackRole),
	)

	register(CaseFeedbackRole,
		opt("visible", true),
		opt("show_individual_commands", true),
		opt("show_student_description", true),
	)

	register(Resources,
		opt("time_limit", 10),
		opt("virtual_memory_limit", nil),
		opt("block_process_spawn", false),
	)
}

// UnknownFieldError reports a field that no table declares for its record
// type; it usually means a typo in the document.
type UnknownFieldError struct {
	Type  Type
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q in %s record", e.Field, e.Type)
}

func lookup(typ Type) *table {
	t, ok := tables[typ]
	if !ok {
		panic(fmt.Sprintf("defaults: no table registered for record type %q", typ))
	}
	return t
}

// Fill returns a total record: every field missing from rec is inserted with
// its declared default, and nested records fill recursively. rec is not
// modified; a nil rec fills to the all-defaults record. Fields rec carries
// that the type does not declare are an error.
func Fill(typ Type, rec Record) (Record, error) {
	t := lookup(typ)
	for name := range rec {
		if _, ok := t.index[name]; !ok {
			return nil, &UnknownFieldError{Type: typ, Field: name}
		}
	}

	out := make(Record, len(t.fields))
	for _, f := range t.fields {
		val, present := rec[f.name]
		switch {
		case f.structural:
			if present {
				out[f.name] = fragment.Clone(val)
			}
		case f.sub != "":
			sub, ok := val.(Record)
			if present && !ok {
				// A non-mapping value in a nested slot (a preset name, for
				// example) passes through untouched; resolution happens
				// elsewhere.
				out[f.name] = fragment.Clone(val)
				continue
			}
			filled, err := Fill(f.sub, sub)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.name, err)
			}
			out[f.name] = filled
		default:
			if present {
				out[f.name] = fragment.Clone(val)
			} else {
				out[f.name] = fragment.Clone(f.def)
			}
		}
	}
	return out, nil
}

// Elide returns a minimal record: every field whose value equals its declared
// default is removed, and nested records elide recursively, disappearing
// entirely when nothing remains. rec is not modified.
func Elide(typ Type, rec Record) (Record, error) {
	t := lookup(typ)
	out := Record{}
	for name, val := range rec {
		i, ok := t.index[name]
		if !ok {
			return nil, &UnknownFieldError{Type: typ, Field: name}
		}
		f := t.fields[i]
		switch {
		case f.structural:
			out[name] = fragment.Clone(val)
		case f.sub != "":
			sub, isRecord := val.(Record)
			if !isRecord {
				out[name] = fragment.Clone(val)
				continue
			}
			elided, err := Elide(f.sub, sub)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			if len(elided) > 0 {
				out[name] = elided
			}
		default:
			if !fragment.Equal(val, f.def) {
				out[name] = fragment.Clone(val)
			}
		}
	}
	return out, nil
}

// Default returns the declared default for one field of a record type.
func Default(typ Type, name string) (any, bool) {
	t := lookup(typ)
	i, ok := t.index[name]
	if !ok || t.fields[i].structural {
		return nil, false
	}
	f := t.fields[i]
	if f.sub != "" {
		filled, err := Fill(f.sub, nil)
		if err != nil {
			return nil, false
		}
		return filled, true
	}
	return fragment.Clone(f.def), true
}

// FieldOrder returns the declared field order of a record type; the document
// writer uses it to render records in a stable, readable order.
func FieldOrder(typ Type) []string {
	t := lookup(typ)
	out := make([]string, len(t.fields))
	for i, f := range t.fields {
		out[i] = f.name
	}
	return out
}

// Sub returns the nested record type of a field, if it has one.
func Sub(typ Type, name string) (Type, bool) {
	t := lookup(typ)
	i, ok := t.index[name]
	if !ok || t.fields[i].sub == "" {
		return "", false
	}
	return t.fields[i].sub, true
}
