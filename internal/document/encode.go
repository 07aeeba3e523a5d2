package document

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"agsync/internal/defaults"
	"agsync/internal/fragment"
)

// Canonical field orders for record shapes that are not governed by a
// defaults table: fully spelled-out feedback configs and deadline records.
var (
	commandFdbkConfigOrder = []string{
		"visible", "show_student_description", "return_code_fdbk_level",
		"stdout_fdbk_level", "stderr_fdbk_level", "show_points",
		"show_actual_return_code", "show_actual_stdout", "show_actual_stderr",
		"show_whether_timed_out",
	}
	suiteFdbkConfigOrder = []string{
		"visible", "show_individual_tests", "show_student_description",
		"show_setup_return_code", "show_setup_timed_out", "show_setup_stdout",
		"show_setup_stderr",
	}
	deadlineOrder    = []string{"cutoff_type", "deadline", "cutoff"}
	studentFileOrder = []string{"filename", "pattern", "min_num_matches", "max_num_matches"}
)

var suiteFdbkRefKeys = map[string]bool{
	"normal_fdbk_config":                true,
	"ultimate_submission_fdbk_config":   true,
	"past_limit_submission_fdbk_config": true,
	"staff_viewer_fdbk_config":          true,
}

func (d *Document) encode() (*yaml.Node, error) {
	root := mappingNode()

	project, err := d.Project.encode()
	if err != nil {
		return nil, err
	}
	appendPair(root, "project", project)

	if len(d.FeedbackPresets) > 0 {
		appendPair(root, "feedback_presets",
			encodePresetTable(d.FeedbackPresets, commandFdbkConfigOrder))
	}
	if len(d.SuiteSetupPresets) > 0 {
		appendPair(root, "feedback_presets_test_suite_setup",
			encodePresetTable(d.SuiteSetupPresets, suiteFdbkConfigOrder))
	}
	return root, nil
}

func (p *ProjectConfig) encode() (*yaml.Node, error) {
	node := mappingNode()
	appendPair(node, "name", scalarNode(p.Name))
	appendPair(node, "timezone", scalarNode(p.Timezone))

	course := mappingNode()
	appendPair(course, "name", scalarNode(p.Course.Name))
	if p.Course.Semester != "" {
		appendPair(course, "semester", scalarNode(p.Course.Semester))
	} else {
		appendPair(course, "semester", scalarNode(nil))
	}
	if p.Course.Year != 0 {
		appendPair(course, "year", scalarNode(p.Course.Year))
	} else {
		appendPair(course, "year", scalarNode(nil))
	}
	appendPair(node, "course", course)

	if len(p.Settings) > 0 {
		appendPair(node, "settings", encodeTyped(p.Settings, defaults.ProjectSettings))
	}

	if len(p.StudentFiles) > 0 {
		seq := sequenceNode()
		for _, item := range p.StudentFiles {
			if m, ok := item.(fragment.Map); ok {
				seq.Content = append(seq.Content, encodeOrdered(m, studentFileOrder))
			} else {
				seq.Content = append(seq.Content, scalarNode(item))
			}
		}
		appendPair(node, "student_files", seq)
	}

	if len(p.InstructorFiles) > 0 {
		seq := sequenceNode()
		for _, f := range p.InstructorFiles {
			entry := mappingNode()
			appendPair(entry, "local_path", scalarNode(f.LocalPath))
			seq.Content = append(seq.Content, entry)
		}
		appendPair(node, "instructor_files", seq)
	}

	if len(p.TestSuites) > 0 {
		seq := sequenceNode()
		for _, suite := range p.TestSuites {
			seq.Content = append(seq.Content, encodeTyped(suite, defaults.TestSuite))
		}
		appendPair(node, "test_suites", seq)
	}
	return node, nil
}

// CaseType reports the defaults table governing a test case fragment, keyed
// off its "type" field.
func CaseType(entry fragment.Map) defaults.Type {
	if t, _ := entry["type"].(string); t == "multi_cmd" {
		return defaults.MultiCmdTestCase
	}
	return defaults.SingleCmdTestCase
}

// encodeTyped renders a record in the field order its defaults table
// declares, recursing with the right table for nested records. Keys the
// table does not know render last, sorted, so nothing is ever silently
// dropped.
func encodeTyped(rec fragment.Map, typ defaults.Type) *yaml.Node {
	node := mappingNode()
	seen := map[string]bool{}
	for _, name := range defaults.FieldOrder(typ) {
		val, ok := rec[name]
		if !ok {
			continue
		}
		seen[name] = true
		appendPair(node, name, encodeField(typ, name, val))
	}
	extras := make([]string, 0)
	for name := range rec {
		if !seen[name] {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	for _, name := range extras {
		appendPair(node, name, encodeAny(rec[name]))
	}
	return node
}

func encodeField(typ defaults.Type, name string, val any) *yaml.Node {
	switch {
	case typ == defaults.TestSuite && name == "test_cases":
		seq := sequenceNode()
		for _, item := range asSlice(val) {
			if m, ok := item.(fragment.Map); ok {
				seq.Content = append(seq.Content, encodeTyped(m, CaseType(m)))
			} else {
				seq.Content = append(seq.Content, encodeAny(item))
			}
		}
		return seq
	case typ == defaults.MultiCmdTestCase && name == "commands":
		seq := sequenceNode()
		for _, item := range asSlice(val) {
			if m, ok := item.(fragment.Map); ok {
				seq.Content = append(seq.Content, encodeTyped(m, defaults.MultiCommand))
			} else {
				seq.Content = append(seq.Content, encodeAny(item))
			}
		}
		return seq
	case typ == defaults.TestSuite && suiteFdbkRefKeys[name]:
		if m, ok := val.(fragment.Map); ok {
			return encodeOrdered(m, suiteFdbkConfigOrder)
		}
		return scalarNode(val)
	case typ == defaults.CommandFeedback:
		if m, ok := val.(fragment.Map); ok {
			return encodeOrdered(m, commandFdbkConfigOrder)
		}
		return scalarNode(val)
	case typ == defaults.ProjectSettings && name == "deadline":
		if m, ok := val.(fragment.Map); ok {
			return encodeOrdered(m, deadlineOrder)
		}
		return scalarNode(val)
	}

	if sub, ok := defaults.Sub(typ, name); ok {
		if m, isMap := val.(fragment.Map); isMap {
			return encodeTyped(m, sub)
		}
	}
	return encodeAny(val)
}

func encodePresetTable(presets map[string]fragment.Map, order []string) *yaml.Node {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	node := mappingNode()
	for _, name := range names {
		appendPair(node, name, encodeOrdered(presets[name], order))
	}
	return node
}

// encodeOrdered renders a record with the given keys first, in order, and
// any remaining keys after them, sorted.
func encodeOrdered(rec fragment.Map, order []string) *yaml.Node {
	node := mappingNode()
	seen := map[string]bool{}
	for _, name := range order {
		if val, ok := rec[name]; ok {
			seen[name] = true
			appendPair(node, name, encodeAny(val))
		}
	}
	extras := make([]string, 0)
	for name := range rec {
		if !seen[name] {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	for _, name := range extras {
		appendPair(node, name, encodeAny(rec[name]))
	}
	return node
}

// encodeAny renders an untyped fragment deterministically: mapping keys
// sorted, sequences in order.
func encodeAny(v any) *yaml.Node {
	switch val := v.(type) {
	case fragment.Map:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		node := mappingNode()
		for _, k := range keys {
			appendPair(node, k, encodeAny(val[k]))
		}
		return node
	case []any:
		node := sequenceNode()
		for _, item := range val {
			node.Content = append(node.Content, encodeAny(item))
		}
		return node
	default:
		return scalarNode(v)
	}
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

func mappingNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func sequenceNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
}

func scalarNode(v any) *yaml.Node {
	if v == nil {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
	node := &yaml.Node{}
	if err := node.Encode(v); err != nil {
		node.SetString(fmt.Sprintf("%v", v))
	}
	return node
}

func appendPair(mapping *yaml.Node, key string, value *yaml.Node) {
	k := &yaml.Node{}
	k.SetString(key)
	mapping.Content = append(mapping.Content, k, value)
}
