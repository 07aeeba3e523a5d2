package sync

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"agsync/internal/defaults"
	"agsync/internal/document"
	"agsync/internal/expand"
	"agsync/internal/fragment"
	"agsync/internal/preset"
	"agsync/internal/timefmt"
)

// plan is a fully validated save: every entry expanded, every preset
// resolved, every default filled, every file read, before the first network
// call. Anything that can fail for configuration reasons fails while
// building the plan.
type plan struct {
	projectName string
	course      document.CourseSelection
	location    *time.Location
	tzName      string

	settingsBody    fragment.Map
	studentFiles    []studentFilePlan
	instructorFiles []instructorFilePlan
	suites          []*suitePlan
}

type studentFilePlan struct {
	pattern string
	body    fragment.Map
}

type instructorFilePlan struct {
	name    string
	content []byte
}

type suitePlan struct {
	name  string
	rec   fragment.Map // filled suite record, feedback refs resolved
	cases []*casePlan
}

type casePlan struct {
	name     string
	typ      defaults.Type
	rec      fragment.Map // filled case record
	commands []*commandPlan
}

type commandPlan struct {
	name string
	rec  fragment.Map // filled command record, feedback refs resolved
}

var roleFdbkFields = []string{
	"normal_fdbk_config",
	"ultimate_submission_fdbk_config",
	"past_limit_submission_fdbk_config",
	"staff_viewer_fdbk_config",
}

var commandFdbkFields = []string{
	"normal_fdbk_config",
	"first_failed_test_normal_fdbk_config",
	"ultimate_submission_fdbk_config",
	"past_limit_submission_fdbk_config",
	"staff_viewer_fdbk_config",
}

// buildPlan validates the whole document and turns it into a plan. docDir is
// the directory of the document file; instructor file paths resolve relative
// to it.
func buildPlan(doc *document.Document, docDir string) (*plan, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	loc, err := timefmt.LoadTimezone(doc.Project.Timezone)
	if err != nil {
		return nil, document.NewConfigError(doc.Project.Name, "timezone", "%s", err)
	}

	p := &plan{
		projectName: doc.Project.Name,
		course:      doc.Project.Course,
		location:    loc,
		tzName:      doc.Project.Timezone,
	}

	settings, err := defaults.Fill(defaults.ProjectSettings, doc.Project.Settings)
	if err != nil {
		return nil, document.NewConfigError(doc.Project.Name, "settings", "%s", err)
	}
	if p.settingsBody, err = settingsWireBody(settings, loc, p.tzName); err != nil {
		return nil, err
	}

	if err := p.planStudentFiles(doc.Project.StudentFiles); err != nil {
		return nil, err
	}
	if err := p.planInstructorFiles(doc.Project.InstructorFiles, docDir); err != nil {
		return nil, err
	}

	resolver := preset.NewResolver(doc.FeedbackPresets, doc.SuiteSetupPresets)
	if err := p.planSuites(doc.Project.TestSuites, resolver); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *plan) planStudentFiles(entries []any) error {
	seen := map[string]bool{}
	for i, entry := range entries {
		var pattern string
		var body fragment.Map
		switch val := entry.(type) {
		case string:
			pattern = val
			body = fragment.Map{"pattern": val}
		case fragment.Map:
			if filename, ok := val["filename"].(string); ok {
				pattern = filename
				body = fragment.Map{"pattern": filename}
				break
			}
			raw, ok := val["pattern"].(string)
			if !ok {
				return &document.ConfigError{
					Entry: "student_files", Index: i,
					Msg: "expected a filename or a pattern",
				}
			}
			pattern = raw
			body = fragment.Map{
				"pattern":         raw,
				"min_num_matches": val["min_num_matches"],
				"max_num_matches": val["max_num_matches"],
			}
		default:
			return &document.ConfigError{
				Entry: "student_files", Index: i,
				Msg: fmt.Sprintf("expected a string or a mapping, got %T", entry),
			}
		}
		if seen[pattern] {
			return &AmbiguityError{Scope: "expected student files", Name: pattern, Side: "local"}
		}
		seen[pattern] = true
		p.studentFiles = append(p.studentFiles, studentFilePlan{pattern: pattern, body: body})
	}
	return nil
}

func (p *plan) planInstructorFiles(files []document.InstructorFile, docDir string) error {
	seen := map[string]bool{}
	for _, file := range files {
		name := file.Name()
		if seen[name] {
			return &AmbiguityError{Scope: "instructor files", Name: name, Side: "local"}
		}
		seen[name] = true

		content, err := os.ReadFile(filepath.Join(docDir, file.LocalPath))
		if err != nil {
			return document.NewConfigError(name, "local_path",
				"failed to read instructor file: %s", err)
		}
		p.instructorFiles = append(p.instructorFiles, instructorFilePlan{
			name:    name,
			content: content,
		})
	}
	return nil
}

func (p *plan) planSuites(raw []fragment.Map, resolver *preset.Resolver) error {
	expanded, err := expand.Entries(raw)
	if err != nil {
		return err
	}

	seen := map[string]bool{}
	for _, entry := range expanded {
		suite, err := p.planSuite(entry, resolver)
		if err != nil {
			return err
		}
		if seen[suite.name] {
			return &AmbiguityError{Scope: "test suites", Name: suite.name, Side: "local"}
		}
		seen[suite.name] = true
		p.suites = append(p.suites, suite)
	}
	return nil
}

func (p *plan) planSuite(entry fragment.Map, resolver *preset.Resolver) (*suitePlan, error) {
	rec, err := defaults.Fill(defaults.TestSuite, entry)
	if err != nil {
		return nil, document.NewConfigError(entryName(entry), "", "%s", err)
	}
	name, ok := rec["name"].(string)
	if !ok || name == "" {
		return nil, document.NewConfigError("", "", "test suite is missing a name")
	}

	for _, field := range roleFdbkFields {
		resolved, err := resolver.Resolve(preset.SuiteSetup, rec[field])
		if err != nil {
			return nil, document.NewConfigError(name, field, "%s", err)
		}
		rec[field] = resolved
	}

	for _, fileName := range asStrings(rec["instructor_files_needed"]) {
		if !p.hasInstructorFile(fileName) {
			return nil, document.NewConfigError(name, "instructor_files_needed",
				"instructor file %q not found in the document", fileName)
		}
	}
	for _, pattern := range asStrings(rec["student_files_needed"]) {
		if !p.hasStudentFile(pattern) {
			return nil, document.NewConfigError(name, "student_files_needed",
				"expected student file %q not found in the document", pattern)
		}
	}

	suite := &suitePlan{name: name, rec: rec}

	caseEntries, err := expand.Entries(asMaps(rec["test_cases"]))
	if err != nil {
		return nil, err
	}
	delete(rec, "test_cases")

	seen := map[string]bool{}
	for _, caseEntry := range caseEntries {
		c, err := p.planCase(caseEntry, resolver)
		if err != nil {
			return nil, err
		}
		if seen[c.name] {
			return nil, &AmbiguityError{
				Scope: fmt.Sprintf("test cases of suite %q", name),
				Name:  c.name,
				Side:  "local",
			}
		}
		seen[c.name] = true
		suite.cases = append(suite.cases, c)
	}
	return suite, nil
}

func (p *plan) planCase(entry fragment.Map, resolver *preset.Resolver) (*casePlan, error) {
	typ := document.CaseType(entry)
	rec, err := defaults.Fill(typ, entry)
	if err != nil {
		return nil, document.NewConfigError(entryName(entry), "", "%s", err)
	}
	name, ok := rec["name"].(string)
	if !ok || name == "" {
		return nil, document.NewConfigError("", "", "test case is missing a name")
	}
	c := &casePlan{name: name, typ: typ, rec: rec}

	if typ == defaults.SingleCmdTestCase {
		// A single-command case owns exactly one command, named after the
		// case itself.
		if _, ok := rec["cmd"].(string); !ok {
			return nil, document.NewConfigError(name, "cmd", "test case is missing a cmd")
		}
		if err := p.resolveCommandFeedback(rec, name, resolver); err != nil {
			return nil, err
		}
		c.commands = append(c.commands, &commandPlan{name: name, rec: rec})
		return c, nil
	}

	cmdEntries, err := expand.Entries(asMaps(rec["commands"]))
	if err != nil {
		return nil, err
	}
	delete(rec, "commands")

	seen := map[string]bool{}
	for _, cmdEntry := range cmdEntries {
		cmdRec, err := defaults.Fill(defaults.MultiCommand, cmdEntry)
		if err != nil {
			return nil, document.NewConfigError(entryName(cmdEntry), "", "%s", err)
		}
		cmdName, ok := cmdRec["name"].(string)
		if !ok || cmdName == "" {
			return nil, document.NewConfigError(name, "commands", "command is missing a name")
		}
		if _, ok := cmdRec["cmd"].(string); !ok {
			return nil, document.NewConfigError(cmdName, "cmd", "command is missing a cmd")
		}
		if err := p.resolveCommandFeedback(cmdRec, cmdName, resolver); err != nil {
			return nil, err
		}
		if seen[cmdName] {
			return nil, &AmbiguityError{
				Scope: fmt.Sprintf("commands of test case %q", name),
				Name:  cmdName,
				Side:  "local",
			}
		}
		seen[cmdName] = true
		c.commands = append(c.commands, &commandPlan{name: cmdName, rec: cmdRec})
	}
	return c, nil
}

// resolveCommandFeedback resolves the five per-role feedback references of a
// command record in place and validates its instructor file references.
func (p *plan) resolveCommandFeedback(rec fragment.Map, name string, resolver *preset.Resolver) error {
	feedback, _ := rec["feedback"].(fragment.Map)
	for _, field := range commandFdbkFields {
		resolved, err := resolver.Resolve(preset.Command, feedback[field])
		if err != nil {
			return document.NewConfigError(name, "feedback."+field, "%s", err)
		}
		feedback[field] = resolved
	}

	for _, section := range []string{"input", "stdout", "stderr"} {
		sub, _ := rec[section].(fragment.Map)
		if sub == nil {
			continue
		}
		fileName, ok := sub["instructor_file"].(string)
		if !ok {
			continue
		}
		if !p.hasInstructorFile(fileName) {
			return document.NewConfigError(name, section+".instructor_file",
				"instructor file %q not found in the document", fileName)
		}
	}
	return nil
}

func (p *plan) hasInstructorFile(name string) bool {
	for _, f := range p.instructorFiles {
		if f.name == name {
			return true
		}
	}
	return false
}

func (p *plan) hasStudentFile(pattern string) bool {
	for _, f := range p.studentFiles {
		if f.pattern == pattern {
			return true
		}
	}
	return false
}

func entryName(entry fragment.Map) string {
	name, _ := entry["name"].(string)
	return name
}

func asMaps(v any) []fragment.Map {
	items, _ := v.([]any)
	out := make([]fragment.Map, 0, len(items))
	for _, item := range items {
		if m, ok := item.(fragment.Map); ok {
			out = append(out, m)
		}
	}
	return out
}

func asStrings(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
