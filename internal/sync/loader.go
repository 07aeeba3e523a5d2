package sync

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"agsync/internal/defaults"
	"agsync/internal/document"
	"agsync/internal/fragment"
	"agsync/internal/preset"
	"agsync/internal/remote"
)

// Known keys of the three remote feedback config shapes. Remote records are
// filtered to these before preset matching so that server-side additions
// never break the name match.
var (
	commandFdbkKeys = []string{
		"visible", "show_student_description", "return_code_fdbk_level",
		"stdout_fdbk_level", "stderr_fdbk_level", "show_points",
		"show_actual_return_code", "show_actual_stdout", "show_actual_stderr",
		"show_whether_timed_out",
	}
	suiteFdbkKeys = []string{
		"visible", "show_individual_tests", "show_student_description",
		"show_setup_return_code", "show_setup_timed_out", "show_setup_stdout",
		"show_setup_stderr",
	}
	caseRoleFdbkKeys = []string{
		"visible", "show_individual_commands", "show_student_description",
	}
)

// Loader rebuilds a minimal document from the remote object graph and
// downloads the project's instructor files next to the output document.
type Loader struct {
	gateway remote.Gateway
	logger  *zap.Logger
	out     io.Writer

	// CutoffPreference picks the deadline rendering when both closing times
	// are set: "relative" (the default) or "fixed".
	CutoffPreference string
}

// NewLoader builds a loader. A nil logger disables logging.
func NewLoader(gateway remote.Gateway, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{gateway: gateway, logger: logger, out: os.Stdout, CutoffPreference: "relative"}
}

// SetOutput redirects progress messages, mainly for tests.
func (l *Loader) SetOutput(w io.Writer) { l.out = w }

func (l *Loader) printf(format string, args ...any) {
	fmt.Fprintf(l.out, format+"\n", args...)
}

// Load fetches the named project and produces a default-elided document.
// Instructor files are written to the directory of outputPath; the caller
// writes the document itself.
func (l *Loader) Load(ctx context.Context, course document.CourseSelection, projectName, outputPath string) (*document.Document, error) {
	graph, err := l.gateway.FetchProjectGraph(ctx, course, projectName)
	if err != nil {
		return nil, err
	}
	if graph.Project == nil {
		return nil, fmt.Errorf("project %q not found in course %q (%s %d)",
			projectName, course.Name, course.Semester, course.Year)
	}
	if err := checkRemoteDuplicates(graph); err != nil {
		return nil, err
	}

	l.printf("Loading project settings...")
	settings, tzName, err := settingsFromRemote(graph.Project, l.CutoffPreference, func(msg string) {
		l.printf("Warning: %s", msg)
	})
	if err != nil {
		return nil, err
	}

	doc := &document.Document{
		Project: document.ProjectConfig{
			Name:     projectName,
			Timezone: tzName,
			Course:   course,
			Settings: settings,
		},
	}

	l.printf("Loading expected student files...")
	for _, file := range graph.StudentFiles {
		doc.Project.StudentFiles = append(doc.Project.StudentFiles, studentFileFromRemote(file))
	}

	l.printf("Loading instructor files...")
	outputDir := filepath.Dir(outputPath)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", outputDir, err)
	}
	for _, file := range graph.InstructorFiles {
		name := remote.Name(file)
		if err := l.downloadInstructorFile(ctx, file, filepath.Join(outputDir, name)); err != nil {
			return nil, err
		}
		doc.Project.InstructorFiles = append(doc.Project.InstructorFiles,
			document.InstructorFile{LocalPath: name})
	}

	l.printf("Loading test suites...")
	resolver := preset.NewResolver(nil, nil)
	for _, suite := range graph.TestSuites {
		rec, err := suiteFromRemote(suite, resolver)
		if err != nil {
			return nil, err
		}
		doc.Project.TestSuites = append(doc.Project.TestSuites, rec)
	}
	return doc, nil
}

func (l *Loader) downloadInstructorFile(ctx context.Context, file remote.Resource, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer out.Close()
	if err := l.gateway.DownloadInstructorFile(ctx, remote.ID(file), out); err != nil {
		return fmt.Errorf("failed to download %s: %w", remote.Name(file), err)
	}
	l.printf("* Downloaded %s", remote.Name(file))
	return nil
}

// studentFileFromRemote collapses a pattern that matches exactly one file to
// the bare string form.
func studentFileFromRemote(file remote.Resource) any {
	pattern, _ := file["pattern"].(string)
	min, minOK := file["min_num_matches"].(int)
	max, maxOK := file["max_num_matches"].(int)
	if minOK && maxOK && min == 1 && max == 1 {
		return pattern
	}
	return fragment.Map{
		"pattern":         pattern,
		"min_num_matches": file["min_num_matches"],
		"max_num_matches": file["max_num_matches"],
	}
}

func suiteFromRemote(suite remote.Resource, resolver *preset.Resolver) (fragment.Map, error) {
	rec := fragment.Map{"name": remote.Name(suite)}
	for _, field := range []string{
		"read_only_instructor_files", "allow_network_access", "deferred",
		"setup_suite_cmd", "setup_suite_cmd_name", "reject_submission_if_setup_fails",
	} {
		if val, ok := suite[field]; ok {
			rec[field] = val
		}
	}

	if image, ok := suite["sandbox_docker_image"].(map[string]any); ok {
		rec["sandbox_docker_image"] = image["display_name"]
	}

	var instructorFiles []any
	for _, file := range resourceList(suite["instructor_files_needed"]) {
		instructorFiles = append(instructorFiles, remote.Name(file))
	}
	if instructorFiles != nil {
		rec["instructor_files_needed"] = instructorFiles
	}

	var studentFiles []any
	for _, file := range resourceList(suite["student_files_needed"]) {
		if pattern, ok := file["pattern"].(string); ok {
			studentFiles = append(studentFiles, pattern)
		}
	}
	if studentFiles != nil {
		rec["student_files_needed"] = studentFiles
	}

	for _, field := range roleFdbkFields {
		rec[field] = feedbackRef(suite[field], preset.SuiteSetup, suiteFdbkKeys, resolver)
	}

	elided, err := defaults.Elide(defaults.TestSuite, rec)
	if err != nil {
		return nil, fmt.Errorf("suite %q: %w", remote.Name(suite), err)
	}

	var cases []any
	for _, c := range resourceList(suite["ag_test_cases"]) {
		caseRec, err := caseFromRemote(c, resolver)
		if err != nil {
			return nil, fmt.Errorf("suite %q: %w", remote.Name(suite), err)
		}
		cases = append(cases, caseRec)
	}
	if cases != nil {
		elided["test_cases"] = cases
	}
	return elided, nil
}

func caseFromRemote(c remote.Resource, resolver *preset.Resolver) (fragment.Map, error) {
	name := remote.Name(c)
	commands := resourceList(c["ag_test_commands"])

	// A case holding exactly one command with the case's own name is the
	// flattened single-command form in the document.
	if len(commands) == 1 && remote.Name(commands[0]) == name {
		rec := commandFromRemote(commands[0], resolver, false)
		rec["name"] = name
		elided, err := defaults.Elide(defaults.SingleCmdTestCase, rec)
		if err != nil {
			return nil, fmt.Errorf("test case %q: %w", name, err)
		}
		return elided, nil
	}

	rec := fragment.Map{"name": name, "type": "multi_cmd"}
	for _, field := range []string{"internal_admin_notes", "staff_description", "student_description"} {
		if val, ok := c[field]; ok {
			rec[field] = val
		}
	}

	feedback := fragment.Map{}
	for _, field := range roleFdbkFields {
		if val, ok := c[field].(map[string]any); ok {
			feedback[field] = filterKeys(val, caseRoleFdbkKeys)
		}
	}
	if len(feedback) > 0 {
		rec["feedback"] = feedback
	}

	var cmdRecs []any
	for _, cmd := range commands {
		cmdRec := commandFromRemote(cmd, resolver, true)
		elided, err := defaults.Elide(defaults.MultiCommand, cmdRec)
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", remote.Name(cmd), err)
		}
		cmdRecs = append(cmdRecs, elided)
	}

	elided, err := defaults.Elide(defaults.MultiCmdTestCase, rec)
	if err != nil {
		return nil, fmt.Errorf("test case %q: %w", name, err)
	}
	if cmdRecs != nil {
		elided["commands"] = cmdRecs
	}
	return elided, nil
}

// commandFromRemote unflattens a remote command record into the document's
// nested sections. Deduction fields only exist in the multi-command form.
func commandFromRemote(cmd remote.Resource, resolver *preset.Resolver, multi bool) fragment.Map {
	rec := fragment.Map{
		"name": remote.Name(cmd),
		"cmd":  cmd["cmd"],
	}
	if !multi {
		// The multi-command document form keeps descriptions on the case;
		// the flattened single-command form keeps them on the command.
		for _, field := range []string{
			"internal_admin_notes", "staff_description",
			"student_description", "student_on_fail_description",
		} {
			if val, ok := cmd[field]; ok {
				rec[field] = val
			}
		}
	}

	rec["input"] = fragment.Map{
		"source":          cmd["stdin_source"],
		"text":            cmd["stdin_text"],
		"instructor_file": instructorFileName(cmd["stdin_instructor_file"]),
	}

	returnCode := fragment.Map{
		"expected": cmd["expected_return_code"],
		"points":   cmd["points_for_correct_return_code"],
	}
	if multi {
		returnCode["deduction"] = cmd["deduction_for_wrong_return_code"]
	}
	rec["return_code"] = returnCode

	for _, stream := range []string{"stdout", "stderr"} {
		section := fragment.Map{
			"compare_with":    cmd["expected_"+stream+"_source"],
			"text":            cmd["expected_"+stream+"_text"],
			"instructor_file": instructorFileName(cmd["expected_"+stream+"_instructor_file"]),
			"points":          cmd["points_for_correct_"+stream],
		}
		if multi {
			section["deduction"] = cmd["deduction_for_wrong_"+stream]
		}
		rec[stream] = section
	}

	diffOptions := fragment.Map{}
	for _, field := range []string{
		"ignore_case", "ignore_whitespace", "ignore_whitespace_changes", "ignore_blank_lines",
	} {
		diffOptions[field] = cmd[field]
	}
	rec["diff_options"] = diffOptions

	feedback := fragment.Map{}
	for _, field := range commandFdbkFields {
		feedback[field] = feedbackRef(cmd[field], preset.Command, commandFdbkKeys, resolver)
	}
	rec["feedback"] = feedback

	resources := fragment.Map{
		"time_limit":           cmd["time_limit"],
		"virtual_memory_limit": nil,
		"block_process_spawn":  cmd["block_process_spawn"],
	}
	if use, _ := cmd["use_virtual_memory_limit"].(bool); use {
		resources["virtual_memory_limit"] = cmd["virtual_memory_limit"]
	}
	rec["resources"] = resources

	return rec
}

// feedbackRef turns a remote feedback config into a preset name when one
// matches, and an inline record otherwise.
func feedbackRef(raw any, kind preset.Kind, keys []string, resolver *preset.Resolver) any {
	rec, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	filtered := filterKeys(rec, keys)
	if name, ok := resolver.NameFor(kind, filtered); ok {
		return name
	}
	return filtered
}

func filterKeys(rec map[string]any, keys []string) fragment.Map {
	out := fragment.Map{}
	for _, key := range keys {
		if val, ok := rec[key]; ok {
			out[key] = val
		}
	}
	return out
}

func instructorFileName(raw any) any {
	if file, ok := raw.(map[string]any); ok {
		return file["name"]
	}
	return nil
}
