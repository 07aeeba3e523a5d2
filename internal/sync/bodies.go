package sync

import (
	"fmt"

	"agsync/internal/defaults"
	"agsync/internal/fragment"
	"agsync/internal/remote"
)

// binder resolves by-name references in document records to the full remote
// records the service expects in request bodies. It is populated from the
// fetched graph plus any resources created earlier in the same save.
type binder struct {
	images          map[string]remote.Resource // by display name
	studentFiles    map[string]remote.Resource // by pattern
	instructorFiles map[string]remote.Resource // by name
}

func newBinder(graph *remote.Graph) *binder {
	b := &binder{
		images:          make(map[string]remote.Resource),
		studentFiles:    make(map[string]remote.Resource),
		instructorFiles: make(map[string]remote.Resource),
	}
	for _, img := range graph.SandboxImages {
		if name, _ := img["display_name"].(string); name != "" {
			b.images[name] = img
		}
	}
	for _, f := range graph.StudentFiles {
		if pattern, _ := f["pattern"].(string); pattern != "" {
			b.studentFiles[pattern] = f
		}
	}
	for _, f := range graph.InstructorFiles {
		if name := remote.Name(f); name != "" {
			b.instructorFiles[name] = f
		}
	}
	return b
}

// suiteBody builds the create/update body for a test suite from its filled
// record: file and image references become full remote records.
func suiteBody(rec fragment.Map, b *binder) (fragment.Map, error) {
	name, _ := rec["name"].(string)
	body := fragment.Map{"name": name}
	for _, field := range []string{
		"read_only_instructor_files", "allow_network_access", "deferred",
		"setup_suite_cmd", "setup_suite_cmd_name", "reject_submission_if_setup_fails",
	} {
		body[field] = rec[field]
	}
	for _, field := range roleFdbkFields {
		body[field] = rec[field]
	}

	imageName, _ := rec["sandbox_docker_image"].(string)
	image, ok := b.images[imageName]
	if !ok {
		return nil, fmt.Errorf("suite %q: sandbox image %q not found on the server", name, imageName)
	}
	body["sandbox_docker_image"] = image

	var instructorFiles []any
	for _, fileName := range asStrings(rec["instructor_files_needed"]) {
		file, ok := b.instructorFiles[fileName]
		if !ok {
			return nil, fmt.Errorf("suite %q: instructor file %q not found on the server", name, fileName)
		}
		instructorFiles = append(instructorFiles, file)
	}
	body["instructor_files_needed"] = instructorFiles

	var studentFiles []any
	for _, pattern := range asStrings(rec["student_files_needed"]) {
		file, ok := b.studentFiles[pattern]
		if !ok {
			return nil, fmt.Errorf("suite %q: expected student file %q not found on the server", name, pattern)
		}
		studentFiles = append(studentFiles, file)
	}
	body["student_files_needed"] = studentFiles

	return body, nil
}

// caseBody builds the create/update body for a test case. Multi-command
// cases carry their four per-role feedback configs; single-command cases
// leave the server defaults alone.
func caseBody(c *casePlan) fragment.Map {
	body := fragment.Map{
		"name":                 c.name,
		"internal_admin_notes": c.rec["internal_admin_notes"],
		"staff_description":    c.rec["staff_description"],
		"student_description":  c.rec["student_description"],
	}
	if c.typ == defaults.MultiCmdTestCase {
		feedback, _ := c.rec["feedback"].(fragment.Map)
		for _, field := range roleFdbkFields {
			body[field] = feedback[field]
		}
	}
	return body
}

// commandBody flattens a filled command record into the wire shape: the
// nested input/return_code/stdout/stderr/diff_options/feedback/resources
// sections become the service's flat field names, and instructor file name
// references become full records.
func commandBody(rec fragment.Map, name string, b *binder) (fragment.Map, error) {
	body := fragment.Map{"name": name, "cmd": rec["cmd"]}
	for _, field := range []string{
		"internal_admin_notes", "staff_description",
		"student_description", "student_on_fail_description",
	} {
		if val, ok := rec[field]; ok {
			body[field] = val
		}
	}

	input, _ := rec["input"].(fragment.Map)
	body["stdin_source"] = input["source"]
	body["stdin_text"] = input["text"]
	stdinFile, err := b.instructorFileRef(input["instructor_file"], name)
	if err != nil {
		return nil, err
	}
	body["stdin_instructor_file"] = stdinFile

	returnCode, _ := rec["return_code"].(fragment.Map)
	body["expected_return_code"] = returnCode["expected"]
	body["points_for_correct_return_code"] = returnCode["points"]
	if deduction, ok := returnCode["deduction"]; ok {
		body["deduction_for_wrong_return_code"] = deduction
	}

	for _, stream := range []string{"stdout", "stderr"} {
		section, _ := rec[stream].(fragment.Map)
		body["expected_"+stream+"_source"] = section["compare_with"]
		body["expected_"+stream+"_text"] = section["text"]
		file, err := b.instructorFileRef(section["instructor_file"], name)
		if err != nil {
			return nil, err
		}
		body["expected_"+stream+"_instructor_file"] = file
		body["points_for_correct_"+stream] = section["points"]
		if deduction, ok := section["deduction"]; ok {
			body["deduction_for_wrong_"+stream] = deduction
		}
	}

	diffOptions, _ := rec["diff_options"].(fragment.Map)
	for _, field := range []string{
		"ignore_case", "ignore_whitespace", "ignore_whitespace_changes", "ignore_blank_lines",
	} {
		body[field] = diffOptions[field]
	}

	feedback, _ := rec["feedback"].(fragment.Map)
	for _, field := range commandFdbkFields {
		body[field] = feedback[field]
	}

	resources, _ := rec["resources"].(fragment.Map)
	body["time_limit"] = resources["time_limit"]
	body["block_process_spawn"] = resources["block_process_spawn"]
	vml := resources["virtual_memory_limit"]
	body["use_virtual_memory_limit"] = vml != nil
	if vml != nil {
		body["virtual_memory_limit"] = vml
	}

	return body, nil
}

func (b *binder) instructorFileRef(raw any, owner string) (any, error) {
	if raw == nil {
		return nil, nil
	}
	name, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%s: expected an instructor file name, got %T", owner, raw)
	}
	file, ok := b.instructorFiles[name]
	if !ok {
		return nil, fmt.Errorf("%s: instructor file %q not found on the server", owner, name)
	}
	return file, nil
}
