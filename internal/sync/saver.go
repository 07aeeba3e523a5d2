package sync

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"go.uber.org/zap"

	"agsync/internal/document"
	"agsync/internal/fragment"
	"agsync/internal/remote"
	"agsync/internal/timefmt"
)

// Saver applies one document to the remote service: create what is missing,
// update what differs, reorder what moved, delete nothing.
type Saver struct {
	gateway remote.Gateway
	logger  *zap.Logger
	out     io.Writer
}

// NewSaver builds a saver. A nil logger disables logging; progress messages
// go to stdout.
func NewSaver(gateway remote.Gateway, logger *zap.Logger) *Saver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saver{gateway: gateway, logger: logger, out: os.Stdout}
}

// SetOutput redirects progress messages, mainly for tests.
func (s *Saver) SetOutput(w io.Writer) { s.out = w }

func (s *Saver) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format+"\n", args...)
}

// Save validates doc fully, fetches the remote graph once, and applies the
// resulting operations in document order. Operations already applied when an
// error occurs stay applied; the returned log records exactly what was done.
func (s *Saver) Save(ctx context.Context, doc *document.Document, docDir string) (*OperationLog, error) {
	log := &OperationLog{}

	p, err := buildPlan(doc, docDir)
	if err != nil {
		return log, err
	}

	graph, err := s.gateway.FetchProjectGraph(ctx, p.course, p.projectName)
	if err != nil {
		return log, err
	}
	if err := checkRemoteDuplicates(graph); err != nil {
		return log, err
	}

	b := newBinder(graph)

	project := graph.Project
	if project == nil {
		s.printf("Creating project %s...", p.projectName)
		project, err = s.gateway.Create(ctx, remote.KindProject,
			remote.ID(graph.Course), fragment.Map{"name": p.projectName})
		if err != nil {
			return log, err
		}
		log.add(Operation{Action: ActionCreate, Kind: string(remote.KindProject), Name: p.projectName})
		s.printf("Project created")
	}
	projectID := remote.ID(project)

	if err := s.saveSettings(ctx, p, project, log); err != nil {
		return log, err
	}
	if err := s.saveStudentFiles(ctx, p, projectID, b, log); err != nil {
		return log, err
	}
	if err := s.saveInstructorFiles(ctx, p, projectID, b, log); err != nil {
		return log, err
	}
	if err := s.saveTestSuites(ctx, p, projectID, graph, b, log); err != nil {
		return log, err
	}
	return log, nil
}

func (s *Saver) saveSettings(ctx context.Context, p *plan, project remote.Resource, log *OperationLog) error {
	changed := diffSettings(p.settingsBody, project)
	if len(changed) == 0 {
		s.printf("Project settings are up to date")
		return nil
	}
	s.printf("Updating project %s settings...", p.projectName)
	body := fragment.Map{}
	for _, field := range changed {
		body[field] = p.settingsBody[field]
	}
	if _, err := s.gateway.Update(ctx, remote.KindProject, remote.ID(project), body); err != nil {
		return err
	}
	log.add(Operation{
		Action: ActionUpdate, Kind: string(remote.KindProject),
		Name: p.projectName, Fields: changed,
	})
	s.printf("Project settings updated")
	return nil
}

func (s *Saver) saveStudentFiles(ctx context.Context, p *plan, projectID int, b *binder, log *OperationLog) error {
	s.printf("Checking expected student files")
	for _, file := range p.studentFiles {
		s.printf("* Checking %s ...", file.pattern)
		existing, ok := b.studentFiles[file.pattern]
		if !ok {
			created, err := s.gateway.Create(ctx, remote.KindStudentFile, projectID, file.body)
			if err != nil {
				return err
			}
			b.studentFiles[file.pattern] = created
			log.add(Operation{Action: ActionCreate, Kind: string(remote.KindStudentFile), Name: file.pattern})
			s.printf("  Created %s", file.pattern)
			continue
		}
		changed := diffFields(file.body, existing)
		if len(changed) == 0 {
			continue
		}
		updated, err := s.gateway.Update(ctx, remote.KindStudentFile, remote.ID(existing), file.body)
		if err != nil {
			return err
		}
		b.studentFiles[file.pattern] = updated
		log.add(Operation{
			Action: ActionUpdate, Kind: string(remote.KindStudentFile),
			Name: file.pattern, Fields: changed,
		})
		s.printf("  Updated %s", file.pattern)
	}
	return nil
}

func (s *Saver) saveInstructorFiles(ctx context.Context, p *plan, projectID int, b *binder, log *OperationLog) error {
	s.printf("Checking instructor files...")
	for _, file := range p.instructorFiles {
		s.printf("* Uploading %s ...", file.name)
		fileID := 0
		if existing, ok := b.instructorFiles[file.name]; ok {
			fileID = remote.ID(existing)
		}
		uploaded, err := s.gateway.UploadInstructorFile(ctx, projectID, fileID, file.name, file.content)
		if err != nil {
			return err
		}
		b.instructorFiles[file.name] = uploaded
		log.add(Operation{Action: ActionUpload, Kind: "instructor file", Name: file.name})
	}
	return nil
}

func (s *Saver) saveTestSuites(ctx context.Context, p *plan, projectID int, graph *remote.Graph, b *binder, log *OperationLog) error {
	s.printf("Checking test suites")
	remoteSuites := map[string]remote.Resource{}
	currentOrder := make([]int, 0, len(graph.TestSuites))
	for _, suite := range graph.TestSuites {
		remoteSuites[remote.Name(suite)] = suite
		currentOrder = append(currentOrder, remote.ID(suite))
	}

	suiteIDs := map[string]int{}
	for _, suite := range p.suites {
		s.printf("* Checking test suite %s ...", suite.name)
		body, err := suiteBody(suite.rec, b)
		if err != nil {
			return err
		}

		existing, ok := remoteSuites[suite.name]
		if !ok {
			created, err := s.gateway.Create(ctx, remote.KindSuite, projectID, body)
			if err != nil {
				return err
			}
			existing = created
			remoteSuites[suite.name] = created
			currentOrder = append(currentOrder, remote.ID(created))
			log.add(Operation{Action: ActionCreate, Kind: string(remote.KindSuite), Name: suite.name})
			s.printf("  Created %s", suite.name)
		} else if changed := diffFields(body, existing); len(changed) > 0 {
			if _, err := s.gateway.Update(ctx, remote.KindSuite, remote.ID(existing), body); err != nil {
				return err
			}
			log.add(Operation{
				Action: ActionUpdate, Kind: string(remote.KindSuite),
				Name: suite.name, Fields: changed,
			})
			s.printf("  Updated %s", suite.name)
		}
		suiteIDs[suite.name] = remote.ID(existing)

		if err := s.saveTestCases(ctx, suite, remote.ID(existing), existing, b, log); err != nil {
			return err
		}
	}

	desired := desiredOrder(currentOrder, orderedIDs(p.suites, suiteIDs))
	if !orderEqual(currentOrder, desired) {
		if err := s.gateway.UpdateOrder(ctx, remote.KindSuite, projectID, desired); err != nil {
			return err
		}
		log.add(Operation{Action: ActionReorder, Kind: string(remote.KindSuite)})
		s.printf("Reordered test suites")
	}
	return nil
}

func (s *Saver) saveTestCases(ctx context.Context, suite *suitePlan, suiteID int, remoteSuite remote.Resource, b *binder, log *OperationLog) error {
	remoteCases := map[string]remote.Resource{}
	currentOrder := []int{}
	for _, c := range resourceList(remoteSuite["ag_test_cases"]) {
		remoteCases[remote.Name(c)] = c
		currentOrder = append(currentOrder, remote.ID(c))
	}

	caseIDs := map[string]int{}
	for _, c := range suite.cases {
		s.printf("  * Checking test case %s ...", c.name)
		body := caseBody(c)

		existing, ok := remoteCases[c.name]
		if !ok {
			created, err := s.gateway.Create(ctx, remote.KindTestCase, suiteID, body)
			if err != nil {
				return err
			}
			existing = created
			remoteCases[c.name] = created
			currentOrder = append(currentOrder, remote.ID(created))
			log.add(Operation{Action: ActionCreate, Kind: string(remote.KindTestCase), Name: c.name})
			s.printf("    Created %s", c.name)
		} else if changed := diffFields(body, existing); len(changed) > 0 {
			if _, err := s.gateway.Update(ctx, remote.KindTestCase, remote.ID(existing), body); err != nil {
				return err
			}
			log.add(Operation{
				Action: ActionUpdate, Kind: string(remote.KindTestCase),
				Name: c.name, Fields: changed,
			})
			s.printf("    Updated %s", c.name)
		}
		caseIDs[c.name] = remote.ID(existing)

		if err := s.saveCommands(ctx, c, remote.ID(existing), existing, b, log); err != nil {
			return err
		}
	}

	desired := desiredOrder(currentOrder, orderedCaseIDs(suite.cases, caseIDs))
	if !orderEqual(currentOrder, desired) {
		if err := s.gateway.UpdateOrder(ctx, remote.KindTestCase, suiteID, desired); err != nil {
			return err
		}
		log.add(Operation{Action: ActionReorder, Kind: string(remote.KindTestCase)})
		s.printf("  Reordered test cases of %s", suite.name)
	}
	return nil
}

func (s *Saver) saveCommands(ctx context.Context, c *casePlan, caseID int, remoteCase remote.Resource, b *binder, log *OperationLog) error {
	remoteCommands := map[string]remote.Resource{}
	currentOrder := []int{}
	for _, cmd := range resourceList(remoteCase["ag_test_commands"]) {
		remoteCommands[remote.Name(cmd)] = cmd
		currentOrder = append(currentOrder, remote.ID(cmd))
	}

	commandIDs := map[string]int{}
	for _, cmd := range c.commands {
		s.printf("    * Checking command %s ...", cmd.name)
		body, err := commandBody(cmd.rec, cmd.name, b)
		if err != nil {
			return err
		}

		existing, ok := remoteCommands[cmd.name]
		if !ok {
			created, err := s.gateway.Create(ctx, remote.KindCommand, caseID, body)
			if err != nil {
				return err
			}
			existing = created
			currentOrder = append(currentOrder, remote.ID(created))
			log.add(Operation{Action: ActionCreate, Kind: string(remote.KindCommand), Name: cmd.name})
			s.printf("      Created %s", cmd.name)
		} else if changed := diffFields(body, existing); len(changed) > 0 {
			if _, err := s.gateway.Update(ctx, remote.KindCommand, remote.ID(existing), body); err != nil {
				return err
			}
			log.add(Operation{
				Action: ActionUpdate, Kind: string(remote.KindCommand),
				Name: cmd.name, Fields: changed,
			})
			s.printf("      Updated %s", cmd.name)
		}
		commandIDs[cmd.name] = remote.ID(existing)
	}

	localOrder := make([]int, 0, len(c.commands))
	for _, cmd := range c.commands {
		localOrder = append(localOrder, commandIDs[cmd.name])
	}
	desired := desiredOrder(currentOrder, localOrder)
	if !orderEqual(currentOrder, desired) {
		if err := s.gateway.UpdateOrder(ctx, remote.KindCommand, caseID, desired); err != nil {
			return err
		}
		log.add(Operation{Action: ActionReorder, Kind: string(remote.KindCommand)})
	}
	return nil
}

// diffFields reports the keys of desired whose values differ from the
// remote record, sorted for stable output.
func diffFields(desired, current fragment.Map) []string {
	changed := make([]string, 0)
	for field, want := range desired {
		have, ok := current[field]
		if !ok || !fragment.Equal(want, have) {
			changed = append(changed, field)
		}
	}
	sort.Strings(changed)
	return changed
}

// settingsTimeFields are remote settings compared by parsed value rather
// than by string: the service is free to render times differently than we
// send them.
var settingsTimeFields = map[string]bool{
	"soft_closing_time":           true,
	"closing_time":                true,
	"submission_limit_reset_time": true,
}

func diffSettings(desired, current fragment.Map) []string {
	changed := make([]string, 0)
	for field, want := range desired {
		have, ok := current[field]
		if !ok {
			changed = append(changed, field)
			continue
		}
		if settingsTimeFields[field] {
			if !timeEqual(want, have) {
				changed = append(changed, field)
			}
			continue
		}
		if !fragment.Equal(want, have) {
			changed = append(changed, field)
		}
	}
	sort.Strings(changed)
	return changed
}

func timeEqual(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return fragment.Equal(a, b)
	}
	if at, err := timefmt.ParseDatetime(as, nil); err == nil {
		bt, err := timefmt.ParseDatetime(bs, nil)
		return err == nil && at.Equal(bt)
	}
	if at, err := timefmt.ParseClock(as); err == nil {
		bt, err := timefmt.ParseClock(bs)
		return err == nil && at.Equal(bt)
	}
	return as == bs
}

// desiredOrder is the local sibling order followed by remote-only entries in
// their existing relative order. Remote entries with no local counterpart
// are never deleted, so they keep a position.
func desiredOrder(current, local []int) []int {
	inLocal := map[int]bool{}
	for _, id := range local {
		inLocal[id] = true
	}
	out := append([]int{}, local...)
	for _, id := range current {
		if !inLocal[id] {
			out = append(out, id)
		}
	}
	return out
}

func orderEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func orderedIDs(suites []*suitePlan, ids map[string]int) []int {
	out := make([]int, 0, len(suites))
	for _, s := range suites {
		out = append(out, ids[s.name])
	}
	return out
}

func orderedCaseIDs(cases []*casePlan, ids map[string]int) []int {
	out := make([]int, 0, len(cases))
	for _, c := range cases {
		out = append(out, ids[c.name])
	}
	return out
}

func resourceList(raw any) []remote.Resource {
	items, _ := raw.([]any)
	out := make([]remote.Resource, 0, len(items))
	for _, item := range items {
		if rec, ok := item.(map[string]any); ok {
			out = append(out, rec)
		}
	}
	return out
}

// checkRemoteDuplicates defends against same-named siblings on the remote
// side. The service should make this impossible, but matching by name would
// silently pick one of the two, so it is a hard error instead.
func checkRemoteDuplicates(graph *remote.Graph) error {
	if err := uniqueNames(graph.TestSuites, "test suites", nameOf); err != nil {
		return err
	}
	if err := uniqueNames(graph.StudentFiles, "expected student files", patternOf); err != nil {
		return err
	}
	if err := uniqueNames(graph.InstructorFiles, "instructor files", nameOf); err != nil {
		return err
	}
	for _, suite := range graph.TestSuites {
		scope := fmt.Sprintf("test cases of suite %q", remote.Name(suite))
		cases := resourceList(suite["ag_test_cases"])
		if err := uniqueNames(cases, scope, nameOf); err != nil {
			return err
		}
		for _, c := range cases {
			cmdScope := fmt.Sprintf("commands of test case %q", remote.Name(c))
			if err := uniqueNames(resourceList(c["ag_test_commands"]), cmdScope, nameOf); err != nil {
				return err
			}
		}
	}
	return nil
}

func uniqueNames(items []remote.Resource, scope string, key func(remote.Resource) string) error {
	seen := map[string]bool{}
	for _, item := range items {
		name := key(item)
		if name == "" {
			continue
		}
		if seen[name] {
			return &AmbiguityError{Scope: scope, Name: name, Side: "remote"}
		}
		seen[name] = true
	}
	return nil
}

func nameOf(rec remote.Resource) string { return remote.Name(rec) }

func patternOf(rec remote.Resource) string {
	pattern, _ := rec["pattern"].(string)
	return pattern
}
