package sync

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agsync/internal/document"
	"agsync/internal/fragment"
)

// testDocument is a small but representative project: one suite holding a
// single-command case and a multi-command case, one expected student file,
// one non-default setting.
func testDocument() *document.Document {
	return &document.Document{
		Project: document.ProjectConfig{
			Name:     "Project 1",
			Timezone: "America/New_York",
			Course:   document.CourseSelection{Name: "EECS 280", Semester: "Fall", Year: 2026},
			Settings: fragment.Map{"min_group_size": 2},
			StudentFiles: []any{
				"hello.py",
			},
			TestSuites: []fragment.Map{{
				"name": "Suite 1",
				"test_cases": []any{
					fragment.Map{"name": "Test 1", "cmd": "python3 hello.py"},
					fragment.Map{
						"name": "Test 2",
						"type": "multi_cmd",
						"commands": []any{
							fragment.Map{"name": "compile", "cmd": "make"},
							fragment.Map{"name": "run", "cmd": "./app"},
						},
					},
				},
			}},
		},
	}
}

func newTestSaver(g *fakeGateway) *Saver {
	s := NewSaver(g, nil)
	s.SetOutput(io.Discard)
	return s
}

func opStrings(log *OperationLog) []string {
	out := make([]string, 0, len(log.Ops))
	for _, op := range log.Ops {
		out = append(out, op.String())
	}
	return out
}

func TestSaveCreatesFreshProject(t *testing.T) {
	g := newFakeGateway()
	saver := newTestSaver(g)

	log, err := saver.Save(context.Background(), testDocument(), t.TempDir())
	require.NoError(t, err)

	want := []string{
		`create project "Project 1"`,
		`update project "Project 1"`,
		`create expected student file "hello.py"`,
		`create test suite "Suite 1"`,
		`create test case "Test 1"`,
		`create test command "Test 1"`,
		`create test case "Test 2"`,
		`create test command "compile"`,
		`create test command "run"`,
	}
	if diff := cmp.Diff(want, opStrings(log)); diff != "" {
		t.Fatalf("unexpected operations (-want +got):\n%s", diff)
	}

	require.NotNil(t, g.project)
	assert.Equal(t, 2, g.project["min_group_size"])
	assert.Equal(t, []string{"Suite 1"}, g.suiteNames())
	assert.Equal(t, []string{"Test 1", "Test 2"}, g.suiteByName("Suite 1").caseNames())
}

func TestSaveIsIdempotent(t *testing.T) {
	g := newFakeGateway()
	saver := newTestSaver(g)
	ctx := context.Background()
	docDir := t.TempDir()

	_, err := saver.Save(ctx, testDocument(), docDir)
	require.NoError(t, err)
	writesAfterFirst := g.writes

	log, err := saver.Save(ctx, testDocument(), docDir)
	require.NoError(t, err)
	assert.Empty(t, log.Ops, "an unchanged document must produce no operations")
	assert.Equal(t, writesAfterFirst, g.writes)
}

func TestSaveUpdatesOnlyChangedFields(t *testing.T) {
	g := newFakeGateway()
	saver := newTestSaver(g)
	ctx := context.Background()
	docDir := t.TempDir()

	_, err := saver.Save(ctx, testDocument(), docDir)
	require.NoError(t, err)

	doc := testDocument()
	doc.Project.Settings["min_group_size"] = 3
	doc.Project.TestSuites[0]["deferred"] = true

	log, err := saver.Save(ctx, doc, docDir)
	require.NoError(t, err)
	require.Len(t, log.Ops, 2)

	assert.Equal(t, ActionUpdate, log.Ops[0].Action)
	assert.Equal(t, "project", log.Ops[0].Kind)
	assert.Equal(t, []string{"min_group_size"}, log.Ops[0].Fields)

	assert.Equal(t, ActionUpdate, log.Ops[1].Action)
	assert.Equal(t, "test suite", log.Ops[1].Kind)
	assert.Equal(t, []string{"deferred"}, log.Ops[1].Fields)

	assert.Equal(t, 3, g.project["min_group_size"])
	assert.Equal(t, true, g.suiteByName("Suite 1").rec["deferred"])
}

func TestSaveNeverDeletesRemoteOnlyResources(t *testing.T) {
	g := newFakeGateway()
	saver := newTestSaver(g)
	ctx := context.Background()
	docDir := t.TempDir()

	legacy := testDocument()
	legacy.Project.TestSuites = []fragment.Map{{"name": "Legacy"}}
	_, err := saver.Save(ctx, legacy, docDir)
	require.NoError(t, err)

	log, err := saver.Save(ctx, testDocument(), docDir)
	require.NoError(t, err)

	// The remote-only suite survives and trails the document's suites.
	assert.Equal(t, []string{"Suite 1", "Legacy"}, g.suiteNames())
	last := log.Ops[len(log.Ops)-1]
	assert.Equal(t, ActionReorder, last.Action)
	assert.Equal(t, "test suite", last.Kind)
}

func TestSaveReordersExistingSiblings(t *testing.T) {
	g := newFakeGateway()
	saver := newTestSaver(g)
	ctx := context.Background()
	docDir := t.TempDir()

	doc := testDocument()
	doc.Project.TestSuites = []fragment.Map{{"name": "A"}, {"name": "B"}}
	_, err := saver.Save(ctx, doc, docDir)
	require.NoError(t, err)

	swapped := testDocument()
	swapped.Project.TestSuites = []fragment.Map{{"name": "B"}, {"name": "A"}}
	log, err := saver.Save(ctx, swapped, docDir)
	require.NoError(t, err)

	assert.Equal(t, []string{"reorder test suite"}, opStrings(log))
	assert.Equal(t, []string{"B", "A"}, g.suiteNames())
}

func TestSaveExpandsRepeatsInOrder(t *testing.T) {
	g := newFakeGateway()
	saver := newTestSaver(g)

	doc := testDocument()
	doc.Project.TestSuites = []fragment.Map{{
		"name": "Suite 1",
		"test_cases": []any{
			fragment.Map{
				"name": "Test $n",
				"cmd":  "python3 run_tests.py $n",
				"repeat": []any{
					fragment.Map{"$n": 1},
					fragment.Map{"$n": 2},
					fragment.Map{"$n": 3},
				},
			},
		},
	}}

	_, err := saver.Save(context.Background(), doc, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"Test 1", "Test 2", "Test 3"}, g.suiteByName("Suite 1").caseNames())
}

func TestSaveConfigErrorsHappenBeforeAnyNetworkCall(t *testing.T) {
	g := newFakeGateway()
	saver := newTestSaver(g)

	doc := testDocument()
	doc.Project.TestSuites = []fragment.Map{{
		"name": "Suite 1",
		"test_cases": []any{fragment.Map{
			"name":     "Test 1",
			"cmd":      "true",
			"feedback": fragment.Map{"normal_fdbk_config": "no-such-preset"},
		}},
	}}

	log, err := saver.Save(context.Background(), doc, t.TempDir())
	var cfgErr *document.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, log.Ops)
	assert.Zero(t, g.fetches, "config errors must surface before the graph fetch")
	assert.Zero(t, g.writes)
}

func TestSaveRejectsLocalDuplicateNames(t *testing.T) {
	g := newFakeGateway()
	saver := newTestSaver(g)

	doc := testDocument()
	doc.Project.TestSuites = []fragment.Map{{"name": "Suite 1"}, {"name": "Suite 1"}}

	_, err := saver.Save(context.Background(), doc, t.TempDir())
	var ambiguous *AmbiguityError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, "local", ambiguous.Side)
	assert.Equal(t, "Suite 1", ambiguous.Name)
	assert.Zero(t, g.fetches)
}

func TestSaveRejectsRemoteDuplicateNames(t *testing.T) {
	g := newFakeGateway()
	g.project = fragment.Map{"pk": 5, "name": "Project 1"}
	g.suites = []*fakeSuite{
		{rec: fragment.Map{"pk": 6, "name": "Dup"}},
		{rec: fragment.Map{"pk": 7, "name": "Dup"}},
	}
	saver := newTestSaver(g)

	_, err := saver.Save(context.Background(), testDocument(), t.TempDir())
	var ambiguous *AmbiguityError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, "remote", ambiguous.Side)
	assert.Zero(t, g.writes, "nothing may be written once matching is ambiguous")
}

func TestSaveUploadsInstructorFiles(t *testing.T) {
	g := newFakeGateway()
	saver := newTestSaver(g)
	ctx := context.Background()

	docDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docDir, "notes.txt"), []byte("v1\n"), 0o644))
	doc := testDocument()
	doc.Project.InstructorFiles = []document.InstructorFile{{LocalPath: "notes.txt"}}

	log, err := saver.Save(ctx, doc, docDir)
	require.NoError(t, err)
	assert.Contains(t, opStrings(log), `upload instructor file "notes.txt"`)
	require.Len(t, g.instructorFiles, 1)
	fileID := g.instructorFiles[0]["pk"].(int)
	assert.Equal(t, []byte("v1\n"), g.fileContents[fileID])

	// A re-save replaces the content in place instead of creating a second
	// file with the same name.
	require.NoError(t, os.WriteFile(filepath.Join(docDir, "notes.txt"), []byte("v2\n"), 0o644))
	log, err = saver.Save(ctx, doc, docDir)
	require.NoError(t, err)
	assert.Equal(t, []string{`upload instructor file "notes.txt"`}, opStrings(log))
	require.Len(t, g.instructorFiles, 1)
	assert.Equal(t, []byte("v2\n"), g.fileContents[fileID])
}

func TestSaveMissingInstructorFileIsConfigError(t *testing.T) {
	g := newFakeGateway()
	saver := newTestSaver(g)

	doc := testDocument()
	doc.Project.InstructorFiles = []document.InstructorFile{{LocalPath: "does_not_exist.txt"}}

	_, err := saver.Save(context.Background(), doc, t.TempDir())
	var cfgErr *document.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Zero(t, g.fetches)
}

func TestSaveUnknownSandboxImage(t *testing.T) {
	g := newFakeGateway()
	saver := newTestSaver(g)

	doc := testDocument()
	doc.Project.TestSuites = []fragment.Map{{
		"name":                 "Suite 1",
		"sandbox_docker_image": "Missing Image",
	}}

	log, err := saver.Save(context.Background(), doc, t.TempDir())
	require.ErrorContains(t, err, `sandbox image "Missing Image"`)
	// Operations applied before the failure stay applied and stay recorded.
	assert.NotEmpty(t, log.Ops)
}

func TestDesiredOrder(t *testing.T) {
	got := desiredOrder([]int{3, 1, 2}, []int{2, 1})
	assert.Equal(t, []int{2, 1, 3}, got)

	// Already in the desired order: nothing to do.
	assert.True(t, orderEqual([]int{1, 2}, desiredOrder([]int{1, 2}, []int{1, 2})))
	assert.False(t, orderEqual([]int{1, 2}, []int{2, 1}))
}
