// Package remote talks to the grading service API. The low-level Client
// handles authentication, status-to-error mapping, and pagination; the
// Gateway interface exposes the handful of operations the sync engine needs,
// so tests can substitute an in-memory implementation.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"go.uber.org/zap"

	"agsync/internal/document"
	"agsync/internal/fragment"
)

// Resource is one remote record as the service returns it: a JSON object
// with at least a pk and usually a name.
type Resource = fragment.Map

// ID extracts the primary key of a resource.
func ID(rec Resource) int {
	switch v := rec["pk"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Name extracts the name of a resource.
func Name(rec Resource) string {
	s, _ := rec["name"].(string)
	return s
}

// Kind identifies one resource type the sync engine creates and updates.
type Kind string

const (
	KindProject     Kind = "project"
	KindStudentFile Kind = "expected student file"
	KindSuite       Kind = "test suite"
	KindTestCase    Kind = "test case"
	KindCommand     Kind = "test command"
)

var createPaths = map[Kind]string{
	KindProject:     "/api/courses/%d/projects/",
	KindStudentFile: "/api/projects/%d/expected_student_files/",
	KindSuite:       "/api/projects/%d/ag_test_suites/",
	KindTestCase:    "/api/ag_test_suites/%d/ag_test_cases/",
	KindCommand:     "/api/ag_test_cases/%d/ag_test_commands/",
}

var updatePaths = map[Kind]string{
	KindProject:     "/api/projects/%d/",
	KindStudentFile: "/api/expected_student_files/%d/",
	KindSuite:       "/api/ag_test_suites/%d/",
	KindTestCase:    "/api/ag_test_cases/%d/",
	KindCommand:     "/api/ag_test_commands/%d/",
}

// Graph is everything the sync engine needs to know about the remote side of
// one project, fetched up front in a single pass. Project is nil when the
// project does not exist yet; the child listings are empty in that case.
// Test suites carry their cases, and cases their commands, nested the way
// the service returns them.
type Graph struct {
	Course          Resource
	Project         Resource
	StudentFiles    []Resource
	InstructorFiles []Resource
	SandboxImages   []Resource
	TestSuites      []Resource
}

// SandboxImage finds a sandbox image by display name.
func (g *Graph) SandboxImage(displayName string) (Resource, bool) {
	for _, img := range g.SandboxImages {
		if name, _ := img["display_name"].(string); name == displayName {
			return img, true
		}
	}
	return nil, false
}

// Gateway is the remote surface the sync engine runs against.
type Gateway interface {
	// FetchProjectGraph loads the course, the named project if it exists,
	// and all of the project's children.
	FetchProjectGraph(ctx context.Context, course document.CourseSelection, projectName string) (*Graph, error)

	// Create posts a new resource under its parent and returns the created
	// record, pk included.
	Create(ctx context.Context, kind Kind, parentID int, body fragment.Map) (Resource, error)

	// Update patches an existing resource and returns the updated record.
	Update(ctx context.Context, kind Kind, id int, body fragment.Map) (Resource, error)

	// UpdateOrder sets the order of a parent's children of the given kind.
	UpdateOrder(ctx context.Context, kind Kind, parentID int, ids []int) error

	// UploadInstructorFile creates the file (fileID zero) or replaces its
	// content, returning the file record.
	UploadInstructorFile(ctx context.Context, projectID, fileID int, name string, content []byte) (Resource, error)

	// DownloadInstructorFile streams a file's content into w.
	DownloadInstructorFile(ctx context.Context, fileID int, w io.Writer) error
}

// HTTPGateway implements Gateway against the live service.
type HTTPGateway struct {
	client *Client
	logger *zap.Logger
}

// NewHTTPGateway wraps a client.
func NewHTTPGateway(client *Client, logger *zap.Logger) *HTTPGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPGateway{client: client, logger: logger}
}

func (g *HTTPGateway) FetchProjectGraph(ctx context.Context, course document.CourseSelection, projectName string) (*Graph, error) {
	if course.Semester == "" || course.Year == 0 {
		return nil, fmt.Errorf("course %q needs a semester and year to be looked up", course.Name)
	}

	var courseRec Resource
	coursePath := fmt.Sprintf("/api/course/%s/%s/%d/",
		url.PathEscape(course.Name), url.PathEscape(course.Semester), course.Year)
	if err := g.client.GetJSON(ctx, coursePath, &courseRec); err != nil {
		if _, ok := err.(*NotFoundError); ok {
			return nil, fmt.Errorf("course %q (%s %d) does not exist or you cannot see it",
				course.Name, course.Semester, course.Year)
		}
		return nil, err
	}
	graph := &Graph{Course: courseRec}

	projects, err := g.list(ctx, fmt.Sprintf("/api/courses/%d/projects/", ID(courseRec)))
	if err != nil {
		return nil, err
	}
	for _, proj := range projects {
		if Name(proj) == projectName {
			graph.Project = proj
			break
		}
	}

	globalImages, err := g.list(ctx, "/api/sandbox_docker_images/")
	if err != nil {
		return nil, err
	}
	courseImages, err := g.list(ctx,
		fmt.Sprintf("/api/courses/%d/sandbox_docker_images/", ID(courseRec)))
	if err != nil {
		return nil, err
	}
	graph.SandboxImages = append(globalImages, courseImages...)

	if graph.Project == nil {
		return graph, nil
	}
	projectID := ID(graph.Project)

	if graph.StudentFiles, err = g.list(ctx,
		fmt.Sprintf("/api/projects/%d/expected_student_files/", projectID)); err != nil {
		return nil, err
	}
	if graph.InstructorFiles, err = g.list(ctx,
		fmt.Sprintf("/api/projects/%d/instructor_files/", projectID)); err != nil {
		return nil, err
	}
	if graph.TestSuites, err = g.list(ctx,
		fmt.Sprintf("/api/projects/%d/ag_test_suites/", projectID)); err != nil {
		return nil, err
	}
	return graph, nil
}

// list fetches a collection endpoint, tolerating both response shapes the
// service uses: a bare JSON array and a paginated results object.
func (g *HTTPGateway) list(ctx context.Context, path string) ([]Resource, error) {
	var raw any
	if err := g.client.GetJSON(ctx, path, &raw); err != nil {
		return nil, err
	}
	switch v := raw.(type) {
	case []any:
		return toResources(v), nil
	case map[string]any:
		items, _ := v["results"].([]any)
		out := toResources(items)
		next, _ := v["next"].(string)
		for next != "" {
			var page map[string]any
			if err := g.client.GetJSON(ctx, next, &page); err != nil {
				return nil, err
			}
			items, _ := page["results"].([]any)
			out = append(out, toResources(items)...)
			next, _ = page["next"].(string)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected response shape from %s: %T", path, raw)
	}
}

func toResources(items []any) []Resource {
	out := make([]Resource, 0, len(items))
	for _, item := range items {
		if rec, ok := item.(map[string]any); ok {
			out = append(out, rec)
		}
	}
	return out
}

func (g *HTTPGateway) Create(ctx context.Context, kind Kind, parentID int, body fragment.Map) (Resource, error) {
	path, ok := createPaths[kind]
	if !ok {
		return nil, fmt.Errorf("cannot create resource of kind %q", kind)
	}
	var created Resource
	if err := g.client.SendJSON(ctx, "POST", fmt.Sprintf(path, parentID), body, &created); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", kind, err)
	}
	g.logger.Debug("created resource",
		zap.String("kind", string(kind)), zap.Int("pk", ID(created)))
	return created, nil
}

func (g *HTTPGateway) Update(ctx context.Context, kind Kind, id int, body fragment.Map) (Resource, error) {
	path, ok := updatePaths[kind]
	if !ok {
		return nil, fmt.Errorf("cannot update resource of kind %q", kind)
	}
	var updated Resource
	if err := g.client.SendJSON(ctx, "PATCH", fmt.Sprintf(path, id), body, &updated); err != nil {
		return nil, fmt.Errorf("failed to update %s %d: %w", kind, id, err)
	}
	g.logger.Debug("updated resource",
		zap.String("kind", string(kind)), zap.Int("pk", id))
	return updated, nil
}

func (g *HTTPGateway) UpdateOrder(ctx context.Context, kind Kind, parentID int, ids []int) error {
	path, ok := createPaths[kind]
	if !ok || kind == KindProject || kind == KindStudentFile {
		return fmt.Errorf("cannot reorder resources of kind %q", kind)
	}
	orderPath := fmt.Sprintf(path, parentID) + "order/"
	if err := g.client.SendJSON(ctx, "PUT", orderPath, ids, nil); err != nil {
		return fmt.Errorf("failed to reorder %s list: %w", kind, err)
	}
	return nil
}

func (g *HTTPGateway) UploadInstructorFile(ctx context.Context, projectID, fileID int, name string, content []byte) (Resource, error) {
	var rec Resource
	if fileID == 0 {
		path := fmt.Sprintf("/api/projects/%d/instructor_files/", projectID)
		if err := g.client.SendMultipart(ctx, "POST", path, "file_obj", name, content, &rec); err != nil {
			return nil, fmt.Errorf("failed to upload %s: %w", name, err)
		}
		return rec, nil
	}
	path := fmt.Sprintf("/api/instructor_files/%d/content/", fileID)
	if err := g.client.SendMultipart(ctx, "PUT", path, "file_obj", name, content, &rec); err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return rec, nil
}

func (g *HTTPGateway) DownloadInstructorFile(ctx context.Context, fileID int, w io.Writer) error {
	return g.client.Download(ctx, fmt.Sprintf("/api/instructor_files/%d/content/", fileID), w)
}
