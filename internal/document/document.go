// Package document defines the in-memory form of a project document and its
// YAML serialization. The course and project identity are typed; test
// suites, test cases, and settings records stay as raw fragments so the
// expansion, preset, and sync engines can treat them uniformly.
package document

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"agsync/internal/fragment"
)

// Semesters lists the course terms the service accepts.
var Semesters = []string{"Fall", "Winter", "Spring", "Summer"}

// Document is one project description: identity, settings, suites, and the
// user-defined feedback preset tables.
type Document struct {
	Project           ProjectConfig           `yaml:"project" validate:"required"`
	FeedbackPresets   map[string]fragment.Map `yaml:"feedback_presets,omitempty"`
	SuiteSetupPresets map[string]fragment.Map `yaml:"feedback_presets_test_suite_setup,omitempty"`
}

// ProjectConfig is the project subtree of a document.
type ProjectConfig struct {
	Name            string           `yaml:"name" validate:"required"`
	Timezone        string           `yaml:"timezone" validate:"required"`
	Course          CourseSelection  `yaml:"course"`
	Settings        fragment.Map     `yaml:"settings"`
	StudentFiles    []any            `yaml:"student_files,omitempty"`
	InstructorFiles []InstructorFile `yaml:"instructor_files,omitempty"`
	TestSuites      []fragment.Map   `yaml:"test_suites,omitempty"`
}

// CourseSelection names the course a project belongs to. Semester and year
// may be empty for courses that are not term-bound.
type CourseSelection struct {
	Name     string `yaml:"name" validate:"required"`
	Semester string `yaml:"semester" validate:"omitempty,oneof=Fall Winter Spring Summer"`
	Year     int    `yaml:"year" validate:"omitempty,gte=1990,lte=2200"`
}

// InstructorFile points at a file to upload, relative to the document.
type InstructorFile struct {
	LocalPath string `yaml:"local_path" validate:"required"`
}

// Name is the remote-side name of the file: its basename.
func (f InstructorFile) Name() string {
	return filepath.Base(filepath.ToSlash(f.LocalPath))
}

// ConfigError is a configuration problem in the document itself: a bad
// placeholder reference, a duplicate expanded name, an unresolvable preset,
// a malformed fragment. Config errors are always detected and reported
// before any network call.
type ConfigError struct {
	Entry string // name of the offending entry, if known
	Index int    // repeat substitution set index, or -1
	Field string // field path within the entry, if known
	Msg   string
	Err   error
}

func (e *ConfigError) Error() string {
	out := "config error"
	if e.Entry != "" {
		out += fmt.Sprintf(" in %q", e.Entry)
	}
	if e.Index >= 0 {
		out += fmt.Sprintf(" (repeat set %d)", e.Index)
	}
	if e.Field != "" {
		out += fmt.Sprintf(" at %s", e.Field)
	}
	out += ": " + e.Msg
	if e.Err != nil {
		out += ": " + e.Err.Error()
	}
	return out
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError with no repeat index.
func NewConfigError(entry, field, format string, args ...any) *ConfigError {
	return &ConfigError{Entry: entry, Index: -1, Field: field, Msg: fmt.Sprintf(format, args...)}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse reads and validates a document file.
func Parse(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document %s: %w", path, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid document %s: %w", path, err)
	}
	return &doc, nil
}

// Validate checks the typed envelope of the document. Fragment-level
// problems (bad placeholders, unknown fields) surface later, during
// expansion and filling.
func (d *Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		return err
	}
	return nil
}

// Write serializes the document to path, creating parent directories as
// needed. Records render in canonical field order.
func (d *Document) Write(path string) error {
	node, err := d.encode()
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	data, err := yaml.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to serialize document: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}
