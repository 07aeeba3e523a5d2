package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"agsync/internal/defaults"
	"agsync/internal/document"
	"agsync/internal/fragment"
	"agsync/internal/preset"
	"agsync/internal/remote"
	"agsync/internal/sync"
)

var (
	configFile     string
	initTimezone   string
	deadlineCutoff string
)

// projectCmd groups the document-level operations
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Create, save, and load project documents",
}

var projectInitCmd = &cobra.Command{
	Use:   "init [course] [semester] [year] [project]",
	Short: "Write a starter project document",
	Long: `Writes a starter document for a new project, with every setting spelled
out at its server default, plus a blank instructor file next to it.`,
	Args: cobra.ExactArgs(4),
	RunE: runProjectInit,
}

var projectSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save the project document to the autograder service",
	Long: `Expands, validates, and applies the document: missing resources are
created, differing resources are updated, and nothing is ever deleted.
The document is validated fully before the first network call.`,
	Args: cobra.NoArgs,
	RunE: runProjectSave,
}

var projectLoadCmd = &cobra.Command{
	Use:   "load [course] [semester] [year] [project] [output-file]",
	Short: "Load a project from the autograder service into a document",
	Long: `Fetches the named project and writes a minimal document: every field
equal to its server default is omitted, and feedback configurations that
match a preset are written as the preset's name. Instructor files are
downloaded into the output document's directory.`,
	Args: cobra.ExactArgs(5),
	RunE: runProjectLoad,
}

func init() {
	projectInitCmd.Flags().StringVarP(&configFile, "file", "f", "agproject.yml",
		"Path of the document to write")
	projectInitCmd.Flags().StringVar(&initTimezone, "timezone", "America/New_York",
		"IANA timezone for the project's deadlines and submission limits")
	projectSaveCmd.Flags().StringVarP(&configFile, "file", "f", "agproject.yml",
		"Path of the document to save")
	projectLoadCmd.Flags().StringVar(&deadlineCutoff, "deadline-cutoff", "relative",
		`Deadline rendering when both closing times are set: "relative" or "fixed"`)

	projectCmd.AddCommand(projectInitCmd)
	projectCmd.AddCommand(projectSaveCmd)
	projectCmd.AddCommand(projectLoadCmd)
}

func runProjectInit(cmd *cobra.Command, args []string) error {
	course, err := parseCourseArgs(args[0], args[1], args[2])
	if err != nil {
		return err
	}

	doc, err := starterDocument(args[3], initTimezone, course)
	if err != nil {
		return err
	}
	if err := doc.Write(configFile); err != nil {
		return err
	}
	fmt.Println("Wrote starter document to", configFile)

	blank := filepath.Join(filepath.Dir(configFile), "instructor_file.txt")
	if _, err := os.Stat(blank); errors.Is(err, os.ErrNotExist) {
		content := "This is a file written and uploaded by the instructor. " +
			"It might contain test cases or other contents needed by tests.\n"
		if err := os.WriteFile(blank, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", blank, err)
		}
		fmt.Println("Wrote blank instructor file to", blank)
	}
	return nil
}

func runProjectSave(cmd *cobra.Command, args []string) error {
	doc, err := document.Parse(configFile)
	if err != nil {
		return err
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	gateway := remote.NewHTTPGateway(client, logger)

	saver := sync.NewSaver(gateway, logger)
	opLog, err := saver.Save(context.Background(), doc, filepath.Dir(configFile))
	if err != nil {
		if len(opLog.Ops) > 0 {
			fmt.Printf("Save failed after %d applied operations; run `agsync project load` to reconcile.\n",
				len(opLog.Ops))
		}
		return err
	}
	fmt.Printf("Save complete: %d operations applied\n", len(opLog.Ops))
	return nil
}

func runProjectLoad(cmd *cobra.Command, args []string) error {
	if deadlineCutoff != "relative" && deadlineCutoff != "fixed" {
		return fmt.Errorf(`--deadline-cutoff must be "relative" or "fixed", got %q`, deadlineCutoff)
	}
	course, err := parseCourseArgs(args[0], args[1], args[2])
	if err != nil {
		return err
	}
	projectName, outputFile := args[3], args[4]

	client, err := newClient()
	if err != nil {
		return err
	}
	gateway := remote.NewHTTPGateway(client, logger)

	loader := sync.NewLoader(gateway, logger)
	loader.CutoffPreference = deadlineCutoff
	doc, err := loader.Load(context.Background(), course, projectName, outputFile)
	if err != nil {
		return err
	}
	if err := doc.Write(outputFile); err != nil {
		return err
	}
	fmt.Println("Project data written to", outputFile)
	return nil
}

func parseCourseArgs(name, semester, year string) (document.CourseSelection, error) {
	parsedYear, err := strconv.Atoi(year)
	if err != nil {
		return document.CourseSelection{}, fmt.Errorf("invalid course year %q", year)
	}
	course := document.CourseSelection{Name: name, Semester: semester, Year: parsedYear}
	return course, nil
}

// starterDocument builds the init template: one suite with a single-command
// and a multi-command test case, one expected student file, one instructor
// file, and the built-in preset tables spelled out for reference.
func starterDocument(projectName, timezone string, course document.CourseSelection) (*document.Document, error) {
	settings, err := defaults.Fill(defaults.ProjectSettings, nil)
	if err != nil {
		return nil, err
	}

	singleCase, err := defaults.Fill(defaults.SingleCmdTestCase, fragment.Map{
		"name": "Test 1",
		"cmd":  `echo "Hello 1!"`,
	})
	if err != nil {
		return nil, err
	}
	multiCommand, err := defaults.Fill(defaults.MultiCommand, fragment.Map{
		"name": "Test 2",
		"cmd":  `echo "Hello 2!"`,
	})
	if err != nil {
		return nil, err
	}
	multiCase, err := defaults.Fill(defaults.MultiCmdTestCase, fragment.Map{
		"name": "Test 2",
		"type": "multi_cmd",
	})
	if err != nil {
		return nil, err
	}
	multiCase["commands"] = []any{multiCommand}

	suite, err := defaults.Fill(defaults.TestSuite, fragment.Map{"name": "Suite 1"})
	if err != nil {
		return nil, err
	}
	suite["test_cases"] = []any{singleCase, multiCase}

	return &document.Document{
		Project: document.ProjectConfig{
			Name:     projectName,
			Timezone: timezone,
			Course:   course,
			Settings: settings,
			StudentFiles: []any{
				fragment.Map{
					"pattern":         "hello.py",
					"min_num_matches": 1,
					"max_num_matches": 1,
				},
			},
			InstructorFiles: []document.InstructorFile{
				{LocalPath: "instructor_file.txt"},
			},
			TestSuites: []fragment.Map{suite},
		},
		FeedbackPresets:   preset.BuiltinCommand(),
		SuiteSetupPresets: preset.BuiltinSuiteSetup(),
	}, nil
}
