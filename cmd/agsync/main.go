package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"agsync/internal/remote"
)

var (
	// Global flags
	baseURL   string
	tokenFile string
	verbose   bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "agsync",
	Short: "Synchronize autograder projects with a local YAML document",
	Long: `agsync describes a grading-platform project (settings, test suites, test
cases, feedback configuration) as a single human-editable YAML document and
synchronizes that document against the autograder web service.

Saving expands repeated entries, resolves feedback presets, fills in server
defaults, and creates or updates remote resources to match the document.
Nothing is ever deleted on the remote side. Loading fetches a project and
writes a minimal document in which every field equal to its server default
is omitted.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&baseURL, "base-url", "u", remote.DefaultBaseURL,
		"Base URL of the autograder service")
	rootCmd.PersistentFlags().StringVarP(&tokenFile, "token-file", "t", remote.DefaultTokenFile,
		"API token file; a bare filename is searched for from the current directory up to your home directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(apiCmd)
}

// newClient builds the authenticated API client from the global flags.
func newClient() (*remote.Client, error) {
	token, err := remote.LoadToken(tokenFile)
	if err != nil {
		return nil, err
	}
	return remote.NewClient(baseURL, token, logger)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
