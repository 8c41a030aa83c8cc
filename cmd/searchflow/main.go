package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/searchflow/internal/config"
	"github.com/kingrea/searchflow/internal/pipeline"
	"github.com/kingrea/searchflow/internal/workflow/failure"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var projectDir string

var rootCmd = &cobra.Command{
	Use:   "searchflow",
	Short: "Run dependency-ordered search pipelines",
	Long: `searchflow runs pipelines of dependent steps declared in YAML or Go.

Steps run in dependency order, one scheduling pass at a time. Remote steps
are handed to a worker pool and the run waits for them to report back.
Every state change is recorded under .searchflow/history.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of searchflow",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "searchflow %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", "", "path to the project directory (defaults to cwd)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", failure.DetailedMessage(err))
		os.Exit(1)
	}
}

// loadProject resolves --project, creates the home directory and loads its
// configuration.
func loadProject() (*config.Config, error) {
	project := projectDir
	if project == "" {
		var err error
		project, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
	}
	absolute, err := filepath.Abs(project)
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}
	if err := config.InitDir(absolute); err != nil {
		return nil, err
	}
	return config.New(absolute)
}

// loadPipeline resolves name against the project's pipeline directory and
// suggests close matches when nothing is found.
func loadPipeline(cfg *config.Config, name string) (pipeline.Definition, error) {
	def, err := pipeline.LoadFile(pipeline.Resolve(cfg.PipelinesDir(), name))
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return def, err
	}
	if suggestions := pipeline.Suggest(cfg.PipelinesDir(), name); len(suggestions) > 0 {
		return def, fmt.Errorf("%w (did you mean %s?)", err, strings.Join(suggestions, ", "))
	}
	return def, err
}
