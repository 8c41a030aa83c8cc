package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/searchflow/internal/history"
	"github.com/kingrea/searchflow/internal/pipeline"
	"github.com/kingrea/searchflow/internal/step"
	"github.com/kingrea/searchflow/internal/workflow/failure"
)

var tailEntries int

var validateCmd = &cobra.Command{
	Use:   "validate <pipeline>",
	Short: "Check a pipeline definition without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadProject()
		if err != nil {
			return err
		}
		def, err := loadPipeline(cfg, args[0])
		if err != nil {
			return err
		}
		if err := pipeline.CheckKinds(def, step.DefaultRegistry()); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %d steps\n", def.ID, len(def.Steps))
		for _, s := range def.Steps {
			line := fmt.Sprintf("  %-24s %s", s.DisplayName(), s.Kind)
			if len(s.DependsOn) > 0 {
				line += " <- " + strings.Join(s.DependsOn, ", ")
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the pipelines in .searchflow/pipelines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadProject()
		if err != nil {
			return err
		}
		entries, err := pipeline.Discover(cfg.PipelinesDir())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintf(out, "no pipelines in %s\n", cfg.PipelinesDir())
			return nil
		}
		for _, entry := range entries {
			if entry.Err != nil {
				fmt.Fprintf(out, "  %-24s invalid: %s\n", entry.Name(), failure.DetailedMessage(entry.Err))
				continue
			}
			fmt.Fprintf(out, "  %-24s %d steps  %s\n", entry.Name(), len(entry.Definition.Steps), entry.Definition.Name)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [run-file]",
	Short: "Show recorded task transitions of a run (latest run by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := loadProject()
			if err != nil {
				return err
			}
			runs, err := history.Runs(cfg.HistoryDir())
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				return fmt.Errorf("%w in %s", history.ErrNoHistory, cfg.HistoryDir())
			}
			path = runs[0]
		}
		entries, err := history.Load(path)
		if err != nil {
			return err
		}
		shown := entries
		if tailEntries > 0 {
			shown = history.Tail(entries, tailEntries)
		}
		out := cmd.OutOrStdout()
		for _, entry := range shown {
			fmt.Fprintln(out, entry.Format())
		}
		final := history.FinalStates(entries)
		names := make([]string, 0, len(final))
		for name := range final {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(out, "\n%d tasks\n", len(names))
		for _, name := range names {
			fmt.Fprintf(out, "  %-24s %s\n", name, final[name])
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&tailEntries, "tail", 0, "only show the last n transitions")
}
