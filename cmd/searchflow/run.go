package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kingrea/searchflow/internal/bridge"
	"github.com/kingrea/searchflow/internal/config"
	"github.com/kingrea/searchflow/internal/daemon"
	"github.com/kingrea/searchflow/internal/history"
	"github.com/kingrea/searchflow/internal/logging"
	"github.com/kingrea/searchflow/internal/metrics"
	"github.com/kingrea/searchflow/internal/pipeline"
	"github.com/kingrea/searchflow/internal/step"
	"github.com/kingrea/searchflow/internal/tui"
	"github.com/kingrea/searchflow/internal/workflow/driver"
	"github.com/kingrea/searchflow/internal/workflow/engine"
	"github.com/kingrea/searchflow/internal/workflow/failure"
	"github.com/kingrea/searchflow/internal/workflow/resumer"
	"github.com/kingrea/searchflow/internal/workflow/task"
)

var errPipelineFailed = errors.New("pipeline failed")

var (
	useTUI     bool
	logFormat  string
	verbosity  int
	bridgeAddr string
	stepVars   []string
)

var runCmd = &cobra.Command{
	Use:   "run <pipeline>",
	Short: "Run a pipeline to completion",
	Long: `Run loads a pipeline definition, builds its steps and drives them until
every step succeeded, failed, or was skipped because a dependency failed.

External steps wait for a POST to /events on the bridge address.

The pipeline path is used as given when it exists, otherwise it is looked up
in .searchflow/pipelines. The command exits with status 1 when any step
fails or the run gets stuck waiting on a remote step.`,
	Args: cobra.ExactArgs(1),
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().BoolVar(&useTUI, "tui", false, "show an interactive progress monitor")
	runCmd.Flags().StringVar(&logFormat, "log-format", "", "console log format: console or json (defaults to config)")
	runCmd.Flags().IntVarP(&verbosity, "verbosity", "v", -1, "log verbosity; 1 logs every task transition (defaults to config)")
	runCmd.Flags().StringVar(&bridgeAddr, "bridge-addr", "", "serve health, metrics, task status and external step events on this address (defaults to config)")
	runCmd.Flags().StringArrayVar(&stepVars, "var", nil, "extra KEY=VALUE environment for command steps (repeatable)")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadProject()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)
	settings := cfg.Project

	fileLog, err := logging.New(cfg.LogsDir())
	if err != nil {
		return err
	}
	defer fileLog.Close()
	log := fileLog.Logr(settings.Logging.Verbosity)
	if !useTUI {
		console, sync, err := newConsoleLogger(settings.Logging.Format, settings.Logging.Verbosity)
		if err != nil {
			return err
		}
		defer sync()
		log = logging.Tee(console, log)
	}

	def, err := loadPipeline(cfg, args[0])
	if err != nil {
		return err
	}
	log = log.WithValues("pipeline", def.ID)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	workers := daemon.New(
		daemon.WithWorkers(settings.Daemon.Workers),
		daemon.WithQueueSize(settings.Daemon.QueueSize),
		daemon.WithLogger(log.WithName("daemon")),
	)
	if err := workers.Start(ctx); err != nil {
		return err
	}
	defer workers.Close()

	tasks, err := pipeline.Build(def, step.DefaultRegistry(), step.Env{
		Daemon: workers,
		Dir:    cfg.ProjectDir,
		Vars:   stepVars,
		Log:    log.WithName("step"),
	})
	if err != nil {
		return err
	}

	recorder, err := history.NewRecorder(cfg.HistoryDir())
	if err != nil {
		return err
	}
	defer recorder.Close()
	log = log.WithValues("run", recorder.RunID())

	collectors := metrics.New()
	collectors.Track(tasks)

	engineOpts := []engine.Option{
		engine.WithLogger(log.WithName("engine")),
		engine.WithPollInterval(settings.Engine.PollInterval.Duration),
		engine.WithObserver(recorder),
		engine.WithObserver(collectors),
	}
	var program *tea.Program
	var monitor *tui.Progress
	if useTUI {
		monitor = tui.NewProgress(def.Name, tasks)
		program = tea.NewProgram(monitor, tea.WithContext(ctx))
		engineOpts = append(engineOpts, engine.WithObserver(tui.NewObserver(program)))
	}
	e := engine.New(engineOpts...)
	e.AddAllTasks(tasks)
	defer e.Close()

	if addr := settings.Bridge.Address; addr != "" {
		srv := bridge.NewServer(bridge.DefaultSettings(addr),
			bridge.WithLogger(log.WithName("bridge")),
			bridge.WithMetrics(collectors.Handler()),
			bridge.WithTasks(bridge.Snapshot(tasks, e.Failure)),
			bridge.WithProcessor(bridge.SignalProcessor(step.Externals(tasks))),
		)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer srv.Shutdown(context.Background())
	}

	drv, err := driver.New(e,
		driver.WithLogger(log.WithName("driver")),
		driver.WithResumerOptions(
			resumer.WithTimeout(settings.Driver.ResumeTimeout.Duration),
			resumer.WithRecheckInterval(settings.Driver.RecheckInterval.Duration),
		),
	)
	if err != nil {
		return err
	}

	log.Info("pipeline started", "steps", len(tasks), "history", recorder.Path())
	var report driver.Report
	var driveErr error
	if program != nil {
		report, driveErr = driveWithMonitor(ctx, cancel, drv, program, monitor)
	} else {
		report, driveErr = drv.Drive(ctx)
	}

	printReport(cmd.OutOrStdout(), def, tasks, e, report, recorder.Path())
	if err := recorder.Err(); err != nil {
		log.Error(err, "history incomplete")
	}
	if driveErr != nil {
		return driveErr
	}
	if !report.Succeeded() {
		return fmt.Errorf("%w: %d of %d steps did not complete", errPipelineFailed, len(tasks)-report.States[task.CompletedSuccessfully], len(tasks))
	}
	return nil
}

// driveWithMonitor drives on a goroutine while the program owns the
// terminal. Quitting the monitor cancels the drive.
func driveWithMonitor(ctx context.Context, cancel context.CancelFunc, drv *driver.Driver, program *tea.Program, monitor *tui.Progress) (driver.Report, error) {
	type outcome struct {
		report driver.Report
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		report, err := drv.Drive(ctx)
		program.Send(tui.DoneMsg{Report: report, Err: err})
		done <- outcome{report: report, err: err}
	}()
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		cancel()
		<-done
		return driver.Report{}, fmt.Errorf("progress monitor: %w", err)
	}
	if monitor.Aborted() {
		cancel()
	}
	result := <-done
	return result.report, result.err
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("log-format") {
		cfg.Project.Logging.Format = logFormat
	}
	if cmd.Flags().Changed("verbosity") && verbosity >= 0 {
		cfg.Project.Logging.Verbosity = verbosity
	}
	if cmd.Flags().Changed("bridge-addr") {
		cfg.Project.Bridge.Address = bridgeAddr
	}
}

func newConsoleLogger(format string, verbosity int) (logr.Logger, func(), error) {
	var zc zap.Config
	if format == config.LogFormatJSON {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity))
	zc.DisableStacktrace = true
	zl, err := zc.Build()
	if err != nil {
		return logr.Discard(), func() {}, fmt.Errorf("build console logger: %w", err)
	}
	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}

func printReport(w io.Writer, def pipeline.Definition, tasks []task.Task, e *engine.Engine, report driver.Report, historyPath string) {
	fmt.Fprintf(w, "\n%s: %d passes in %s\n", def.Name, report.Passes, report.Elapsed.Round(time.Millisecond))
	for _, t := range tasks {
		line := fmt.Sprintf("  %-24s %s", task.Name(t), t.State())
		if t.State() == task.RunFailed {
			if err := e.Failure(t); err != nil {
				line += ": " + failure.DetailedMessage(err)
			}
		}
		fmt.Fprintln(w, line)
	}
	states := make([]task.State, 0, len(report.States))
	for s := range report.States {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	for _, s := range states {
		fmt.Fprintf(w, "  %d %s\n", report.States[s], s)
	}
	fmt.Fprintf(w, "history: %s\n", historyPath)
}
