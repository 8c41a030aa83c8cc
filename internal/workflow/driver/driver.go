// Package driver runs an engine to completion: it calls Run until the graph
// is done and blocks on a resumer whenever the remaining work is waiting on
// tasks that complete asynchronously.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/kingrea/searchflow/internal/workflow/failure"
	"github.com/kingrea/searchflow/internal/workflow/resumer"
	"github.com/kingrea/searchflow/internal/workflow/task"
)

// ErrStuck wraps a resumer timeout: nothing finished within the wait window.
var ErrStuck = errors.New("driver: pipeline stuck")

// Engine is the part of *engine.Engine the driver needs.
type Engine interface {
	Run(ctx context.Context) error
	IsDone() bool
	IsWorkAvailable() bool
	ResumeOnWork(r *resumer.Resumer)
	Tasks() []task.Task
	DrainFailures() []error
}

// Report summarizes a drive.
type Report struct {
	Passes   int
	Failures []error
	States   map[task.State]int
	Elapsed  time.Duration
}

// Succeeded reports whether every task completed successfully.
func (r Report) Succeeded() bool {
	for state, count := range r.States {
		if count > 0 && state != task.CompletedSuccessfully {
			return false
		}
	}
	return len(r.Failures) == 0
}

// Driver owns the loop around an engine.
type Driver struct {
	engine     Engine
	log        logr.Logger
	resumerOps []resumer.Option
	clock      func() time.Time
}

// Option customizes a Driver.
type Option func(*Driver)

// WithLogger sets the driver logger.
func WithLogger(log logr.Logger) Option {
	return func(d *Driver) {
		d.log = log
	}
}

// WithResumerOptions configures the resumer used while waiting.
func WithResumerOptions(opts ...resumer.Option) Option {
	return func(d *Driver) {
		d.resumerOps = append(d.resumerOps, opts...)
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(d *Driver) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// New wires a driver to an engine.
func New(engine Engine, opts ...Option) (*Driver, error) {
	if engine == nil {
		return nil, fmt.Errorf("driver: engine is required")
	}
	d := &Driver{
		engine: engine,
		log:    logr.Discard(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Drive runs passes until the engine is done. Task failures are collected in
// the report and do not stop the drive; a stuck pipeline or a cancelled
// context does.
func (d *Driver) Drive(ctx context.Context) (Report, error) {
	start := d.clock()
	report := Report{}
	r := resumer.New(append([]resumer.Option{resumer.WithLogger(d.log)}, d.resumerOps...)...)
	for !d.engine.IsDone() {
		d.record(&report, d.engine.DrainFailures())
		err := d.engine.Run(ctx)
		report.Passes++
		if ctx.Err() != nil {
			return d.finish(report, start), ctx.Err()
		}
		if err != nil {
			d.record(&report, failure.Flatten(err))
		}
		if d.engine.IsDone() || d.engine.IsWorkAvailable() {
			continue
		}
		d.log.V(1).Info("waiting for asynchronous tasks", "pass", report.Passes)
		r.Reset()
		d.engine.ResumeOnWork(r)
		if err := r.WaitForResume(ctx); err != nil {
			report = d.finish(report, start)
			if errors.Is(err, resumer.ErrTimeout) {
				return report, fmt.Errorf("%w: %w", ErrStuck, err)
			}
			return report, err
		}
	}
	report = d.finish(report, start)
	d.log.Info("pipeline finished", "passes", report.Passes, "failures", len(report.Failures), "elapsed", report.Elapsed.Round(time.Millisecond))
	return report, nil
}

// record logs failures and appends them to the report.
func (d *Driver) record(report *Report, failures []error) {
	for _, f := range failures {
		d.log.Info("task failed", "pass", report.Passes, "error", failure.DetailedMessage(f))
		report.Failures = append(report.Failures, f)
	}
}

func (d *Driver) finish(report Report, start time.Time) Report {
	d.record(&report, d.engine.DrainFailures())
	report.States = map[task.State]int{}
	for _, t := range d.engine.Tasks() {
		report.States[t.State()]++
	}
	report.Elapsed = d.clock().Sub(start)
	return report
}
