package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/kingrea/searchflow/internal/workflow/failure"
	"github.com/kingrea/searchflow/internal/workflow/resumer"
	"github.com/kingrea/searchflow/internal/workflow/task"
)

// DefaultPollInterval is how often the engine checks tasks that do not
// publish their transitions while a resumer is pending.
const DefaultPollInterval = time.Second

// Engine owns a task graph and advances it one pass per Run call. Run,
// AddAllTasks and the readiness queries are meant for a single driver
// goroutine; tasks may change state from any goroutine.
type Engine struct {
	tasks     []task.Task
	observers []Observer
	log       logr.Logger
	clock     func() time.Time

	pollInterval time.Duration
	needsPolling bool
	cancels      []func()
	passes       int

	mu       sync.Mutex
	pending  *resumer.Resumer
	pollStop chan struct{}

	errMu    sync.Mutex
	errs     map[task.Task]error
	reported map[task.Task]bool
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log logr.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithObserver registers an observer for transitions and passes.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// New returns an empty engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		log:          logr.Discard(),
		clock:        time.Now,
		pollInterval: DefaultPollInterval,
		errs:         map[task.Task]error{},
		reported:     map[task.Task]bool{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddAllTasks registers tasks in order. Tasks must be added before the first
// Run call.
func (e *Engine) AddAllTasks(tasks []task.Task) {
	for _, t := range tasks {
		if t == nil {
			continue
		}
		e.tasks = append(e.tasks, t)
		obs, ok := t.(task.Observable)
		if !ok {
			e.needsPolling = true
			continue
		}
		t := t
		cancel := obs.Subscribe(func(from, to task.State) {
			e.onTransition(task.Transition{Task: t, From: from, To: to})
		})
		e.cancels = append(e.cancels, cancel)
	}
}

// NumTasks returns the number of registered tasks.
func (e *Engine) NumTasks() int {
	return len(e.tasks)
}

// Tasks returns the registered tasks in insertion order.
func (e *Engine) Tasks() []task.Task {
	out := make([]task.Task, len(e.tasks))
	copy(out, e.tasks)
	return out
}

// Passes returns how many times Run has been called.
func (e *Engine) Passes() int {
	return e.passes
}

// Run performs one scheduling pass. It returns nil when no task failed, the
// task's own error when exactly one failed, and a *failure.CompositeError
// when several did.
func (e *Engine) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.passes++
	start := e.clock()
	summary := PassSummary{Pass: e.passes}

	for _, t := range e.tasks {
		if t.State() != task.Uninitialized {
			continue
		}
		switch readinessOf(t) {
		case doomed:
			e.setState(t, task.InitFailed)
			summary.Propagated++
		case runnable:
			e.setState(t, task.Ready)
		}
	}

	var failures []error
	for _, t := range e.tasks {
		if t.State() != task.Ready {
			continue
		}
		e.setState(t, task.Running)
		summary.Ran++
		err := e.runTask(ctx, t)
		if err == nil {
			continue
		}
		failures = append(failures, err)
		if t.State().IsTerminal() {
			e.markReported(t)
			e.log.Info("task returned an error after reaching a terminal state", "task", task.Name(t), "state", t.State().String())
			continue
		}
		e.errMu.Lock()
		e.errs[t] = err
		e.reported[t] = true
		e.errMu.Unlock()
		e.setState(t, task.RunFailed)
		e.log.V(1).Info("task failed", "task", task.Name(t), "error", failure.DetailedMessage(err))
	}

	summary.Failed = len(failures)
	summary.Duration = e.clock().Sub(start)
	for _, o := range e.observers {
		o.OnPass(summary)
	}
	e.log.V(1).Info("pass finished", "pass", summary.Pass, "ran", summary.Ran, "failed", summary.Failed, "propagated", summary.Propagated)

	switch len(failures) {
	case 0:
		return nil
	case 1:
		return failures[0]
	default:
		return failure.NewComposite(fmt.Sprintf("%d tasks failed in pass %d", len(failures), summary.Pass), failures)
	}
}

// IsDone reports whether every task reached a terminal state.
func (e *Engine) IsDone() bool {
	for _, t := range e.tasks {
		if !t.State().IsTerminal() {
			return false
		}
	}
	return true
}

// IsWorkAvailable reports whether the next Run call would change anything:
// some task is Ready, can become Ready, or must become InitFailed.
func (e *Engine) IsWorkAvailable() bool {
	for _, t := range e.tasks {
		switch t.State() {
		case task.Ready:
			return true
		case task.Uninitialized:
			if readinessOf(t) != blocked {
				return true
			}
		}
	}
	return false
}

// ResumeOnWork arranges for r to be resumed once a task reaches a terminal
// state, which may make more work available. If work is already available
// or the graph is done, r is resumed immediately.
func (e *Engine) ResumeOnWork(r *resumer.Resumer) {
	if r == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.IsWorkAvailable() || e.IsDone() {
		e.resume(r)
		return
	}
	e.pending = r
	if e.needsPolling && e.pollStop == nil {
		e.pollStop = make(chan struct{})
		go e.poll(e.pollStop)
	}
}

// Close detaches the engine from its tasks and stops any poller.
func (e *Engine) Close() {
	for _, cancel := range e.cancels {
		cancel()
	}
	e.cancels = nil
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
	e.stopPolling()
}

// Failure returns why t failed: the error its Run returned, or the error an
// asynchronous task reports through an Err method.
func (e *Engine) Failure(t task.Task) error {
	e.errMu.Lock()
	err := e.errs[t]
	e.errMu.Unlock()
	if err != nil {
		return err
	}
	if reporter, ok := t.(interface{ Err() error }); ok {
		return reporter.Err()
	}
	return nil
}

// DrainFailures returns the failures of tasks that reached RunFailed outside
// Run, such as remote tasks failed by a worker, in insertion order. Each
// failure is returned once; errors already returned by Run are skipped.
func (e *Engine) DrainFailures() []error {
	var out []error
	for _, t := range e.tasks {
		if t.State() != task.RunFailed {
			continue
		}
		e.errMu.Lock()
		seen := e.reported[t]
		e.reported[t] = true
		e.errMu.Unlock()
		if seen {
			continue
		}
		err := e.Failure(t)
		if err == nil {
			err = failure.New(task.Name(t) + " failed")
		}
		out = append(out, err)
	}
	return out
}

func (e *Engine) markReported(t task.Task) {
	e.errMu.Lock()
	e.reported[t] = true
	e.errMu.Unlock()
}

func (e *Engine) runTask(ctx context.Context, t task.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return t.Run(ctx)
}

// setState changes t and reports the transition itself for tasks that do
// not publish their own.
func (e *Engine) setState(t task.Task, s task.State) {
	prev := t.State()
	t.SetState(s)
	if _, ok := t.(task.Observable); !ok && prev != s {
		e.onTransition(task.Transition{Task: t, From: prev, To: s})
	}
}

func (e *Engine) onTransition(tr task.Transition) {
	if tr.To == task.RunFailed && tr.Err == nil {
		tr.Err = e.Failure(tr.Task)
	}
	e.log.V(1).Info("task transition", "task", task.Name(tr.Task), "from", tr.From.String(), "to", tr.To.String())
	for _, o := range e.observers {
		o.OnTransition(tr)
	}
	if !tr.To.IsTerminal() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil {
		e.resume(e.pending)
	}
}

func (e *Engine) poll(stop chan struct{}) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			if e.pending != nil && (e.IsWorkAvailable() || e.IsDone()) {
				e.resume(e.pending)
			}
			e.mu.Unlock()
		}
	}
}

// resume fulfils r and clears any pending registration. e.mu must be held.
func (e *Engine) resume(r *resumer.Resumer) {
	if e.pending == r {
		e.pending = nil
	}
	if err := r.Resume(); err != nil {
		e.log.Error(err, "resumer misuse")
	}
	e.stopPolling()
}

func (e *Engine) stopPolling() {
	if e.pollStop != nil {
		close(e.pollStop)
		e.pollStop = nil
	}
}

type readiness int

const (
	blocked readiness = iota
	runnable
	doomed
)

func readinessOf(t task.Task) readiness {
	result := runnable
	for _, dep := range t.Dependencies() {
		state := dep.State()
		if state.IsFailure() {
			return doomed
		}
		if state != task.CompletedSuccessfully {
			result = blocked
		}
	}
	return result
}
