package daemon

import (
	"context"
	"fmt"
	"sync"

	"github.com/kingrea/searchflow/internal/workflow/task"
)

// Submitter is the part of *Daemon a Task needs.
type Submitter interface {
	Submit(work Work, listener ProgressListener) (string, error)
}

// Task dispatches its work to a daemon. Run returns as soon as the work is
// queued and leaves the task Running; the daemon's reports move it to a
// terminal state later, from a worker goroutine.
type Task struct {
	*task.Base
	daemon Submitter
	work   Work

	mu       sync.Mutex
	jobID    string
	progress float64
	err      error
}

// NewTask returns a remote task named after work.
func NewTask(daemon Submitter, work Work) *Task {
	return &Task{
		Base:   task.NewBase(work.Name),
		daemon: daemon,
		work:   work,
	}
}

// Run submits the work.
func (t *Task) Run(context.Context) error {
	if t.daemon == nil {
		return fmt.Errorf("daemon: task %s has no daemon", t.Name())
	}
	id, err := t.daemon.Submit(t.work, t)
	if err != nil {
		return fmt.Errorf("daemon: submit %s: %w", t.Name(), err)
	}
	t.mu.Lock()
	t.jobID = id
	t.mu.Unlock()
	return nil
}

// JobID returns the id assigned at submission.
func (t *Task) JobID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.jobID
}

// Progress returns the last reported fraction.
func (t *Task) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Err returns the failure reported by the daemon, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// ReportStart is a no-op; the engine already moved the task to Running.
func (t *Task) ReportStart(string) {}

// ReportProgress records the latest fraction for Progress.
func (t *Task) ReportProgress(_ string, fraction float64) {
	t.mu.Lock()
	t.progress = fraction
	t.mu.Unlock()
}

// ReportSuccess completes the task.
func (t *Task) ReportSuccess(string) {
	t.SetState(task.CompletedSuccessfully)
}

// ReportFailure stores err for Err, then fails the task.
func (t *Task) ReportFailure(_ string, err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	t.SetState(task.RunFailed)
}
