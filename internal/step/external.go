package step

import (
	"context"
	"fmt"
	"sync"

	"github.com/kingrea/searchflow/internal/workflow/task"
)

// KindExternal waits for a process outside searchflow to report the outcome,
// typically through the bridge's /events endpoint.
const KindExternal = "external"

// External is a task finished by Signal rather than by Run.
type External struct {
	*task.Base

	mu        sync.Mutex
	signalled bool
	err       error
}

// NewExternal returns an external task named name.
func NewExternal(name string) *External {
	return &External{Base: task.NewBase(name)}
}

func newExternal(spec Spec, _ Env) (task.Task, error) {
	return NewExternal(spec.ID), nil
}

// Run leaves the task Running until Signal is called.
func (x *External) Run(context.Context) error {
	return nil
}

// Signal finishes the task: nil completes it, anything else fails it.
func (x *External) Signal(err error) error {
	x.mu.Lock()
	if state := x.State(); x.signalled || state != task.Running {
		x.mu.Unlock()
		return fmt.Errorf("step: %s is %s, not waiting for a signal", x.Name(), state)
	}
	x.signalled = true
	x.err = err
	x.mu.Unlock()

	if err == nil {
		x.SetState(task.CompletedSuccessfully)
		return nil
	}
	x.SetState(task.RunFailed)
	return nil
}

// Err returns the failure delivered by Signal.
func (x *External) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.err
}

// Externals indexes the external tasks among tasks by name.
func Externals(tasks []task.Task) map[string]*External {
	out := map[string]*External{}
	for _, t := range tasks {
		if x, ok := t.(*External); ok {
			out[x.Name()] = x
		}
	}
	return out
}
