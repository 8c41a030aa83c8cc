package engine

import (
	"time"

	"github.com/kingrea/searchflow/internal/workflow/task"
)

// PassSummary describes one completed Run pass.
type PassSummary struct {
	Pass       int
	Ran        int
	Failed     int
	Propagated int
	Duration   time.Duration
}

// Observer receives task transitions and pass summaries. OnTransition may be
// called from any goroutine that changes a task's state.
type Observer interface {
	OnTransition(task.Transition)
	OnPass(PassSummary)
}

// TransitionFunc adapts a function to an Observer that ignores passes.
type TransitionFunc func(task.Transition)

// OnTransition calls f.
func (f TransitionFunc) OnTransition(tr task.Transition) { f(tr) }

// OnPass does nothing.
func (TransitionFunc) OnPass(PassSummary) {}
