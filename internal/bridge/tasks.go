package bridge

import (
	"fmt"

	"github.com/kingrea/searchflow/internal/workflow/failure"
	"github.com/kingrea/searchflow/internal/workflow/task"
)

// Signaler is a task finished from outside the engine.
type Signaler interface {
	Signal(err error) error
}

// SignalProcessor delivers events to the named signaler. Events for names
// missing from targets fail with ErrUnknownTask.
func SignalProcessor[S Signaler](targets map[string]S) EventProcessor {
	return EventProcessorFunc(func(e Event) error {
		target, ok := targets[e.Task]
		if !ok {
			return fmt.Errorf("%w %s", ErrUnknownTask, e.Task)
		}
		if e.Status == StatusFailed {
			return target.Signal(failure.New(e.Error))
		}
		return target.Signal(nil)
	})
}

// Snapshot returns a /tasks source over tasks. errOf may be nil.
func Snapshot(tasks []task.Task, errOf func(task.Task) error) func() []TaskStatus {
	return func() []TaskStatus {
		out := make([]TaskStatus, 0, len(tasks))
		for _, t := range tasks {
			row := TaskStatus{Name: task.Name(t), State: t.State().String()}
			if errOf != nil {
				if err := errOf(t); err != nil {
					row.Error = failure.DetailedMessage(err)
				}
			}
			out = append(out, row)
		}
		return out
	}
}
