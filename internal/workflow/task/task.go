package task

import "context"

// Task is a unit of schedulable work with declared upstream dependencies.
//
// The engine calls Run at most once, and only after every dependency reached
// CompletedSuccessfully. Run either finishes synchronously by calling
// SetState(CompletedSuccessfully) before it returns, or returns while the task
// is still Running and leaves the final SetState to another goroutine. A
// failing Run returns an error instead of setting RunFailed itself; the
// engine performs that transition.
//
// SetState is the one method that must be safe to call from any goroutine.
type Task interface {
	State() State
	SetState(State)

	// Dependencies returns the declared upstream tasks in declaration order.
	Dependencies() []Task
	// DeclareDependency reports whether dep is new for this task. It does not
	// record the edge; callers follow a true result with AddDependency.
	DeclareDependency(dep Task) bool
	// AddDependency records the edge. Adding a known dependency is a no-op.
	AddDependency(dep Task)

	Run(ctx context.Context) error
}

// Transition describes one state change of a task. Err carries the cause
// when To is RunFailed and the cause is known.
type Transition struct {
	Task Task
	From State
	To   State
	Err  error
}

// Observable is implemented by tasks that publish their transitions. The
// engine uses it to notice asynchronous completion without polling.
type Observable interface {
	Subscribe(fn func(from, to State)) (cancel func())
}

// Name returns a display name for t, falling back to its type.
func Name(t Task) string {
	if named, ok := t.(interface{ Name() string }); ok {
		if name := named.Name(); name != "" {
			return name
		}
	}
	if s, ok := t.(interface{ String() string }); ok {
		return s.String()
	}
	return "unnamed task"
}

// Link declares dep on t and adds the edge when it is new. It reports
// whether an edge was added.
func Link(t, dep Task) bool {
	if !t.DeclareDependency(dep) {
		return false
	}
	t.AddDependency(dep)
	return true
}
