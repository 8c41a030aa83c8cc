package task

import "context"

// Func is a local task that runs a function synchronously and completes
// when it returns without error.
type Func struct {
	*Base
	fn func(ctx context.Context) error
}

// NewFunc wraps fn as a task. A nil fn completes immediately.
func NewFunc(name string, fn func(ctx context.Context) error) *Func {
	return &Func{Base: NewBase(name), fn: fn}
}

// Run executes the wrapped function.
func (f *Func) Run(ctx context.Context) error {
	if f.fn != nil {
		if err := f.fn(ctx); err != nil {
			return err
		}
	}
	f.SetState(CompletedSuccessfully)
	return nil
}
