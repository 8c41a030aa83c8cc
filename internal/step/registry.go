// Package step maps pipeline step kinds to task factories.
package step

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"

	"github.com/kingrea/searchflow/internal/daemon"
	"github.com/kingrea/searchflow/internal/workflow/task"
)

// ErrUnknownKind is returned by Resolve for kinds nobody registered.
var ErrUnknownKind = errors.New("step: unknown kind")

// Config carries kind-specific settings (opaque to the engine).
type Config map[string]any

// Spec is what a factory needs to build one step.
type Spec struct {
	ID     string
	Kind   string
	Config Config
}

// Env holds collaborators shared by every step of a run.
type Env struct {
	// Daemon receives remote steps. Nil disables the remote kind.
	Daemon daemon.Submitter
	// Dir is the working directory for commands.
	Dir string
	// Vars are extra KEY=VALUE entries for command environments.
	Vars []string
	Log  logr.Logger
}

// Factory constructs a task for a step.
type Factory func(Spec, Env) (task.Task, error)

// Registry maintains known step factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register installs a factory. Returns an error if the kind already exists.
func (r *Registry) Register(kind string, factory Factory) error {
	if kind == "" {
		return fmt.Errorf("step: kind is required")
	}
	if factory == nil {
		return fmt.Errorf("step: factory is required for %s", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("step: %s already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(kind string, factory Factory) {
	if err := r.Register(kind, factory); err != nil {
		panic(err)
	}
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}

// Resolve builds the task for spec.
func (r *Registry) Resolve(spec Spec, env Env) (task.Task, error) {
	r.mu.RLock()
	factory, ok := r.factories[spec.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q for step %s", ErrUnknownKind, spec.Kind, spec.ID)
	}
	t, err := factory(spec, env)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", spec.ID, err)
	}
	if t == nil {
		return nil, fmt.Errorf("step %s: factory for %s returned no task", spec.ID, spec.Kind)
	}
	return t, nil
}

// Kinds returns a sorted list of registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
