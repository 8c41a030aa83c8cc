package pipeline

import (
	"fmt"

	"github.com/kingrea/searchflow/internal/step"
	"github.com/kingrea/searchflow/internal/workflow/task"
)

// Build resolves every step through registry and wires the dependency edges.
// Tasks are returned in declaration order.
func Build(def Definition, registry *step.Registry, env step.Env) ([]task.Task, error) {
	if registry == nil {
		return nil, fmt.Errorf("pipeline: registry is required")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	tasks := make([]task.Task, 0, len(def.Steps))
	byID := make(map[string]task.Task, len(def.Steps))
	for _, s := range def.Steps {
		t, err := registry.Resolve(step.Spec{ID: s.ID, Kind: s.Kind, Config: s.Config}, env)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", def.ID, err)
		}
		tasks = append(tasks, t)
		byID[s.ID] = t
	}
	for _, s := range def.Steps {
		t := byID[s.ID]
		for _, dep := range s.DependsOn {
			task.Link(t, byID[dep])
		}
	}
	return tasks, nil
}

// CheckKinds reports the first step whose kind registry cannot build.
func CheckKinds(def Definition, registry *step.Registry) error {
	for _, s := range def.Steps {
		if !registry.Has(s.Kind) {
			return fmt.Errorf("pipeline %s: %w %q for step %s", def.ID, step.ErrUnknownKind, s.Kind, s.ID)
		}
	}
	return nil
}
