// Package pipeline declares task graphs in YAML and turns them into engine
// tasks.
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kingrea/searchflow/internal/step"
)

// ErrCycle is returned when the dependency edges of a definition loop.
var ErrCycle = errors.New("pipeline: dependency cycle")

// Definition declares a pipeline composed of steps.
type Definition struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step `json:"steps" yaml:"steps"`
}

// Step describes one task of the pipeline.
type Step struct {
	ID        string      `json:"id" yaml:"id"`
	Kind      string      `json:"kind" yaml:"kind"`
	Name      string      `json:"name,omitempty" yaml:"name,omitempty"`
	DependsOn []string    `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Config    step.Config `json:"config,omitempty" yaml:"config,omitempty"`
}

// Clone returns a deep copy of the definition.
func (def Definition) Clone() Definition {
	clone := Definition{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
	}
	if len(def.Steps) > 0 {
		clone.Steps = make([]Step, len(def.Steps))
		for i, s := range def.Steps {
			clone.Steps[i] = s.Clone()
		}
	}
	return clone
}

// Clone returns a copy of the step. Config values are shared.
func (s Step) Clone() Step {
	clone := s
	if len(s.DependsOn) > 0 {
		clone.DependsOn = append([]string(nil), s.DependsOn...)
	}
	if len(s.Config) > 0 {
		clone.Config = make(step.Config, len(s.Config))
		for key, value := range s.Config {
			clone.Config[key] = value
		}
	}
	return clone
}

// DisplayName returns the step name, falling back to its id.
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Normalized trims identifiers, drops empty dependency entries and validates
// the result.
func (def Definition) Normalized() (Definition, error) {
	clone := def.Clone()
	clone.ID = strings.TrimSpace(clone.ID)
	clone.Name = strings.TrimSpace(clone.Name)
	if clone.Name == "" {
		clone.Name = clone.ID
	}
	for i := range clone.Steps {
		s := &clone.Steps[i]
		s.ID = strings.TrimSpace(s.ID)
		s.Kind = strings.TrimSpace(s.Kind)
		s.Name = strings.TrimSpace(s.Name)
		deps := s.DependsOn[:0]
		for _, dep := range s.DependsOn {
			if dep = strings.TrimSpace(dep); dep != "" {
				deps = append(deps, dep)
			}
		}
		if len(deps) == 0 {
			deps = nil
		}
		s.DependsOn = deps
	}
	if err := clone.Validate(); err != nil {
		return Definition{}, err
	}
	return clone, nil
}

// Validate ensures the definition is self-consistent and acyclic.
func (def Definition) Validate() error {
	if def.ID == "" {
		return fmt.Errorf("pipeline: id is required")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("pipeline %s: at least one step is required", def.ID)
	}
	seen := map[string]struct{}{}
	for idx, s := range def.Steps {
		if s.ID == "" {
			return fmt.Errorf("pipeline %s step[%d]: id is required", def.ID, idx)
		}
		if s.Kind == "" {
			return fmt.Errorf("pipeline %s step %s: kind is required", def.ID, s.ID)
		}
		if _, exists := seen[s.ID]; exists {
			return fmt.Errorf("pipeline %s: duplicate step id %s", def.ID, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	for _, s := range def.Steps {
		deps := map[string]struct{}{}
		for _, dep := range s.DependsOn {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("pipeline %s: step %s depends on unknown step %s", def.ID, s.ID, dep)
			}
			if _, dup := deps[dep]; dup {
				return fmt.Errorf("pipeline %s: step %s has duplicate dependency on %s", def.ID, s.ID, dep)
			}
			deps[dep] = struct{}{}
		}
	}
	if cycle := def.findCycle(); cycle != nil {
		return fmt.Errorf("%w in %s: %s", ErrCycle, def.ID, strings.Join(cycle, " -> "))
	}
	return nil
}

// StepIDs returns the step identifiers in declaration order.
func (def Definition) StepIDs() []string {
	ids := make([]string, 0, len(def.Steps))
	for _, s := range def.Steps {
		ids = append(ids, s.ID)
	}
	return ids
}

const (
	white = iota
	grey
	black
)

// findCycle walks the graph depth-first, marking steps grey while they are on
// the stack. Reaching a grey step closes a loop; the path from it is returned.
func (def Definition) findCycle() []string {
	deps := make(map[string][]string, len(def.Steps))
	for _, s := range def.Steps {
		deps[s.ID] = s.DependsOn
	}
	colour := make(map[string]int, len(def.Steps))
	var stack []string
	var visit func(id string) []string
	visit = func(id string) []string {
		colour[id] = grey
		stack = append(stack, id)
		for _, dep := range deps[id] {
			switch colour[dep] {
			case grey:
				for i, onStack := range stack {
					if onStack == dep {
						return append(append([]string(nil), stack[i:]...), dep)
					}
				}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		colour[id] = black
		return nil
	}
	for _, s := range def.Steps {
		if colour[s.ID] == white {
			if cycle := visit(s.ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
