package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/searchflow/internal/step"
	"github.com/kingrea/searchflow/internal/workflow/engine"
	"github.com/kingrea/searchflow/internal/workflow/task"
)

const searchPipeline = `
id: nightly-search
name: Nightly search
steps:
  - id: fetch
    kind: noop
  - id: index
    kind: noop
    depends_on: [fetch]
  - id: search
    kind: noop
    depends_on: [" index ", ""]
  - id: report
    kind: noop
    name: Build report
    depends_on: [index, search]
`

func TestParseNormalizesDefinition(t *testing.T) {
	def, err := Parse([]byte(searchPipeline))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := strings.Join(def.StepIDs(), ","); got != "fetch,index,search,report" {
		t.Fatalf("step ids = %s", got)
	}
	if deps := def.Steps[2].DependsOn; len(deps) != 1 || deps[0] != "index" {
		t.Fatalf("search deps = %v, want [index]", deps)
	}
	if def.Steps[3].DisplayName() != "Build report" || def.Steps[0].DisplayName() != "fetch" {
		t.Fatalf("unexpected display names")
	}
}

func TestParseRejectsMissingSteps(t *testing.T) {
	_, err := Parse([]byte("id: empty\nsteps: []\n"))
	if err == nil || !strings.Contains(err.Error(), "at least one step is required") {
		t.Fatalf("unexpected error for missing steps: %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("id: typo\nstepz: []\n"))
	if err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestParseRejectsInvalidReferences(t *testing.T) {
	cases := map[string]string{
		"depends on unknown step": `
id: bad
steps:
  - id: a
    kind: noop
    depends_on: [missing]
`,
		"duplicate step id": `
id: bad
steps:
  - {id: a, kind: noop}
  - {id: a, kind: noop}
`,
		"duplicate dependency": `
id: bad
steps:
  - {id: a, kind: noop}
  - {id: b, kind: noop, depends_on: [a, a]}
`,
		"kind is required": `
id: bad
steps:
  - {id: a}
`,
	}
	for want, payload := range cases {
		_, err := Parse([]byte(payload))
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q error, got %v", want, err)
		}
	}
}

func TestParseDetectsCycles(t *testing.T) {
	const payload = `
id: loop
steps:
  - {id: a, kind: noop, depends_on: [c]}
  - {id: b, kind: noop, depends_on: [a]}
  - {id: c, kind: noop, depends_on: [b]}
  - {id: d, kind: noop}
`
	_, err := Parse([]byte(payload))
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	if !strings.Contains(err.Error(), "a -> c -> b -> a") {
		t.Fatalf("cycle path missing from %v", err)
	}

	_, err = Parse([]byte("id: self\nsteps:\n  - {id: a, kind: noop, depends_on: [a]}\n"))
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle for self edge, got %v", err)
	}
}

func TestLoadFileWrapsPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(path, []byte("id: x\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := LoadFile(path)
	if err == nil || !strings.Contains(err.Error(), path) {
		t.Fatalf("expected error naming %s, got %v", path, err)
	}
	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestResolveFallsBackToPipelineDir(t *testing.T) {
	dir := t.TempDir()
	if got := Resolve(dir, "nightly.yaml"); got != filepath.Join(dir, "nightly.yaml") {
		t.Fatalf("Resolve = %s", got)
	}
	abs := filepath.Join(dir, "abs.yaml")
	if got := Resolve("elsewhere", abs); got != abs {
		t.Fatalf("Resolve absolute = %s", got)
	}
}

func TestBuildWiresDependenciesAndRuns(t *testing.T) {
	def, err := Parse([]byte(searchPipeline))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tasks, err := Build(def, step.DefaultRegistry(), step.Env{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(tasks) != 4 {
		t.Fatalf("len(tasks) = %d", len(tasks))
	}
	if deps := tasks[3].Dependencies(); len(deps) != 2 || deps[0] != tasks[1] || deps[1] != tasks[2] {
		t.Fatalf("report deps not wired: %v", deps)
	}

	e := engine.New()
	e.AddAllTasks(tasks)
	for pass := 0; !e.IsDone(); pass++ {
		if pass > len(tasks) {
			t.Fatalf("pipeline did not finish within %d passes", len(tasks))
		}
		if err := e.Run(context.Background()); err != nil {
			t.Fatalf("run: %v", err)
		}
	}
	for _, tk := range tasks {
		if tk.State() != task.CompletedSuccessfully {
			t.Fatalf("%s ended in %s", task.Name(tk), tk.State())
		}
	}
}

func TestBuildRejectsUnknownKinds(t *testing.T) {
	def := Definition{ID: "x", Steps: []Step{{ID: "a", Kind: "fetch"}}}
	if _, err := Build(def, step.DefaultRegistry(), step.Env{}); !errors.Is(err, step.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind from Build, got %v", err)
	}
	if err := CheckKinds(def, step.DefaultRegistry()); !errors.Is(err, step.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind from CheckKinds, got %v", err)
	}
	if _, err := Build(def, nil, step.Env{}); err == nil {
		t.Fatalf("expected error without registry")
	}
}
