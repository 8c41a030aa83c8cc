package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const goPipelineSource = `package main

func Pipeline() (map[string]any, error) {
	steps := []map[string]any{
		{"id": "fetch", "kind": "noop"},
	}
	for _, shard := range []string{"a", "b"} {
		steps = append(steps, map[string]any{
			"id":         "index-" + shard,
			"kind":       "noop",
			"depends_on": []string{"fetch"},
		})
	}
	return map[string]any{
		"id":    "sharded",
		"name":  "Sharded index",
		"steps": steps,
	}, nil
}
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadGoFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sharded.go", goPipelineSource)
	def, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load go pipeline: %v", err)
	}
	if def.ID != "sharded" || def.Name != "Sharded index" {
		t.Fatalf("unexpected definition %+v", def)
	}
	if got := strings.Join(def.StepIDs(), ","); got != "fetch,index-a,index-b" {
		t.Fatalf("step ids = %s", got)
	}
	if deps := def.Steps[2].DependsOn; len(deps) != 1 || deps[0] != "fetch" {
		t.Fatalf("index-b deps = %v", deps)
	}
}

func TestLoadGoFileRequiresPipelineFunc(t *testing.T) {
	dir := t.TempDir()
	missing := writeFile(t, dir, "missing.go", "package main\n")
	if _, err := LoadGoFile(missing); err == nil {
		t.Fatalf("expected error for missing %s function", GoDefinitionFunc)
	}
	failing := writeFile(t, dir, "failing.go", `package main

import "errors"

func Pipeline() (map[string]any, error) {
	return nil, errors.New("no shards configured")
}
`)
	_, err := LoadGoFile(failing)
	if err == nil || !strings.Contains(err.Error(), "no shards configured") {
		t.Fatalf("expected Pipeline error to surface, got %v", err)
	}
	empty := writeFile(t, dir, "empty.go", "  \n")
	if _, err := LoadGoFile(empty); err == nil {
		t.Fatalf("expected error for empty file")
	}
}

func TestDiscoverListsPipelines(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "nightly.yaml", searchPipeline)
	writeFile(t, dir, "sharded.go", goPipelineSource)
	writeFile(t, dir, "broken.yml", "id: broken\n")
	writeFile(t, dir, "README.md", "# pipelines\n")
	if err := os.Mkdir(filepath.Join(dir, "drafts.yaml"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	entries, err := Discover(dir)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	names := []string{entries[0].Name(), entries[1].Name(), entries[2].Name()}
	if strings.Join(names, ",") != "broken,nightly,sharded" {
		t.Fatalf("names = %v", names)
	}
	if entries[0].Err == nil {
		t.Fatalf("expected broken.yml to carry an error")
	}
	if entries[1].Err != nil || entries[1].Definition.ID != "nightly-search" {
		t.Fatalf("unexpected nightly entry %+v", entries[1])
	}

	none, err := Discover(filepath.Join(dir, "absent"))
	if err != nil || len(none) != 0 {
		t.Fatalf("missing dir should be empty, got %v %v", none, err)
	}
}

func TestResolveAddsExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sharded.go", goPipelineSource)
	if got := Resolve(dir, "sharded"); got != filepath.Join(dir, "sharded.go") {
		t.Fatalf("Resolve = %s", got)
	}
	if got := Resolve(dir, "absent"); got != filepath.Join(dir, "absent") {
		t.Fatalf("Resolve absent = %s", got)
	}
}

func TestSuggestMatchesCloseNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "nightly-search.yaml", searchPipeline)
	writeFile(t, dir, "reindex.yaml", searchPipeline)
	got := Suggest(dir, "nightly.yaml")
	if len(got) != 1 || got[0] != "nightly-search.yaml" {
		t.Fatalf("Suggest = %v", got)
	}
	if got := Suggest(filepath.Join(dir, "absent"), "x"); len(got) != 0 {
		t.Fatalf("expected no suggestions, got %v", got)
	}
}
