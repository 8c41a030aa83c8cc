package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// Extensions lists the file types Discover and LoadFile understand.
var Extensions = []string{".yaml", ".yml", ".json", ".go"}

// Entry is one pipeline file found by Discover.
type Entry struct {
	Path       string
	Definition Definition
	Err        error
}

// Name is the file name without its extension.
func (e Entry) Name() string {
	base := filepath.Base(e.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Discover loads every pipeline file directly under dir. Files that fail to
// load are returned with Err set so callers can list them. A missing dir is
// not an error.
func Discover(dir string) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pipeline: read %s: %w", dir, err)
	}
	var out []Entry
	for _, entry := range entries {
		if entry.IsDir() || !isPipelineFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		def, err := LoadFile(path)
		out = append(out, Entry{Path: path, Definition: def, Err: err})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Suggest returns pipeline names under dir that fuzzily match name, best
// match first.
func Suggest(dir, name string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !isPipelineFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	query := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	matches := fuzzy.Find(query, names)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Str)
	}
	return out
}

func isPipelineFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, known := range Extensions {
		if ext == known {
			return true
		}
	}
	return false
}
