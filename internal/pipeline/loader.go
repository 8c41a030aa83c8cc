package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPipelineDir is where pipeline files live inside the project home.
const DefaultPipelineDir = "pipelines"

// Parse decodes a definition from YAML (or JSON) bytes and normalizes it.
func Parse(data []byte) (Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definition{}, fmt.Errorf("pipeline: definition payload is empty")
	}
	var def Definition
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&def); err != nil {
		return Definition{}, fmt.Errorf("pipeline: decode definition: %w", err)
	}
	return def.Normalized()
}

// LoadReader reads definition data from r.
func LoadReader(r io.Reader) (Definition, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline: read definition: %w", err)
	}
	return Parse(content)
}

// LoadFile loads a definition from path. Go files are interpreted with
// LoadGoFile; everything else is parsed as YAML.
func LoadFile(path string) (Definition, error) {
	if strings.EqualFold(filepath.Ext(path), ".go") {
		return LoadGoFile(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline: read %s: %w", path, err)
	}
	def, err := Parse(content)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline: %s: %w", path, err)
	}
	return def, nil
}

// Resolve finds a pipeline file: name is used as-is when it exists, otherwise
// it is looked up in baseDir (DefaultPipelineDir when empty). A name without
// an extension matches the first existing file with one of Extensions.
func Resolve(baseDir, name string) string {
	if _, err := os.Stat(name); err == nil || filepath.IsAbs(name) {
		return name
	}
	if baseDir == "" {
		baseDir = DefaultPipelineDir
	}
	path := filepath.Join(baseDir, name)
	if filepath.Ext(name) != "" {
		return path
	}
	for _, ext := range Extensions {
		if _, err := os.Stat(path + ext); err == nil {
			return path + ext
		}
	}
	return path
}
