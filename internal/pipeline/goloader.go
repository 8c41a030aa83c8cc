package pipeline

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"gopkg.in/yaml.v3"
)

// GoDefinitionFunc is the function a Go pipeline file must declare:
//
//	func Pipeline() (map[string]any, error)
//
// The returned map has the same shape as a YAML definition.
const GoDefinitionFunc = "Pipeline"

// LoadGoFile interprets the Go source at path and builds the definition
// returned by its Pipeline function.
func LoadGoFile(path string) (Definition, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(code))) == 0 {
		return Definition{}, fmt.Errorf("pipeline: %s is empty", path)
	}
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return Definition{}, fmt.Errorf("pipeline: load stdlib symbols: %w", err)
	}
	if _, err := i.Eval(string(code)); err != nil {
		return Definition{}, fmt.Errorf("pipeline: interpret %s: %w", path, err)
	}
	fn, err := i.Eval(GoDefinitionFunc)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline: %s must define %s() (map[string]any, error): %w", path, GoDefinitionFunc, err)
	}
	raw, err := callDefinitionFunc(fn)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline: %s: %w", path, err)
	}
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline: %s: encode definition: %w", path, err)
	}
	def, err := Parse(payload)
	if err != nil {
		return Definition{}, fmt.Errorf("pipeline: %s: %w", path, err)
	}
	return def, nil
}

func callDefinitionFunc(fn reflect.Value) (map[string]any, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s is not a function", GoDefinitionFunc)
	}
	if fn.Type().NumIn() != 0 {
		return nil, fmt.Errorf("%s must take no arguments", GoDefinitionFunc)
	}
	results := fn.Call(nil)
	if len(results) == 0 || len(results) > 2 {
		return nil, fmt.Errorf("%s must return (map[string]any[, error])", GoDefinitionFunc)
	}
	if len(results) == 2 && !results[1].IsNil() {
		if e, ok := results[1].Interface().(error); ok {
			return nil, e
		}
		return nil, fmt.Errorf("%s returned non-error second value", GoDefinitionFunc)
	}
	raw, ok := results[0].Interface().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must return map[string]any, got %s", GoDefinitionFunc, results[0].Type())
	}
	return raw, nil
}
