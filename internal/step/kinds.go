package step

import (
	"context"
	"fmt"
	"strings"

	"github.com/kingrea/searchflow/internal/daemon"
	"github.com/kingrea/searchflow/internal/workflow/failure"
	"github.com/kingrea/searchflow/internal/workflow/task"
)

// Built-in kinds.
const (
	KindNoop    = "noop"
	KindFail    = "fail"
	KindCommand = "command"
	KindRemote  = "remote"
)

const defaultFailMessage = "step failed"

// DefaultRegistry returns a registry holding the built-in kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(KindNoop, newNoop)
	r.MustRegister(KindFail, newFail)
	r.MustRegister(KindCommand, newCommand)
	r.MustRegister(KindRemote, newRemote)
	r.MustRegister(KindExternal, newExternal)
	return r
}

func newNoop(spec Spec, _ Env) (task.Task, error) {
	return task.NewFunc(spec.ID, nil), nil
}

func newFail(spec Spec, _ Env) (task.Task, error) {
	message, err := spec.Config.String("message")
	if err != nil {
		return nil, err
	}
	if message == "" {
		message = defaultFailMessage
	}
	return task.NewFunc(spec.ID, func(context.Context) error {
		return failure.New(message)
	}), nil
}

func newCommand(spec Spec, env Env) (task.Task, error) {
	command, err := spec.Config.RequiredString("command")
	if err != nil {
		return nil, err
	}
	vars := env.stepVars(spec)
	log := env.Log.WithValues("step", spec.ID)
	return task.NewFunc(spec.ID, func(ctx context.Context) error {
		log.V(1).Info("running command", "command", command)
		if err := daemon.RunShell(ctx, command, env.Dir, vars); err != nil {
			return failure.Wrapf(err, "command %q", command)
		}
		return nil
	}), nil
}

func newRemote(spec Spec, env Env) (task.Task, error) {
	if env.Daemon == nil {
		return nil, fmt.Errorf("remote steps need a worker daemon")
	}
	command, err := spec.Config.RequiredString("command")
	if err != nil {
		return nil, err
	}
	return daemon.NewTask(env.Daemon, daemon.Command(spec.ID, command, env.Dir, env.stepVars(spec))), nil
}

func (env Env) stepVars(spec Spec) []string {
	vars := make([]string, 0, len(env.Vars)+1)
	vars = append(vars, env.Vars...)
	return append(vars, "SEARCHFLOW_STEP="+spec.ID)
}

// String returns the string value at key, or "" when absent.
func (cfg Config) String(key string) (string, error) {
	raw, ok := cfg[key]
	if !ok || raw == nil {
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("config %s must be a string, got %T", key, raw)
	}
	return strings.TrimSpace(value), nil
}

// RequiredString is String but rejects missing or blank values.
func (cfg Config) RequiredString(key string) (string, error) {
	value, err := cfg.String(key)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", fmt.Errorf("config %s is required", key)
	}
	return value, nil
}
