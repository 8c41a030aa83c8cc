package daemon

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Command returns work that runs a shell command in dir. Extra environment
// entries are appended to the inherited environment.
func Command(name, command, dir string, env []string) Work {
	return Work{
		Name: name,
		Run: func(ctx context.Context, progress func(float64)) error {
			return RunShell(ctx, command, dir, env)
		},
	}
}

// RunShell runs command through sh -c and folds stderr into the error.
func RunShell(ctx context.Context, command, dir string, env []string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return fmt.Errorf("daemon: command is empty")
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w", msg, err)
		}
		return err
	}
	return nil
}
