package bridge

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ProtocolVersion is reported by /health.
	ProtocolVersion = "1.0.0"
	// EventSchemaVersion is the only accepted Event.Version; zero means current.
	EventSchemaVersion = 1

	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrUnknownTask is returned by processors for events naming no waiting task.
var ErrUnknownTask = errors.New("bridge: unknown task")

// Event reports the outcome of an external step.
type Event struct {
	Version    int       `json:"version"`
	Task       string    `json:"task"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	ServerTime time.Time `json:"server_time"`
}

// Normalize trims fields, lowercases the status and defaults the version.
func (e *Event) Normalize() {
	if e.Version == 0 {
		e.Version = EventSchemaVersion
	}
	e.Task = strings.TrimSpace(e.Task)
	e.Status = strings.ToLower(strings.TrimSpace(e.Status))
	e.Error = strings.TrimSpace(e.Error)
}

// Validate checks a normalized event.
func (e Event) Validate() error {
	switch {
	case e.Version != EventSchemaVersion:
		return fmt.Errorf("event version %d is not supported", e.Version)
	case e.Task == "":
		return errors.New("task is required")
	case e.Status != StatusSucceeded && e.Status != StatusFailed:
		return fmt.Errorf("status %q must be %s or %s", e.Status, StatusSucceeded, StatusFailed)
	case e.Status == StatusFailed && e.Error == "":
		return errors.New("failed events need an error")
	}
	return nil
}

// EventProcessor applies a validated event. Returning an error wrapping
// ErrUnknownTask answers 404; any other error answers 409.
type EventProcessor interface {
	HandleEvent(Event) error
}

// EventProcessorFunc adapts a function to EventProcessor.
type EventProcessorFunc func(Event) error

// HandleEvent calls f.
func (f EventProcessorFunc) HandleEvent(e Event) error { return f(e) }

// TaskStatus is one row of the /tasks snapshot.
type TaskStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type eventResponse struct {
	Status     string    `json:"status"`
	ServerTime time.Time `json:"server_time"`
}
