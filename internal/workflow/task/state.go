package task

import (
	"fmt"
	"strings"
)

// State is the lifecycle value of a task. States are compared by identity;
// the display text is only used for reporting and persistence.
type State int

const (
	Uninitialized State = iota
	Ready
	Running
	CompletedSuccessfully
	RunFailed
	InitFailed
)

var stateText = map[State]string{
	Uninitialized:         "Uninitialized",
	Ready:                 "Ready",
	Running:               "Running",
	CompletedSuccessfully: "Completed Successfully",
	RunFailed:             "Run Failed",
	InitFailed:            "Initialization Failed",
}

// States returns every state in lifecycle order.
func States() []State {
	return []State{Uninitialized, Ready, Running, CompletedSuccessfully, RunFailed, InitFailed}
}

// String returns the canonical display text.
func (s State) String() string {
	if text, ok := stateText[s]; ok {
		return text
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IsTerminal reports whether the state can never change again.
func (s State) IsTerminal() bool {
	return s == CompletedSuccessfully || s == RunFailed || s == InitFailed
}

// IsFailure reports whether the state blocks dependents for good.
func (s State) IsFailure() bool {
	return s == RunFailed || s == InitFailed
}

// ParseState is the reverse lookup of String. Matching ignores case and
// surrounding whitespace.
func ParseState(text string) (State, error) {
	trimmed := strings.TrimSpace(text)
	for _, s := range States() {
		if strings.EqualFold(stateText[s], trimmed) {
			return s, nil
		}
	}
	return Uninitialized, fmt.Errorf("task: unknown state %q", text)
}

// MarshalText encodes the state as its display text.
func (s State) MarshalText() ([]byte, error) {
	if _, ok := stateText[s]; !ok {
		return nil, fmt.Errorf("task: cannot encode %s", s)
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes display text produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
