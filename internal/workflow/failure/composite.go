package failure

import (
	"fmt"
	"strings"
)

// DefaultCompositeSummary heads a composite message when no summary is given.
const DefaultCompositeSummary = "Composite exception"

// CompositeError aggregates independent failures from one scheduling pass.
// The errors are siblings, not a cause chain.
type CompositeError struct {
	summary string
	errs    []error
}

// NewComposite collects errs under summary. Nil errors are dropped.
func NewComposite(summary string, errs []error) *CompositeError {
	kept := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	return &CompositeError{summary: summary, errs: kept}
}

// Errors returns the collected errors in the order they were recorded.
func (c *CompositeError) Errors() []error {
	out := make([]error, len(c.errs))
	copy(out, c.errs)
	return out
}

// Len returns the number of collected errors.
func (c *CompositeError) Len() int {
	return len(c.errs)
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (c *CompositeError) Unwrap() []error {
	return c.Errors()
}

// Error renders the summary line followed by one numbered line per error.
func (c *CompositeError) Error() string {
	var b strings.Builder
	summary := strings.TrimSpace(c.summary)
	if summary == "" {
		summary = DefaultCompositeSummary
	}
	b.WriteString(summary)
	for i, err := range c.errs {
		fmt.Fprintf(&b, "\n%d. %s", i+1, DetailedMessage(err))
	}
	return b.String()
}

// Flatten expands composite errors into their members. Other errors are
// returned as a one-element slice; nil yields nil.
func Flatten(err error) []error {
	if err == nil {
		return nil
	}
	if c, ok := err.(*CompositeError); ok {
		return c.Errors()
	}
	return []error{err}
}
