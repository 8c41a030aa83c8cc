// Package failure renders chains of wrapped errors as one readable line and
// aggregates independent task failures collected during a scheduling pass.
package failure

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// NullPointerMessage replaces the text of nil pointer dereference errors.
const NullPointerMessage = "Null pointer exception"

const (
	separator     = " - "
	maxChainDepth = 256
)

// Messenger is implemented by errors that know their own message apart from
// the message of the error they wrap.
type Messenger interface {
	Message() string
}

// Error is an error with its own message and an optional cause.
type Error struct {
	msg   string
	cause error
}

// New returns an error without a cause.
func New(msg string) error {
	return &Error{msg: msg}
}

// Wrap returns an error with message msg caused by cause.
func Wrap(cause error, msg string) error {
	return &Error{msg: msg, cause: cause}
}

// Wrapf is Wrap with a format string.
func Wrapf(cause error, format string, args ...any) error {
	return &Error{msg: fmt.Sprintf(format, args...), cause: cause}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.msg
	}
	if e.msg == "" {
		return e.cause.Error()
	}
	return e.msg + ": " + e.cause.Error()
}

// Message returns the error's own message.
func (e *Error) Message() string { return e.msg }

func (e *Error) Unwrap() error { return e.cause }

// DetailedMessage flattens the cause chain of err, outermost first, joined
// with " - ". A level whose message repeats the last non-empty message
// (ignoring case) is skipped, as is a level that only restates the type and
// message of its cause. A nil error yields "".
func DetailedMessage(err error) string {
	chain := causeChain(err)
	if len(chain) == 0 {
		return ""
	}
	parts := make([]string, 0, len(chain))
	prev := ""
	for i, e := range chain {
		var next error
		if i+1 < len(chain) {
			next = chain[i+1]
		}
		msg := ownMessage(e, next)
		if msg == "" {
			continue
		}
		repeated := prev != "" && strings.EqualFold(msg, prev)
		prev = msg
		if repeated || isRewrap(msg, next) {
			continue
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, separator)
}

// causeChain walks single-error Unwrap links from err to the root, stopping
// at a self-referencing cause.
func causeChain(err error) []error {
	var chain []error
	for cur := err; cur != nil && len(chain) < maxChainDepth; {
		chain = append(chain, cur)
		next := errors.Unwrap(cur)
		if next == nil || sameError(next, cur) {
			break
		}
		cur = next
	}
	return chain
}

func ownMessage(err, cause error) string {
	if isNilPointer(err) {
		return NullPointerMessage
	}
	if m, ok := err.(Messenger); ok {
		return strings.TrimSpace(m.Message())
	}
	full := err.Error()
	if cause == nil {
		return strings.TrimSpace(full)
	}
	inner := cause.Error()
	switch {
	case full == inner:
		return ""
	case strings.HasSuffix(full, ": "+inner):
		return strings.TrimSpace(strings.TrimSuffix(full, ": "+inner))
	default:
		return strings.TrimSpace(full)
	}
}

// isRewrap reports whether msg is only "<cause type>" or
// "<cause type>: <cause message>".
func isRewrap(msg string, cause error) bool {
	if cause == nil {
		return false
	}
	typeName := fmt.Sprintf("%T", cause)
	return msg == typeName || msg == typeName+": "+ownMessage(cause, errors.Unwrap(cause))
}

func isNilPointer(err error) bool {
	rtErr, ok := err.(runtime.Error)
	return ok && strings.Contains(rtErr.Error(), "nil pointer dereference")
}

func sameError(a, b error) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
