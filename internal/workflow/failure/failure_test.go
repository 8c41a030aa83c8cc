package failure

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetailedMessageDistinctWraps(t *testing.T) {
	err := errors.New("Base")
	for _, msg := range []string{"Wrap1", "Wrap2", "Wrap3"} {
		err = fmt.Errorf("%s: %w", msg, err)
	}
	assert.Equal(t, "Wrap3 - Wrap2 - Wrap1 - Base", DetailedMessage(err))
}

func TestDetailedMessageCollapsesRepeatedWrap(t *testing.T) {
	err := New("Base")
	err = Wrap(err, "Wrap")
	err = Wrap(err, "Wrap")
	err = Wrap(err, "Wrap3")
	assert.Equal(t, "Wrap3 - Wrap - Base", DetailedMessage(err))
}

func TestDetailedMessageRepeatIgnoresCase(t *testing.T) {
	err := Wrap(Wrap(New("Base"), "Oops"), "OOPS")
	assert.Equal(t, "OOPS - Base", DetailedMessage(err))
}

func TestDetailedMessageEmpty(t *testing.T) {
	assert.Equal(t, "", DetailedMessage(nil))
	assert.Equal(t, "", DetailedMessage(errors.New("")))
}

func TestDetailedMessageNilPointer(t *testing.T) {
	err := recoverNilDeref()
	require.Error(t, err)
	assert.Equal(t, NullPointerMessage, DetailedMessage(err))
	assert.Equal(t, "loading spectra - "+NullPointerMessage, DetailedMessage(Wrap(err, "loading spectra")))
}

func TestDetailedMessageDropsTypeRewrap(t *testing.T) {
	inner := New("disk full")
	rewrapped := Wrap(inner, fmt.Sprintf("%T: disk full", inner))
	assert.Equal(t, "disk full", DetailedMessage(rewrapped))

	typeOnly := fmt.Errorf("%T: %w", inner, inner)
	assert.Equal(t, "disk full", DetailedMessage(typeOnly))

	outer := Wrap(rewrapped, "search failed")
	assert.Equal(t, "search failed - disk full", DetailedMessage(outer))
}

func TestDetailedMessageStopsOnSelfCause(t *testing.T) {
	err := &selfCause{msg: "stuck"}
	assert.Equal(t, "stuck", DetailedMessage(err))
	assert.Equal(t, "outer - stuck", DetailedMessage(Wrap(err, "outer")))
}

func TestDetailedMessageSkipsMessagelessWrapper(t *testing.T) {
	err := fmt.Errorf("%w", errors.New("root cause"))
	assert.Equal(t, "root cause", DetailedMessage(err))
}

func TestDetailedMessageCollapsesRepeatAcrossMessagelessWrapper(t *testing.T) {
	err := Wrap(fmt.Errorf("%w", New("x")), "x")
	assert.Equal(t, "x", DetailedMessage(err))
	err = Wrap(fmt.Errorf("%w", Wrap(New("disk full"), "write index")), "Write Index")
	assert.Equal(t, "Write Index - disk full", DetailedMessage(err))
}

func TestCompositeErrorMessage(t *testing.T) {
	first := fmt.Errorf("parse mgf: %w", errors.New("bad header"))
	second := errors.New("engine offline")
	composite := NewComposite("", []error{first, nil, second})

	require.Equal(t, 2, composite.Len())
	assert.Equal(t, "Composite exception\n1. parse mgf - bad header\n2. engine offline", composite.Error())
	assert.True(t, errors.Is(composite, second))
	assert.Equal(t, []error{first, second}, composite.Errors())

	summarized := NewComposite("2 tasks failed", []error{first, second})
	assert.True(t, strings.HasPrefix(summarized.Error(), "2 tasks failed\n1. "))
}

func TestFlatten(t *testing.T) {
	a, b := errors.New("a"), errors.New("b")
	assert.Nil(t, Flatten(nil))
	assert.Equal(t, []error{a}, Flatten(a))
	assert.Equal(t, []error{a, b}, Flatten(NewComposite("", []error{a, b})))
}

type selfCause struct{ msg string }

func (e *selfCause) Error() string { return e.msg }
func (e *selfCause) Unwrap() error { return e }

func recoverNilDeref() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err, _ = r.(error)
		}
	}()
	var p *struct{ n int }
	sink = p.n
	return nil
}

var sink int
