package task

import (
	"sync"
	"sync/atomic"
)

// Base carries the bookkeeping every task kind shares: the cross-goroutine
// state cell, the dependency list and transition subscribers. Concrete kinds
// embed *Base and supply Run.
type Base struct {
	name  string
	state atomic.Int32

	// deps is written only while the graph is built, before scheduling starts.
	deps []Task

	mu        sync.RWMutex
	listeners map[int]func(from, to State)
	nextID    int
}

// NewBase returns an Uninitialized base with the given display name.
func NewBase(name string) *Base {
	return &Base{name: name}
}

// Name returns the display name.
func (b *Base) Name() string {
	return b.name
}

// String implements fmt.Stringer.
func (b *Base) String() string {
	if b.name == "" {
		return "task"
	}
	return b.name
}

// State returns the current state.
func (b *Base) State() State {
	return State(b.state.Load())
}

// SetState stores s and notifies subscribers when the value changed. Safe to
// call from any goroutine.
func (b *Base) SetState(s State) {
	prev := State(b.state.Swap(int32(s)))
	if prev == s {
		return
	}
	b.mu.RLock()
	listeners := make([]func(from, to State), 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()
	for _, fn := range listeners {
		fn(prev, s)
	}
}

// Subscribe registers fn for every future transition. fn runs on the
// goroutine that called SetState.
func (b *Base) Subscribe(fn func(from, to State)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners == nil {
		b.listeners = map[int]func(from, to State){}
	}
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// Dependencies returns a copy of the declared dependencies.
func (b *Base) Dependencies() []Task {
	if len(b.deps) == 0 {
		return nil
	}
	out := make([]Task, len(b.deps))
	copy(out, b.deps)
	return out
}

// DeclareDependency reports whether dep is not yet a dependency.
func (b *Base) DeclareDependency(dep Task) bool {
	return dep != nil && !b.hasDependency(dep)
}

// AddDependency records dep once.
func (b *Base) AddDependency(dep Task) {
	if dep == nil || b.hasDependency(dep) {
		return
	}
	b.deps = append(b.deps, dep)
}

func (b *Base) hasDependency(dep Task) bool {
	for _, existing := range b.deps {
		if existing == dep {
			return true
		}
	}
	return false
}
