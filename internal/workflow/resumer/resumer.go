// Package resumer provides the one-shot wake/wait handshake a driver uses to
// block until an asynchronously completing task lets the engine continue.
package resumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

const (
	// DefaultTimeout bounds a single WaitForResume call.
	DefaultTimeout = 30 * time.Second
	// DefaultRecheckInterval is how often a blocked waiter wakes to report.
	DefaultRecheckInterval = time.Second
)

var (
	// ErrResumedTwice is returned when Resume is called again before Reset.
	ErrResumedTwice = errors.New("resumer: resume called twice without reset")
	// ErrWaitedTwice is returned when WaitForResume is called again before Reset.
	ErrWaitedTwice = errors.New("resumer: wait called twice without reset")
	// ErrTimeout is returned when nobody resumed within the timeout.
	ErrTimeout = errors.New("resumer: timed out waiting for resume")
)

// Resumer is a single-use rendezvous: one Resume, one WaitForResume, then
// Reset before the next round. Resume may be called from any goroutine.
type Resumer struct {
	mu            sync.Mutex
	usedForWait   bool
	usedForResume bool
	resumed       bool
	done          chan struct{}

	timeout time.Duration
	recheck time.Duration
	log     logr.Logger
}

// Option customizes a Resumer.
type Option func(*Resumer)

// WithTimeout overrides the overall wait ceiling.
func WithTimeout(d time.Duration) Option {
	return func(r *Resumer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRecheckInterval overrides how often a waiter wakes up while blocked.
func WithRecheckInterval(d time.Duration) Option {
	return func(r *Resumer) {
		if d > 0 {
			r.recheck = d
		}
	}
}

// WithLogger attaches a logger for wait diagnostics.
func WithLogger(log logr.Logger) Option {
	return func(r *Resumer) {
		r.log = log
	}
}

// New returns a Resumer ready for one round.
func New(opts ...Option) *Resumer {
	r := &Resumer{
		done:    make(chan struct{}),
		timeout: DefaultTimeout,
		recheck: DefaultRecheckInterval,
		log:     logr.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reset clears the resumer for the next round.
func (r *Resumer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usedForWait = false
	r.usedForResume = false
	r.resumed = false
	r.done = make(chan struct{})
}

// Resume wakes the waiter of the current round.
func (r *Resumer) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.usedForResume {
		return ErrResumedTwice
	}
	r.usedForResume = true
	r.resumed = true
	close(r.done)
	return nil
}

// Resumed reports whether Resume was called in the current round.
func (r *Resumer) Resumed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resumed
}

// WaitForResume blocks until Resume is called, the timeout elapses or ctx is
// done. A timeout means the pipeline is stuck and is reported as ErrTimeout.
func (r *Resumer) WaitForResume(ctx context.Context) error {
	r.mu.Lock()
	if r.usedForWait {
		r.mu.Unlock()
		return ErrWaitedTwice
	}
	r.usedForWait = true
	done := r.done
	r.mu.Unlock()

	start := time.Now()
	deadline := time.NewTimer(r.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.recheck)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
			r.log.V(1).Info("waiting for resume", "elapsed", time.Since(start).Round(time.Millisecond))
		case <-deadline.C:
			if r.Resumed() {
				return nil
			}
			return fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
