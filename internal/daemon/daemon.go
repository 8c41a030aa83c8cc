// Package daemon is an in-process worker pool that runs work off the driver
// goroutine and reports progress back through listeners, the way a remote
// worker daemon would.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultWorkers is the pool size used when none is configured.
	DefaultWorkers = 4
	// DefaultQueueSize bounds how many jobs may wait for a worker.
	DefaultQueueSize = 64
)

var (
	// ErrClosed is returned by Submit after Close, and reported to listeners
	// whose jobs never ran.
	ErrClosed = errors.New("daemon: closed")
	// ErrQueueFull is returned when the job queue has no free slot.
	ErrQueueFull = errors.New("daemon: queue full")
)

// Work is a unit the daemon executes. Run may call progress with a fraction
// in [0, 1] any number of times.
type Work struct {
	Name string
	Run  func(ctx context.Context, progress func(fraction float64)) error
}

// ProgressListener receives job events from worker goroutines.
type ProgressListener interface {
	ReportStart(id string)
	ReportProgress(id string, fraction float64)
	ReportSuccess(id string)
	ReportFailure(id string, err error)
}

type job struct {
	id       string
	work     Work
	listener ProgressListener
}

// Daemon runs submitted work on a fixed pool of workers.
type Daemon struct {
	workers int
	log     logr.Logger

	mu      sync.Mutex
	queue   chan job
	started bool
	closed  bool
	group   *errgroup.Group
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithWorkers sets the pool size.
func WithWorkers(n int) Option {
	return func(d *Daemon) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) Option {
	return func(d *Daemon) {
		if n > 0 {
			d.queue = make(chan job, n)
		}
	}
}

// WithLogger sets the daemon logger.
func WithLogger(log logr.Logger) Option {
	return func(d *Daemon) {
		d.log = log
	}
}

// New returns a daemon that accepts submissions immediately; jobs wait in the
// queue until Start.
func New(opts ...Option) *Daemon {
	d := &Daemon{
		workers: DefaultWorkers,
		log:     logr.Discard(),
		queue:   make(chan job, DefaultQueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the workers. They stop when ctx is done or after Close.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.started {
		return fmt.Errorf("daemon: already started")
	}
	d.started = true
	group, gctx := errgroup.WithContext(ctx)
	d.group = group
	for i := 0; i < d.workers; i++ {
		worker := i
		group.Go(func() error {
			d.work(gctx, worker)
			return nil
		})
	}
	d.log.V(1).Info("daemon started", "workers", d.workers, "queue", cap(d.queue))
	return nil
}

// Submit queues work and returns its job id.
func (d *Daemon) Submit(work Work, listener ProgressListener) (string, error) {
	if work.Run == nil {
		return "", fmt.Errorf("daemon: work %q has no run function", work.Name)
	}
	if listener == nil {
		return "", fmt.Errorf("daemon: listener is required for %q", work.Name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return "", ErrClosed
	}
	j := job{id: uuid.NewString(), work: work, listener: listener}
	select {
	case d.queue <- j:
	default:
		return "", fmt.Errorf("%w: %d jobs waiting", ErrQueueFull, cap(d.queue))
	}
	d.log.V(1).Info("job queued", "job", j.id, "work", work.Name)
	return j.id, nil
}

// Close stops accepting work, waits for running jobs and fails every job
// that never started with ErrClosed.
func (d *Daemon) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	group := d.group
	d.mu.Unlock()

	var err error
	if group != nil {
		err = group.Wait()
	}
	for j := range d.queue {
		j.listener.ReportFailure(j.id, ErrClosed)
	}
	return err
}

func (d *Daemon) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-d.queue:
			if !ok {
				return
			}
			d.execute(ctx, worker, j)
		}
	}
}

func (d *Daemon) execute(ctx context.Context, worker int, j job) {
	log := d.log.WithValues("job", j.id, "work", j.work.Name, "worker", worker)
	j.listener.ReportStart(j.id)
	err := runWork(ctx, j.work, func(fraction float64) {
		j.listener.ReportProgress(j.id, clamp(fraction))
	})
	if err != nil {
		log.V(1).Info("job failed", "error", err.Error())
		j.listener.ReportFailure(j.id, err)
		return
	}
	log.V(1).Info("job finished")
	j.listener.ReportProgress(j.id, 1)
	j.listener.ReportSuccess(j.id)
}

// PanicError carries a panic raised by work.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// Message is empty when the panic value is an error, so failure.DetailedMessage
// renders that error instead.
func (p *PanicError) Message() string {
	if _, ok := p.Value.(error); ok {
		return ""
	}
	return fmt.Sprintf("panic: %v", p.Value)
}

// Unwrap returns the panic value when it is an error.
func (p *PanicError) Unwrap() error {
	err, _ := p.Value.(error)
	return err
}

func runWork(ctx context.Context, work Work, progress func(float64)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return work.Run(ctx, progress)
}

func clamp(fraction float64) float64 {
	switch {
	case fraction < 0:
		return 0
	case fraction > 1:
		return 1
	default:
		return fraction
	}
}
