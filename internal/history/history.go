// Package history persists task transitions as JSON lines so a finished or
// aborted run can be inspected later.
package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/searchflow/internal/workflow/engine"
	"github.com/kingrea/searchflow/internal/workflow/failure"
	"github.com/kingrea/searchflow/internal/workflow/task"
)

// ErrNoHistory is returned when a run file does not exist.
var ErrNoHistory = errors.New("history: no history recorded")

// Extension is the suffix of run files.
const Extension = ".jsonl"

// Entry is one recorded transition.
type Entry struct {
	RunID string     `json:"run_id"`
	Task  string     `json:"task"`
	From  task.State `json:"from"`
	To    task.State `json:"to"`
	Error string     `json:"error,omitempty"`
	At    time.Time  `json:"at"`
}

// Recorder appends transitions to <dir>/<run-id>.jsonl. It implements
// engine.Observer and is safe for concurrent use.
type Recorder struct {
	runID string
	path  string
	clock func() time.Time

	mu   sync.Mutex
	file *os.File
	err  error
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(r *Recorder) {
		if id = strings.TrimSpace(id); id != "" {
			r.runID = id
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRecorder creates the run file inside dir.
func NewRecorder(dir string, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		runID: uuid.NewString(),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: ensure dir: %w", err)
	}
	r.path = filepath.Join(dir, r.runID+Extension)
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", r.path, err)
	}
	r.file = f
	return r, nil
}

// RunID returns the id of the recorded run.
func (r *Recorder) RunID() string {
	return r.runID
}

// Path returns the file backing this recorder.
func (r *Recorder) Path() string {
	return r.path
}

// OnTransition appends one entry. Write failures are kept and reported by
// Err and Close rather than interrupting the engine.
func (r *Recorder) OnTransition(tr task.Transition) {
	entry := Entry{
		RunID: r.runID,
		Task:  task.Name(tr.Task),
		From:  tr.From,
		To:    tr.To,
		At:    r.clock().UTC(),
	}
	if tr.Err != nil {
		entry.Error = failure.DetailedMessage(tr.Err)
	}
	line, err := json.Marshal(entry)
	if err != nil {
		r.setErr(fmt.Errorf("history: encode entry: %w", err))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	if _, err := r.file.Write(append(line, '\n')); err != nil && r.err == nil {
		r.err = fmt.Errorf("history: write %s: %w", r.path, err)
	}
}

// OnPass is a no-op; passes are not persisted.
func (r *Recorder) OnPass(engine.PassSummary) {}

// Err returns the first write failure.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close releases the file handle.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return r.err
	}
	closeErr := r.file.Close()
	r.file = nil
	if r.err != nil {
		return r.err
	}
	return closeErr
}

func (r *Recorder) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

// Load reads every entry of a run file.
func Load(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrNoHistory, path)
		}
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(text), &entry); err != nil {
			return nil, fmt.Errorf("history: %s line %d: %w", path, line, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("history: read %s: %w", path, err)
	}
	return entries, nil
}

// Tail returns up to n of the most recent entries.
func Tail(entries []Entry, n int) []Entry {
	if n <= 0 || len(entries) == 0 {
		return nil
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// FinalStates returns the last recorded state of every task.
func FinalStates(entries []Entry) map[string]task.State {
	states := make(map[string]task.State)
	for _, entry := range entries {
		states[entry.Task] = entry.To
	}
	return states
}

// Runs lists the run files in dir, most recently modified first.
func Runs(dir string) ([]string, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("history: list %s: %w", dir, err)
	}
	type run struct {
		path    string
		modTime time.Time
	}
	var runs []run
	for _, item := range items {
		if item.IsDir() || filepath.Ext(item.Name()) != Extension {
			continue
		}
		info, err := item.Info()
		if err != nil {
			continue
		}
		runs = append(runs, run{path: filepath.Join(dir, item.Name()), modTime: info.ModTime()})
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].modTime.After(runs[j].modTime)
	})
	paths := make([]string, len(runs))
	for i, r := range runs {
		paths[i] = r.path
	}
	return paths, nil
}

// Format renders an entry as one human-readable line.
func (e Entry) Format() string {
	line := fmt.Sprintf("%s %-24s %s -> %s", e.At.Format(time.RFC3339), e.Task, e.From, e.To)
	if e.Error != "" {
		line += ": " + e.Error
	}
	return line
}
