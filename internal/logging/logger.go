package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

// FileName is the log file inside the logs directory.
const FileName = "searchflow.log"

// Logger appends timestamped lines to <logs>/searchflow.log so runs can be
// inspected after the terminal is gone.
type Logger struct {
	mu    sync.Mutex
	file  io.WriteCloser
	path  string
	clock func() time.Time
}

// New creates (or reuses) the log file inside logsDir.
func New(logsDir string) (*Logger, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logsDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{file: f, path: path, clock: time.Now}, nil
}

// Path returns the file backing this logger.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.file.Close()
	l.file = nil
	return err
}

// Printf writes a single timestamped line to the log file.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	line = strings.TrimRight(line, "\n")
	timestamp := l.clock().Format(time.RFC3339)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	fmt.Fprintf(l.file, "[%s] %s\n", timestamp, line)
}

// Logr adapts the file to a logr.Logger. Entries up to verbosity are kept.
func (l *Logger) Logr(verbosity int) logr.Logger {
	return funcr.New(func(prefix, args string) {
		if prefix != "" {
			l.Printf("%s: %s", prefix, args)
			return
		}
		l.Printf("%s", args)
	}, funcr.Options{Verbosity: verbosity})
}

// Tee fans every entry out to both loggers.
func Tee(a, b logr.Logger) logr.Logger {
	return logr.New(&teeSink{a: a, b: b})
}

type teeSink struct {
	a, b logr.Logger
}

func (t *teeSink) Init(logr.RuntimeInfo) {}

func (t *teeSink) Enabled(level int) bool {
	return t.a.V(level).Enabled() || t.b.V(level).Enabled()
}

func (t *teeSink) Info(level int, msg string, keysAndValues ...any) {
	t.a.V(level).Info(msg, keysAndValues...)
	t.b.V(level).Info(msg, keysAndValues...)
}

func (t *teeSink) Error(err error, msg string, keysAndValues ...any) {
	t.a.Error(err, msg, keysAndValues...)
	t.b.Error(err, msg, keysAndValues...)
}

func (t *teeSink) WithValues(keysAndValues ...any) logr.LogSink {
	return &teeSink{a: t.a.WithValues(keysAndValues...), b: t.b.WithValues(keysAndValues...)}
}

func (t *teeSink) WithName(name string) logr.LogSink {
	return &teeSink{a: t.a.WithName(name), b: t.b.WithName(name)}
}
