package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/searchflow/internal/workflow/engine"
	"github.com/kingrea/searchflow/internal/workflow/task"
)

func fixedClock() func() time.Time {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		at = at.Add(time.Second)
		return at
	}
}

func TestRecorderPersistsEngineTransitions(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecorder(dir, WithRunID("run-1"), WithClock(fixedClock()))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-1.jsonl"), rec.Path())

	fetch := task.NewFunc("fetch", func(context.Context) error { return errors.New("mirror down") })
	index := task.NewFunc("index", nil)
	task.Link(index, fetch)
	e := engine.New(engine.WithObserver(rec))
	e.AddAllTasks([]task.Task{fetch, index})
	for !e.IsDone() {
		_ = e.Run(context.Background())
	}
	require.NoError(t, rec.Close())

	entries, err := Load(rec.Path())
	require.NoError(t, err)
	var lines []string
	for _, entry := range entries {
		assert.Equal(t, "run-1", entry.RunID)
		lines = append(lines, entry.Task+": "+entry.From.String()+" -> "+entry.To.String())
	}
	assert.Equal(t, []string{
		"fetch: Uninitialized -> Ready",
		"fetch: Ready -> Running",
		"fetch: Running -> Run Failed",
		"index: Uninitialized -> Initialization Failed",
	}, lines)
	assert.Equal(t, "mirror down", entries[2].Error)
	assert.Empty(t, entries[3].Error)
	assert.True(t, entries[1].At.After(entries[0].At))

	final := FinalStates(entries)
	assert.Equal(t, task.RunFailed, final["fetch"])
	assert.Equal(t, task.InitFailed, final["index"])
}

func TestRecorderWritesDisplayText(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecorder(dir, WithRunID("run-2"))
	require.NoError(t, err)
	rec.OnTransition(task.Transition{Task: task.NewFunc("a", nil), From: task.Running, To: task.CompletedSuccessfully})
	require.NoError(t, rec.Close())

	data, err := os.ReadFile(rec.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"to":"Completed Successfully"`)
	assert.Contains(t, string(data), `"from":"Running"`)
}

func TestRecorderGeneratesRunID(t *testing.T) {
	rec, err := NewRecorder(t.TempDir())
	require.NoError(t, err)
	defer rec.Close()
	assert.Len(t, rec.RunID(), 36)
	assert.True(t, strings.HasSuffix(rec.Path(), rec.RunID()+Extension))
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "nope.jsonl"))
	assert.ErrorIs(t, err, ErrNoHistory)

	path := filepath.Join(dir, "corrupt.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"task\":\"a\",\"from\":\"Ready\",\"to\":\"Running\"}\n\nnot json\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestTail(t *testing.T) {
	entries := make([]Entry, 5)
	for i := range entries {
		entries[i].Task = string(rune('a' + i))
	}
	tail := Tail(entries, 3)
	require.Len(t, tail, 3)
	assert.Equal(t, "c", tail[0].Task)
	assert.Equal(t, "e", tail[2].Task)
	assert.Len(t, Tail(entries, 10), 5)
	assert.Nil(t, Tail(entries, 0))
}

func TestRunsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "older.jsonl")
	newer := filepath.Join(dir, "newer.jsonl")
	require.NoError(t, os.WriteFile(older, nil, 0o644))
	require.NoError(t, os.WriteFile(newer, nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	runs, err := Runs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{newer, older}, runs)

	runs, err = Runs(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestEntryFormat(t *testing.T) {
	entry := Entry{
		Task:  "fetch",
		From:  task.Running,
		To:    task.RunFailed,
		Error: "mirror down",
		At:    time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	line := entry.Format()
	assert.True(t, strings.HasPrefix(line, "2026-03-14T09:00:00Z fetch"))
	assert.True(t, strings.HasSuffix(line, "Running -> Run Failed: mirror down"))
}
