package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kingrea/searchflow/internal/workflow/failure"
	"github.com/kingrea/searchflow/internal/workflow/task"
)

func startServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	settings := DefaultSettings("127.0.0.1:0")
	settings.MaxBodyBytes = 256
	srv := NewServer(settings, opts...)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	return srv
}

func postEvent(t *testing.T, srv *Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.BaseURL()+"/events", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post event: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestEventValidate(t *testing.T) {
	evt := Event{Task: " index ", Status: " Succeeded"}
	evt.Normalize()
	if err := evt.Validate(); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}
	if evt.Task != "index" || evt.Status != StatusSucceeded {
		t.Fatalf("normalize left %q/%q", evt.Task, evt.Status)
	}
	evt.Version = 99
	if err := evt.Validate(); err == nil {
		t.Fatalf("expected version error")
	}
	failed := Event{Version: EventSchemaVersion, Task: "index", Status: StatusFailed}
	if err := failed.Validate(); err == nil {
		t.Fatalf("expected failed event without error to be rejected")
	}
	unknown := Event{Version: EventSchemaVersion, Task: "index", Status: "paused"}
	if err := unknown.Validate(); err == nil {
		t.Fatalf("expected unknown status to be rejected")
	}
}

func TestServerAcceptsEvents(t *testing.T) {
	fixed := time.Unix(1730000000, 0).UTC()
	recorded := make(chan Event, 1)
	srv := startServer(t,
		WithClock(func() time.Time { return fixed }),
		WithProcessor(EventProcessorFunc(func(e Event) error {
			recorded <- e
			return nil
		})))

	resp, err := http.Get(srv.BaseURL() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || health.Status != string(StatusReady) {
		t.Fatalf("unexpected health %d %+v", resp.StatusCode, health)
	}

	resp = postEvent(t, srv, `{"task":"review","status":"succeeded"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	select {
	case evt := <-recorded:
		if evt.Task != "review" || !evt.ServerTime.Equal(fixed) {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("processor never called")
	}
}

func TestServerRejectsBadEvents(t *testing.T) {
	srv := startServer(t)
	cases := map[string]struct {
		body   string
		status int
	}{
		"invalid json":  {body: `{`, status: http.StatusBadRequest},
		"missing task":  {body: `{"status":"succeeded"}`, status: http.StatusBadRequest},
		"unknown task":  {body: `{"task":"ghost","status":"succeeded"}`, status: http.StatusNotFound},
		"payload limit": {body: fmt.Sprintf(`{"task":"%s","status":"succeeded"}`, strings.Repeat("x", 300)), status: http.StatusRequestEntityTooLarge},
	}
	for name, tc := range cases {
		resp := postEvent(t, srv, tc.body)
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d, got %d", name, tc.status, resp.StatusCode)
		}
	}

	resp, err := http.Get(srv.BaseURL() + "/events")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

type fakeSignaler struct {
	mu       sync.Mutex
	err      error
	called   bool
	rejectAs error
}

func (f *fakeSignaler) Signal(err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectAs != nil {
		return f.rejectAs
	}
	f.called = true
	f.err = err
	return nil
}

func (f *fakeSignaler) received() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.called, f.err
}

func TestSignalProcessorRoutesEvents(t *testing.T) {
	review := &fakeSignaler{}
	done := &fakeSignaler{rejectAs: fmt.Errorf("already finished")}
	srv := startServer(t, WithProcessor(SignalProcessor(map[string]*fakeSignaler{"review": review, "done": done})))

	resp := postEvent(t, srv, `{"task":"review","status":"failed","error":"changes requested"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if called, err := review.received(); !called || err == nil || err.Error() != "changes requested" {
		t.Fatalf("signal not delivered: called=%v err=%v", called, err)
	}

	resp = postEvent(t, srv, `{"task":"done","status":"succeeded"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for rejected signal, got %d", resp.StatusCode)
	}
}

func TestTasksAndMetricsEndpoints(t *testing.T) {
	ok := task.NewFunc("fetch", nil)
	bad := task.NewFunc("index", nil)
	bad.SetState(task.RunFailed)
	errOf := func(t task.Task) error {
		if t == bad {
			return failure.New("disk full")
		}
		return nil
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "searchflow_tasks 2\n")
	})
	srv := startServer(t, WithTasks(Snapshot([]task.Task{ok, bad}, errOf)), WithMetrics(metrics))

	resp, err := http.Get(srv.BaseURL() + "/tasks")
	if err != nil {
		t.Fatalf("get tasks: %v", err)
	}
	defer resp.Body.Close()
	var rows []TaskStatus
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode tasks: %v", err)
	}
	want := []TaskStatus{
		{Name: "fetch", State: task.Uninitialized.String()},
		{Name: "index", State: task.RunFailed.String(), Error: "disk full"},
	}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %+v", len(want), rows)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Fatalf("row %d: expected %+v, got %+v", i, want[i], rows[i])
		}
	}

	mresp, err := http.Get(srv.BaseURL() + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer mresp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(mresp.Body); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(buf.String(), "searchflow_tasks 2") {
		t.Fatalf("metrics handler not mounted: %q", buf.String())
	}
}

func TestShutdownDrains(t *testing.T) {
	srv := startServer(t)
	if srv.Addr() == "" {
		t.Fatalf("expected bound address")
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("expected second start to fail")
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if srv.Status() != StatusDraining || srv.Addr() != "" {
		t.Fatalf("unexpected state after shutdown: %s %q", srv.Status(), srv.Addr())
	}
}

func TestHandlerRejectsWritesOnReadEndpoints(t *testing.T) {
	h := NewServer(DefaultSettings("127.0.0.1:0")).Handler()
	for _, path := range []string{"/health", "/tasks"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader("{}")))
		if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != "GET, HEAD" {
			t.Fatalf("%s: expected 405 with Allow header, got %d %q", path, rec.Code, rec.Header().Get("Allow"))
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"starting"`) {
		t.Fatalf("unexpected health before start: %d %s", rec.Code, rec.Body.String())
	}
}
