package runstore

import (
	"errors"
	"testing"
	"time"
)

func newTestRun(id string) Run {
	now := time.Now().UTC()
	return Run{
		ID:        id,
		ModelPath: "/models/llama-3-8b",
		SafeName:  "llama-3-8b",
		WorkerID:  "worker-1",
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemStoreLifecycle(t *testing.T) {
	s := NewMemStore()
	s.Create(newTestRun("r1"))

	run, err := s.Get("r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if run.Status != StatusRunning {
		t.Fatalf("fresh run status = %s, want running", run.Status)
	}
	if !run.FinishedAt.IsZero() {
		t.Fatalf("fresh run must not have a finish time")
	}

	updated, err := s.SetOutcome("r1", StatusSuccess, "/models/llama-3-8b_r1", "/archive/run_r1", "")
	if err != nil {
		t.Fatalf("set outcome: %v", err)
	}
	if updated.Status != StatusSuccess || updated.AdapterPath != "/models/llama-3-8b_r1" {
		t.Fatalf("unexpected outcome: %+v", updated)
	}
	if updated.FinishedAt.IsZero() {
		t.Fatalf("terminal run must have a finish time")
	}
}

func TestMemStoreUnknownRun(t *testing.T) {
	s := NewMemStore()

	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get unknown run: %v", err)
	}
	if _, err := s.SetOutcome("nope", StatusFail, "", "", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("set outcome on unknown run: %v", err)
	}
	if _, err := s.Logs("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("logs of unknown run: %v", err)
	}
	// Appending to an unknown run is silently dropped; log lines can
	// outlive a record that was never created.
	s.AppendLog("nope", "orphan line")
}

func TestMemStoreLogsAndSubscribe(t *testing.T) {
	s := NewMemStore()
	s.Create(newTestRun("r2"))

	s.AppendLog("r2", "line 1")
	s.AppendLog("r2", "line 2")

	ch, err := s.Subscribe("r2")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Buffered history is replayed before live lines.
	if got := <-ch; got != "line 1" {
		t.Fatalf("replay[0] = %q", got)
	}
	if got := <-ch; got != "line 2" {
		t.Fatalf("replay[1] = %q", got)
	}

	s.AppendLog("r2", "line 3")
	if got := <-ch; got != "line 3" {
		t.Fatalf("live line = %q", got)
	}

	s.CloseSubscribers("r2")
	if _, open := <-ch; open {
		t.Fatalf("channel must be closed after CloseSubscribers")
	}

	lines, err := s.Logs("r2")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(lines) != 3 || lines[2] != "line 3" {
		t.Fatalf("unexpected log history: %v", lines)
	}
}

func TestMemStoreList(t *testing.T) {
	s := NewMemStore()
	s.Create(newTestRun("a"))
	s.Create(newTestRun("b"))

	runs := s.List()
	if len(runs) != 2 {
		t.Fatalf("list returned %d runs, want 2", len(runs))
	}
	seen := map[string]bool{}
	for _, run := range runs {
		seen[run.ID] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("list missing runs: %v", runs)
	}
}
