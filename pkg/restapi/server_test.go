package restapi

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vyvo/finetune/pkg/runstore"
)

func seededStore(t *testing.T) *runstore.MemStore {
	t.Helper()
	s := runstore.NewMemStore()
	s.Create(runstore.Run{
		ID:        "r1",
		ModelPath: "/models/llama-3-8b",
		SafeName:  "llama-3-8b",
		Status:    runstore.StatusRunning,
		CreatedAt: time.Now().UTC(),
	})
	s.AppendLog("r1", "epoch 1/3")
	s.AppendLog("r1", "epoch 2/3")
	return s
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestListAndGetRuns(t *testing.T) {
	store := seededStore(t)
	router := NewRouter(MemSource{Store: store}, nil, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	runs, ok := body["runs"].([]any)
	if !ok || len(runs) != 1 {
		t.Fatalf("unexpected list body: %v", body)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/r1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	body = decodeBody(t, rec)
	run, ok := body["run"].(map[string]any)
	if !ok || run["id"] != "r1" || run["status"] != "running" {
		t.Fatalf("unexpected run body: %v", body)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown run status = %d", rec.Code)
	}
}

func TestLogsJSONWithoutStreamer(t *testing.T) {
	store := seededStore(t)
	router := NewRouter(MemSource{Store: store}, nil, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/r1/logs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("logs status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	logs, ok := body["logs"].([]any)
	if !ok || len(logs) != 2 || logs[0] != "epoch 1/3" {
		t.Fatalf("unexpected logs body: %v", body)
	}
}

func TestLogsSSEWithStreamer(t *testing.T) {
	store := seededStore(t)
	source := MemSource{Store: store}
	srv := httptest.NewServer(NewRouter(source, source, ""))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/runs/r1/logs")
	if err != nil {
		t.Fatalf("request logs stream: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}

	// Close the subscription once the buffered history is flushed so the
	// stream terminates.
	go func() {
		time.Sleep(100 * time.Millisecond)
		store.CloseSubscribers("r1")
	}()

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "data: ") {
			lines = append(lines, strings.TrimPrefix(scanner.Text(), "data: "))
		}
	}
	if len(lines) < 2 || lines[0] != "epoch 1/3" || lines[1] != "epoch 2/3" {
		t.Fatalf("unexpected stream lines: %v", lines)
	}
	if lines[len(lines)-1] != "[stream closed]" {
		t.Fatalf("stream must announce closure: %v", lines)
	}
}

func TestRequireKey(t *testing.T) {
	store := seededStore(t)
	router := NewRouter(MemSource{Store: store}, nil, "s3cret")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Key wrong")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Key s3cret")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d", rec.Code)
	}

	// Health stays open regardless of the token.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}
