package restapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vyvo/finetune/pkg/runstore"
)

// RunSource reads run records for the status API.
type RunSource interface {
	List() ([]runstore.Run, error)
	Get(id string) (runstore.Run, error)
	Logs(id string) ([]string, error)
}

// LogStreamer provides live log subscriptions. Only in-process stores can
// offer this; history-backed sources may leave it nil.
type LogStreamer interface {
	Subscribe(id string) (<-chan string, error)
}

// NewRouter builds the run status API. An empty token disables auth.
func NewRouter(source RunSource, streamer LogStreamer, token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		if token != "" {
			r.Use(requireKey(token))
		}
		r.Get("/runs", handleListRuns(source))
		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/", handleGetRun(source))
			r.Get("/logs", handleLogs(source, streamer))
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})

	return r
}

func requireKey(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			provided := strings.TrimPrefix(header, "Key ")
			if header == "" || provided == header || provided != token {
				respondError(w, http.StatusUnauthorized, "missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleListRuns(source RunSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := source.List()
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, map[string]any{"runs": runs}, http.StatusOK)
	}
}

func handleGetRun(source RunSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := source.Get(chi.URLParam(r, "runID"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, runstore.ErrNotFound) {
				status = http.StatusNotFound
			}
			respondError(w, status, err.Error())
			return
		}
		respondJSON(w, map[string]any{"run": run}, http.StatusOK)
	}
}

// handleLogs streams live log lines over SSE when a streamer is available,
// otherwise returns the stored lines as JSON.
func handleLogs(source RunSource, streamer LogStreamer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "runID")

		if streamer == nil {
			lines, err := source.Logs(id)
			if err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, runstore.ErrNotFound) {
					status = http.StatusNotFound
				}
				respondError(w, status, err.Error())
				return
			}
			respondJSON(w, map[string]any{"logs": lines}, http.StatusOK)
			return
		}

		ch, err := streamer.Subscribe(id)
		if err != nil {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")

		flusher, ok := w.(http.Flusher)
		if !ok {
			respondError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		done := r.Context().Done()
		for {
			select {
			case <-done:
				return
			case line, ok := <-ch:
				if !ok {
					fmt.Fprintf(w, "data: %s\n\n", "[stream closed]")
					flusher.Flush()
					return
				}
				fmt.Fprintf(w, "data: %s\n\n", line)
				flusher.Flush()
			}
		}
	}
}

func respondJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, map[string]string{"error": message}, status)
}

// MemSource adapts the in-memory store to the read interface.
type MemSource struct {
	Store *runstore.MemStore
}

func (s MemSource) List() ([]runstore.Run, error)       { return s.Store.List(), nil }
func (s MemSource) Get(id string) (runstore.Run, error) { return s.Store.Get(id) }
func (s MemSource) Logs(id string) ([]string, error)    { return s.Store.Logs(id) }
func (s MemSource) Subscribe(id string) (<-chan string, error) {
	return s.Store.Subscribe(id)
}

// PGSource adapts the Postgres store to the read interface.
type PGSource struct {
	Store *runstore.PostgresStore
}

func (s PGSource) List() ([]runstore.Run, error)       { return s.Store.List() }
func (s PGSource) Get(id string) (runstore.Run, error) { return s.Store.Get(id) }
func (s PGSource) Logs(id string) ([]string, error)    { return s.Store.Logs(id, 10000) }
