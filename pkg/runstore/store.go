package runstore

import (
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a run ID is unknown to the store.
var ErrNotFound = errors.New("run not found")

type subscriber chan string

type runRecord struct {
	run         Run
	logs        []string
	subscribers []subscriber
}

// MemStore keeps run records in memory and supports live log
// subscriptions for streaming consumers.
type MemStore struct {
	mu    sync.RWMutex
	items map[string]*runRecord
}

func NewMemStore() *MemStore {
	return &MemStore{items: make(map[string]*runRecord)}
}

func (s *MemStore) Create(run Run) Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &runRecord{run: run}
	s.items[run.ID] = rec
	return rec.run
}

// SetOutcome records a run's terminal state together with its artifact
// locations.
func (s *MemStore) SetOutcome(id string, status Status, adapterPath, archivePath, errMsg string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	now := time.Now().UTC()
	rec.run.Status = status
	rec.run.UpdatedAt = now
	if status != StatusRunning {
		rec.run.FinishedAt = now
	}
	rec.run.AdapterPath = adapterPath
	rec.run.ArchivePath = archivePath
	rec.run.Error = errMsg
	return rec.run, nil
}

func (s *MemStore) AppendLog(id string, line string) {
	s.mu.Lock()
	rec, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	rec.logs = append(rec.logs, line)
	subs := make([]subscriber, len(rec.subscribers))
	copy(subs, rec.subscribers)
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- line:
		default:
		}
	}
}

func (s *MemStore) Get(id string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.items[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return rec.run, nil
}

func (s *MemStore) List() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Run, 0, len(s.items))
	for _, rec := range s.items {
		result = append(result, rec.run)
	}
	return result
}

func (s *MemStore) Logs(id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	lines := make([]string, len(rec.logs))
	copy(lines, rec.logs)
	return lines, nil
}

// Subscribe returns a channel that receives the run's existing log lines
// followed by every new line until CloseSubscribers is called.
func (s *MemStore) Subscribe(id string) (<-chan string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}

	ch := make(subscriber, 256)
	for _, line := range rec.logs {
		select {
		case ch <- line:
		default:
		}
	}
	rec.subscribers = append(rec.subscribers, ch)
	return ch, nil
}

func (s *MemStore) CloseSubscribers(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[id]
	if !ok {
		return
	}
	for _, sub := range rec.subscribers {
		close(sub)
	}
	rec.subscribers = nil
}
