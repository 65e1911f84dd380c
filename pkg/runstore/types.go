package runstore

import "time"

// Status mirrors the terminal and in-flight states of a fine-tune run.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
	StatusTimeout Status = "timeout"
)

// Run is the tracked record of one fine-tune request processed by a worker.
type Run struct {
	ID          string    `json:"id"`
	ModelPath   string    `json:"model_path"`
	SafeName    string    `json:"safe_name,omitempty"`
	WorkerID    string    `json:"worker_id,omitempty"`
	Status      Status    `json:"status"`
	AdapterPath string    `json:"adapter_path,omitempty"`
	ArchivePath string    `json:"archive_path,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}
