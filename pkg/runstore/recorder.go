package runstore

import (
	"log"
	"time"

	"github.com/vyvo/finetune/pkg/finetune"
)

// Recorder adapts the run stores to the orchestrator's recording hooks.
// The in-memory store always receives events; Postgres persistence is
// optional and its failures never affect a run.
type Recorder struct {
	Mem *MemStore
	PG  *PostgresStore
}

func (r *Recorder) RunStarted(id, modelPath, safeName, workerID string) {
	now := time.Now().UTC()
	run := Run{
		ID:        id,
		ModelPath: modelPath,
		SafeName:  safeName,
		WorkerID:  workerID,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.Mem.Create(run)
	if r.PG != nil {
		if err := r.PG.Create(run); err != nil {
			log.Printf("persist run %s failed: %v", id, err)
		}
	}
}

func (r *Recorder) RunFinished(id string, status finetune.Status, adapterPath, archivePath, errMsg string) {
	mapped := Status(status)
	if _, err := r.Mem.SetOutcome(id, mapped, adapterPath, archivePath, errMsg); err != nil {
		log.Printf("record outcome for %s failed: %v", id, err)
	}
	if r.PG != nil {
		if err := r.PG.SetOutcome(id, mapped, adapterPath, archivePath, errMsg); err != nil {
			log.Printf("persist outcome for %s failed: %v", id, err)
		}
	}
}

func (r *Recorder) AppendLog(id, line string) {
	r.Mem.AppendLog(id, line)
	if r.PG != nil {
		if err := r.PG.AppendLog(id, line); err != nil {
			log.Printf("persist log for %s failed: %v", id, err)
		}
	}
}

func (r *Recorder) RunClosed(id string) {
	r.Mem.CloseSubscribers(id)
}
