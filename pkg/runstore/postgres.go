package runstore

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists runs and their log lines to Postgres so run
// history survives worker restarts.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(conn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", conn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS fine_tune_runs (
    id TEXT PRIMARY KEY,
    model_path TEXT NOT NULL,
    safe_name TEXT,
    worker_id TEXT,
    status TEXT NOT NULL,
    adapter_path TEXT,
    archive_path TEXT,
    error TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS fine_tune_run_logs (
    id BIGSERIAL PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES fine_tune_runs(id) ON DELETE CASCADE,
    line TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PostgresStore) Create(run Run) error {
	query := `INSERT INTO fine_tune_runs (id, model_path, safe_name, worker_id, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
    model_path = EXCLUDED.model_path,
    safe_name = EXCLUDED.safe_name,
    worker_id = EXCLUDED.worker_id,
    status = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at`
	_, err := s.db.Exec(query,
		run.ID,
		run.ModelPath,
		run.SafeName,
		run.WorkerID,
		run.Status,
		run.CreatedAt,
		run.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) SetOutcome(id string, status Status, adapterPath, archivePath, errMsg string) error {
	now := time.Now().UTC()
	var finishedAt *time.Time
	if status != StatusRunning {
		finishedAt = &now
	}
	query := `UPDATE fine_tune_runs SET status=$1, adapter_path=$2, archive_path=$3, error=$4, updated_at=$5, finished_at=$6 WHERE id=$7`
	_, err := s.db.Exec(query, status, adapterPath, archivePath, errMsg, now, finishedAt, id)
	return err
}

func (s *PostgresStore) AppendLog(id string, line string) error {
	_, err := s.db.Exec(`INSERT INTO fine_tune_run_logs (run_id, line) VALUES ($1,$2)`, id, line)
	return err
}

func (s *PostgresStore) Get(id string) (Run, error) {
	query := `SELECT id, model_path, safe_name, worker_id, status, adapter_path, archive_path, error, created_at, updated_at, finished_at
FROM fine_tune_runs WHERE id=$1`
	row := s.db.QueryRow(query, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	return run, err
}

func (s *PostgresStore) List() ([]Run, error) {
	query := `SELECT id, model_path, safe_name, worker_id, status, adapter_path, archive_path, error, created_at, updated_at, finished_at
FROM fine_tune_runs ORDER BY created_at DESC`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) Logs(id string, limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT line FROM fine_tune_run_logs WHERE run_id=$1 ORDER BY id ASC LIMIT $2`, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var safeName, workerID, adapterPath, archivePath, errMsg sql.NullString
	var finishedAt sql.NullTime
	err := row.Scan(&run.ID, &run.ModelPath, &safeName, &workerID, &run.Status,
		&adapterPath, &archivePath, &errMsg, &run.CreatedAt, &run.UpdatedAt, &finishedAt)
	if err != nil {
		return Run{}, err
	}
	run.SafeName = safeName.String
	run.WorkerID = workerID.String
	run.AdapterPath = adapterPath.String
	run.ArchivePath = archivePath.String
	run.Error = errMsg.String
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	return run, nil
}
