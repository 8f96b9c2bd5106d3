package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"vclip/server/internal/model"
)

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS job_snapshots (
	job_id     TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	snapshot   TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

const upsertSnapshot = `
INSERT INTO job_snapshots (job_id, status, snapshot, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(job_id) DO UPDATE SET
	status = excluded.status,
	snapshot = excluded.snapshot,
	updated_at = excluded.updated_at
WHERE excluded.updated_at >= job_snapshots.updated_at`

// snapshotTimeLayout is fixed width so updated_at compares correctly as text.
const snapshotTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLitePersister keeps one row per job holding the full JSON snapshot.
type SQLitePersister struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLite opens (or creates) the snapshot database at path.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLitePersister, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	p := NewSQLitePersister(db, logger)
	if err := p.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func NewSQLitePersister(db *sql.DB, logger *slog.Logger) *SQLitePersister {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLitePersister{db: db, log: logger}
}

func (p *SQLitePersister) Init(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, snapshotSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (p *SQLitePersister) Save(ctx context.Context, jobs []model.Job) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, job := range jobs {
		raw, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("encode job %s: %w", job.ID, err)
		}
		if _, err := tx.ExecContext(ctx, upsertSnapshot,
			job.ID,
			string(job.Status),
			string(raw),
			job.UpdatedAt.UTC().Format(snapshotTimeLayout),
		); err != nil {
			return fmt.Errorf("upsert job %s: %w", job.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshots: %w", err)
	}
	return nil
}

func (p *SQLitePersister) Load(ctx context.Context) ([]model.Job, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT job_id, snapshot FROM job_snapshots ORDER BY job_id`)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var job model.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			p.log.Error("skip unreadable job snapshot", "job_id", id, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return jobs, nil
}

func (p *SQLitePersister) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
