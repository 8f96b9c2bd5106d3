package store

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"vclip/server/internal/model"
)

func TestSQLitePersisterRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")
	p, err := OpenSQLite(ctx, path, slog.Default())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer p.Close()

	st := NewMemoryStore(p, slog.Default())
	_, _ = st.Create("job-1", "https://example.com/a")
	st.AddClip("job-1", model.Clip{ID: "c1", Title: "One", StartTime: 0, EndTime: 3, Duration: 3})
	if err := st.Persist(ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}
	stale, _ := st.Get("job-1")
	stale.UpdatedAt = stale.UpdatedAt.Add(-time.Second)
	advanceTo(t, st, "job-1", model.StepGeneratingClips)
	st.MarkCompleted("job-1")
	if err := st.Persist(ctx); err != nil {
		t.Fatalf("persist again: %v", err)
	}
	if err := p.Save(ctx, []model.Job{stale}); err != nil {
		t.Fatalf("save stale snapshot: %v", err)
	}

	jobs, err := p.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("rows = %d, want 1 (upsert)", len(jobs))
	}
	if jobs[0].Status != model.JobCompleted || len(jobs[0].Clips) != 1 {
		t.Fatalf("unexpected snapshot: %+v", jobs[0])
	}

	fresh := NewMemoryStore(p, slog.Default())
	if err := fresh.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !fresh.Exists("job-1") {
		t.Fatalf("job-1 not restored")
	}
}

func TestSQLitePersisterSaveRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO job_snapshots").
		WithArgs("job-1", "failed", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	p := NewSQLitePersister(db, slog.Default())
	err = p.Save(context.Background(), []model.Job{{ID: "job-1", Status: model.JobFailed}})
	if err == nil {
		t.Fatalf("expected save error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLitePersisterLoadSkipsCorruptRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"job_id", "snapshot"}).
		AddRow("job-1", `{"job_id":"job-1","status":"completed","current_step":"completed","progress":100,"clips":[]}`).
		AddRow("job-2", `{not json`)
	mock.ExpectQuery("SELECT job_id, snapshot FROM job_snapshots").WillReturnRows(rows)

	p := NewSQLitePersister(db, slog.Default())
	jobs, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "job-1" {
		t.Fatalf("jobs = %+v", jobs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
