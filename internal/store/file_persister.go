package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"vclip/server/internal/model"
)

// FilePersister writes one <job_id>.json file per job into a status directory.
type FilePersister struct {
	dir string
	log *slog.Logger
}

func NewFilePersister(dir string, logger *slog.Logger) *FilePersister {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilePersister{dir: dir, log: logger}
}

func (p *FilePersister) Save(ctx context.Context, jobs []model.Job) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("ensure status dir: %w", err)
	}
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if job.ID == "" || filepath.Base(job.ID) != job.ID {
			return fmt.Errorf("invalid job id %q", job.ID)
		}
		data, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return fmt.Errorf("encode job %s: %w", job.ID, err)
		}
		if err := writeFileAtomic(filepath.Join(p.dir, job.ID+".json"), data); err != nil {
			return fmt.Errorf("write job %s: %w", job.ID, err)
		}
	}
	return nil
}

func (p *FilePersister) Load(ctx context.Context) ([]model.Job, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			p.log.Warn("status directory does not exist", "dir", p.dir)
			return nil, nil
		}
		return nil, fmt.Errorf("read status dir: %w", err)
	}
	var jobs []model.Job
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(p.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			p.log.Error("failed to read job status", "path", path, "error", err)
			continue
		}
		var job model.Job
		if err := json.Unmarshal(data, &job); err != nil {
			p.log.Error("failed to decode job status", "path", path, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
