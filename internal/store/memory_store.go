package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"vclip/server/internal/model"
)

var (
	ErrNotFound      = errors.New("job not found")
	ErrAlreadyExists = errors.New("job already exists")
)

// Persister writes job snapshots to durable storage keyed by job id.
type Persister interface {
	Save(ctx context.Context, jobs []model.Job) error
	Load(ctx context.Context) ([]model.Job, error)
}

// MemoryStore owns every job record for the process lifetime. All mutations go
// through one lock; reads hand out deep copies.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]model.Job

	// persistMu orders snapshot+save pairs so an older snapshot never lands last.
	persistMu sync.Mutex

	persister Persister
	log       *slog.Logger
	now       func() time.Time
}

func NewMemoryStore(persister Persister, logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		jobs:      map[string]model.Job{},
		persister: persister,
		log:       logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(jobID, sourceURL string) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; ok {
		return model.Job{}, ErrAlreadyExists
	}
	now := s.now()
	job := model.Job{
		ID:          jobID,
		SourceURL:   sourceURL,
		Status:      model.JobInitializing,
		CurrentStep: model.StepStarting,
		Progress:    0,
		Message:     "Job initialized",
		Clips:       []model.Clip{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[jobID] = job
	s.log.Info("job_created", "job_id", jobID)
	return job.Clone(), nil
}

// Update merges the non-nil fields of patch into the job and reports whether it
// was applied. Unknown ids and patches that would break the job state machine
// are logged and ignored.
func (s *MemoryStore) Update(jobID string, patch model.JobPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.log.Warn("update of unknown job ignored", "job_id", jobID)
		return false
	}
	if err := applyPatch(&job, patch); err != nil {
		s.log.Warn("job update rejected", "job_id", jobID, "error", err)
		return false
	}
	job.UpdatedAt = s.now()
	s.jobs[jobID] = job
	return true
}

// applyPatch merges patch into a copy of job and checks the result:
// steps advance one at a time, completed status goes with the completed step,
// and error is set exactly when the job has failed. job is only written on success.
func applyPatch(job *model.Job, patch model.JobPatch) error {
	if job.Status.Terminal() {
		return fmt.Errorf("job is %s", job.Status)
	}
	next := *job
	if patch.CurrentStep != nil {
		from, to := job.CurrentStep.Rank(), patch.CurrentStep.Rank()
		if to < 0 || (to != from && to != from+1) {
			return fmt.Errorf("invalid step transition: %s -> %s", job.CurrentStep, *patch.CurrentStep)
		}
		next.CurrentStep = *patch.CurrentStep
	}
	if patch.Status != nil {
		next.Status = *patch.Status
	}
	if patch.Message != nil {
		next.Message = *patch.Message
	}
	if patch.Error != nil {
		next.Error = *patch.Error
	}
	if patch.Progress != nil {
		p := clampProgress(*patch.Progress)
		if p >= job.Progress || next.Status != model.JobProcessing {
			next.Progress = p
		}
	}

	switch next.Status {
	case model.JobInitializing:
		if job.Status != model.JobInitializing {
			return fmt.Errorf("invalid status transition: %s -> %s", job.Status, next.Status)
		}
		if next.CurrentStep != model.StepStarting {
			return fmt.Errorf("initializing job cannot be at step %s", next.CurrentStep)
		}
	case model.JobProcessing:
		if next.CurrentStep == model.StepCompleted {
			return errors.New("completed step requires completed status")
		}
	case model.JobCompleted:
		if next.CurrentStep != model.StepCompleted {
			return fmt.Errorf("job cannot complete at step %s", next.CurrentStep)
		}
	case model.JobFailed:
		if next.Error == "" {
			return errors.New("failed job requires an error")
		}
		if next.CurrentStep == model.StepCompleted {
			return errors.New("failed job cannot be at the completed step")
		}
	default:
		return fmt.Errorf("unknown status %q", next.Status)
	}
	if next.Status != model.JobFailed && next.Error != "" {
		return fmt.Errorf("error set on %s job", next.Status)
	}
	*job = next
	return nil
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

func (s *MemoryStore) AddClip(jobID string, clip model.Clip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.log.Warn("add clip to unknown job ignored", "job_id", jobID)
		return
	}
	if job.Status.Terminal() {
		s.log.Warn("add clip to finished job ignored", "job_id", jobID, "status", job.Status)
		return
	}
	job.Clips = append(job.Clips, clip)
	job.UpdatedAt = s.now()
	s.jobs[jobID] = job
	s.log.Info("clip_added", "job_id", jobID, "clip_id", clip.ID, "title", clip.Title)
}

func (s *MemoryStore) Get(jobID string) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return model.Job{}, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) Exists(jobID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.jobs[jobID]
	return ok
}

// List returns every job, newest first.
func (s *MemoryStore) List() []model.Job {
	s.mu.RLock()
	out := make([]model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// CountByStatus reports how many jobs are in each status.
func (s *MemoryStore) CountByStatus() map[model.JobStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[model.JobStatus]int{}
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts
}

// MarkCompleted moves a job at generating_clips to completed.
func (s *MemoryStore) MarkCompleted(jobID string) bool {
	ok := s.Update(jobID, model.JobPatch{
		Status:      model.Ptr(model.JobCompleted),
		CurrentStep: model.Ptr(model.StepCompleted),
		Progress:    model.Ptr(100.0),
		Message:     model.Ptr("Processing completed successfully"),
	})
	if ok {
		s.log.Info("job_completed", "job_id", jobID)
	}
	return ok
}

// MarkFailed leaves current_step and progress where the failure happened.
func (s *MemoryStore) MarkFailed(jobID, reason string) bool {
	if reason == "" {
		reason = "unknown error"
	}
	ok := s.Update(jobID, model.JobPatch{
		Status:  model.Ptr(model.JobFailed),
		Message: model.Ptr("Processing failed: " + reason),
		Error:   model.Ptr(reason),
	})
	if ok {
		s.log.Error("job_failed", "job_id", jobID, "error", reason)
	}
	return ok
}

// Persist snapshots every job. Concurrent calls are serialized so the newest
// snapshot is always the last one saved; the job map itself is not held during I/O.
func (s *MemoryStore) Persist(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	jobs := s.List()
	if err := s.persister.Save(ctx, jobs); err != nil {
		return fmt.Errorf("persist jobs: %w", err)
	}
	s.log.Debug("jobs_persisted", "count", len(jobs))
	return nil
}

// Restore loads persisted snapshots. Jobs already in memory win over disk.
func (s *MemoryStore) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	jobs, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore jobs: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	restored := 0
	for _, j := range jobs {
		if j.ID == "" {
			continue
		}
		if _, ok := s.jobs[j.ID]; ok {
			continue
		}
		if j.Clips == nil {
			j.Clips = []model.Clip{}
		}
		if !j.Status.Terminal() {
			s.log.Warn("restored job was interrupted", "job_id", j.ID, "status", j.Status, "step", j.CurrentStep)
		}
		s.jobs[j.ID] = j
		restored++
	}
	s.log.Info("jobs_restored", "count", restored)
	return nil
}
