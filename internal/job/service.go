// Package job runs the clipping pipeline for submitted videos. Each job runs
// in its own goroutine and reports only through the status store.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vclip/server/internal/captions"
	"vclip/server/internal/events"
	"vclip/server/internal/model"
	"vclip/server/internal/provider"
	"vclip/server/internal/telemetry"
	"vclip/server/internal/textutil"

	"github.com/google/uuid"
)

var ErrInvalidSource = errors.New("source url must be an absolute http(s) url")

// Store is the subset of the status store the pipeline writes through.
type Store interface {
	Create(jobID, sourceURL string) (model.Job, error)
	Update(jobID string, patch model.JobPatch) bool
	AddClip(jobID string, clip model.Clip)
	Get(jobID string) (model.Job, error)
	Exists(jobID string) bool
	MarkCompleted(jobID string) bool
	MarkFailed(jobID, reason string) bool
	Persist(ctx context.Context) error
}

// Progress reported on entry to each stage.
var stageFloor = map[model.Step]float64{
	model.StepDownloading:     5,
	model.StepTranscribing:    25,
	model.StepAnalyzing:       50,
	model.StepGeneratingClips: 75,
}

type Options struct {
	// ClipsDir receives one sub-directory of rendered clips per job.
	ClipsDir   string
	Thumbnails bool
}

type Service struct {
	store   Store
	hub     *events.Hub
	prov    provider.Set
	metrics *telemetry.Metrics
	log     *slog.Logger
	opts    Options

	wg sync.WaitGroup
}

func NewService(st Store, hub *events.Hub, prov provider.Set, metrics *telemetry.Metrics, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ClipsDir == "" {
		opts.ClipsDir = filepath.Join("data", "clips")
	}
	return &Service{
		store:   st,
		hub:     hub,
		prov:    prov,
		metrics: metrics,
		log:     logger,
		opts:    opts,
	}
}

// ValidateSourceURL accepts absolute http and https URLs only.
func ValidateSourceURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidSource
	}
	return nil
}

// Submit records a new job and launches its pipeline without waiting for it.
func (s *Service) Submit(sourceURL string) (model.Job, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if err := ValidateSourceURL(sourceURL); err != nil {
		return model.Job{}, err
	}
	jobID := uuid.NewString()
	created, err := s.store.Create(jobID, sourceURL)
	if err != nil {
		return model.Job{}, err
	}
	s.metrics.JobSubmitted(context.Background())
	s.publishEvent(jobID, model.EventJobCreated)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(context.Background(), jobID, sourceURL)
	}()
	return created, nil
}

// Wait blocks until every launched pipeline has returned or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives one job through every stage. Failures end up in the store, never
// in a return value.
func (s *Service) Run(ctx context.Context, jobID, sourceURL string) {
	if !s.store.Exists(jobID) {
		s.log.Warn("job_run_unknown", "job_id", jobID)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job_panic", "job_id", jobID, "panic", r)
			step := model.StepStarting
			if snap, err := s.store.Get(jobID); err == nil {
				step = snap.CurrentStep
			}
			s.fail(ctx, jobID, step, fmt.Errorf("internal error: %v", r))
		}
	}()

	s.log.Info("job_started", "job_id", jobID, "source_url", sourceURL)

	var videoPath string
	err := s.stage(ctx, jobID, model.StepDownloading, "Downloading video", func() error {
		path, err := s.prov.Fetcher.Fetch(ctx, sourceURL, jobID)
		if err != nil {
			return provider.Fail(model.StepDownloading, provider.ErrDownloadFailed, err)
		}
		videoPath = path
		return nil
	})
	if err != nil {
		return
	}

	var transcript provider.Transcript
	err = s.stage(ctx, jobID, model.StepTranscribing, "Transcribing audio", func() error {
		t, err := s.prov.Transcriber.Transcribe(ctx, videoPath, jobID)
		if err != nil {
			return provider.Fail(model.StepTranscribing, provider.ErrTranscriptionFailed, err)
		}
		transcript = t
		return nil
	})
	if err != nil {
		return
	}

	var highlights []model.Highlight
	err = s.stage(ctx, jobID, model.StepAnalyzing, "Identifying highlights", func() error {
		specs, err := s.prov.Selector.SelectHighlights(ctx, transcript.Text)
		if err != nil {
			return provider.Fail(model.StepAnalyzing, provider.ErrSelectionFailed, err)
		}
		highlights = ConvertHighlights(specs, s.log.With("job_id", jobID))
		return nil
	})
	if err != nil {
		return
	}

	err = s.stage(ctx, jobID, model.StepGeneratingClips, fmt.Sprintf("Generating %d clips", len(highlights)), func() error {
		s.generateClips(ctx, jobID, videoPath, transcript.Captions, highlights)
		return nil
	})
	if err != nil {
		return
	}

	if !s.store.MarkCompleted(jobID) {
		s.log.Warn("job_complete_rejected", "job_id", jobID)
		return
	}
	s.metrics.JobCompleted(ctx)
	s.publishEvent(jobID, model.EventJobCompleted)
	s.persist(ctx, jobID)
}

// stage moves the job to step, runs fn and marks the job failed if fn errors.
func (s *Service) stage(ctx context.Context, jobID string, step model.Step, message string, fn func() error) error {
	s.store.Update(jobID, model.JobPatch{
		Status:      model.Ptr(model.JobProcessing),
		CurrentStep: model.Ptr(step),
		Progress:    model.Ptr(stageFloor[step]),
		Message:     model.Ptr(message),
	})
	s.publishEvent(jobID, model.EventJobProgress)
	s.log.Info("job_stage", "job_id", jobID, "stage", step)

	started := time.Now()
	err := fn()
	s.metrics.ObserveStage(ctx, string(step), time.Since(started))
	if err != nil {
		s.fail(ctx, jobID, step, err)
	}
	return err
}

func (s *Service) fail(ctx context.Context, jobID string, step model.Step, err error) {
	var se *provider.StageError
	if errors.As(err, &se) {
		step = se.Stage
	}
	s.log.Error("job_stage_failed", "job_id", jobID, "stage", step, "error", err)
	if !s.store.MarkFailed(jobID, err.Error()) {
		return
	}
	s.metrics.JobFailed(ctx, string(step))
	s.publishEvent(jobID, model.EventJobFailed)
	s.persist(ctx, jobID)
}

func (s *Service) generateClips(ctx context.Context, jobID, videoPath string, track captions.Track, highlights []model.Highlight) {
	n := len(highlights)
	for i, h := range highlights {
		clip, err := s.renderClip(ctx, jobID, videoPath, track, h)
		if err != nil {
			s.metrics.ClipRenderFailed(ctx)
			s.log.Warn("clip_render_failed", "job_id", jobID, "index", i+1, "title", h.Title, "error", err)
		} else {
			s.store.AddClip(jobID, clip)
			s.metrics.ClipRendered(ctx)
			s.publishEvent(jobID, model.EventClipReady)
			s.log.Info("clip_ready", "job_id", jobID, "clip_id", clip.ID, "path", clip.FilePath)
		}
		s.store.Update(jobID, model.JobPatch{
			Progress: model.Ptr(stageFloor[model.StepGeneratingClips] + 25*float64(i+1)/float64(n)),
			Message:  model.Ptr(fmt.Sprintf("Generated clip %d of %d", i+1, n)),
		})
	}
}

func (s *Service) renderClip(ctx context.Context, jobID, videoPath string, track captions.Track, h model.Highlight) (model.Clip, error) {
	clipID := uuid.NewString()[:8]
	dir := filepath.Join(s.opts.ClipsDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.Clip{}, provider.Fail(model.StepGeneratingClips, provider.ErrRenderFailed, err)
	}
	outPath := filepath.Join(dir, fmt.Sprintf("%s_%s.mp4", clipID, textutil.Slug(h.Title)))

	captionPath := filepath.Join(dir, "temp_"+clipID+".srt")
	if err := captions.WriteSegment(track, h.StartSeconds, h.EndSeconds, captionPath); err != nil {
		s.log.Warn("caption_segment_failed", "job_id", jobID, "clip_id", clipID, "error", err)
		captionPath = ""
	} else {
		defer os.Remove(captionPath)
	}

	err := s.prov.Renderer.Render(ctx, provider.RenderRequest{
		SourcePath:  videoPath,
		Start:       h.StartSeconds,
		Duration:    h.Duration,
		CaptionPath: captionPath,
		OutPath:     outPath,
	})
	if err != nil {
		return model.Clip{}, provider.Fail(model.StepGeneratingClips, provider.ErrRenderFailed, err)
	}

	clip := model.Clip{
		ID:          clipID,
		Title:       h.Title,
		Description: h.Description,
		StartTime:   h.StartSeconds,
		EndTime:     h.EndSeconds,
		Duration:    h.Duration,
		FilePath:    outPath,
	}
	if th, ok := s.prov.Renderer.(provider.Thumbnailer); ok && s.opts.Thumbnails {
		thumb := strings.TrimSuffix(outPath, filepath.Ext(outPath)) + ".jpg"
		if err := th.Thumbnail(ctx, outPath, thumb); err != nil {
			s.log.Warn("thumbnail_failed", "job_id", jobID, "clip_id", clipID, "error", err)
		} else {
			clip.ThumbnailPath = thumb
		}
	}
	return clip, nil
}

func (s *Service) persist(ctx context.Context, jobID string) {
	if err := s.store.Persist(ctx); err != nil {
		s.log.Error("persist_failed", "job_id", jobID, "error", err)
	}
}

func (s *Service) publishEvent(jobID string, eventType model.JobEventType) {
	if s.hub == nil {
		return
	}
	snapshot, err := s.store.Get(jobID)
	if err != nil {
		s.log.Warn("publish_event_failed", "job_id", jobID, "error", err)
		return
	}
	s.hub.Publish(model.JobEvent{
		JobID: jobID,
		Type:  eventType,
		TS:    time.Now().UTC(),
		Job:   snapshot,
	})
}
