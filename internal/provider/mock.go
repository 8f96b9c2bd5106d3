package provider

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vclip/server/internal/captions"
	"vclip/server/internal/model"
)

// MockAdapter stands in for every external tool during local development. It
// writes placeholder files and sleeps for a short, cancelable interval per stage.
type MockAdapter struct {
	workDir string
	delay   time.Duration
}

func NewMockAdapter(workDir string, delay time.Duration) *MockAdapter {
	return &MockAdapter{
		workDir: workDir,
		delay:   delay,
	}
}

// Set returns the adapter bound to every collaborator slot.
func (m *MockAdapter) Set() Set {
	return Set{Fetcher: m, Transcriber: m, Selector: m, Renderer: m}
}

// Fetch fails for URLs containing "simulate-error" so the failure path can be
// exercised end to end.
func (m *MockAdapter) Fetch(ctx context.Context, sourceURL, jobID string) (string, error) {
	if err := waitCancelable(ctx, m.jitter()); err != nil {
		return "", err
	}
	if strings.Contains(sourceURL, "simulate-error") {
		return "", errors.New("mock upstream refused the download")
	}
	path := filepath.Join(m.workDir, "downloads", jobID, "source.mp4")
	if err := writePlaceholder(path, "mock video for "+sourceURL); err != nil {
		return "", err
	}
	return path, nil
}

func (m *MockAdapter) Transcribe(ctx context.Context, filePath, jobID string) (Transcript, error) {
	if err := waitCancelable(ctx, m.jitter()); err != nil {
		return Transcript{}, err
	}
	track := captions.Track{
		{Index: 1, Start: 0, End: 4, Text: "Welcome back to the channel."},
		{Index: 2, Start: 4, End: 12, Text: "Today we test the whole clipping pipeline."},
		{Index: 3, Start: 12, End: 30, Text: "This part is the surprising one."},
		{Index: 4, Start: 30, End: 55, Text: "And that wraps it up."},
	}
	return Transcript{Text: timestampedText(track), Captions: track}, nil
}

func (m *MockAdapter) SelectHighlights(ctx context.Context, transcript string) ([]model.HighlightSpec, error) {
	if err := waitCancelable(ctx, m.jitter()); err != nil {
		return nil, err
	}
	return []model.HighlightSpec{
		{StartTime: "00:00", EndTime: "00:20", Title: "The Opening", Description: "Sets up the video."},
		{StartTime: "00:12", EndTime: "00:45", Title: "The Surprise", Description: "The unexpected turn."},
	}, nil
}

func (m *MockAdapter) Render(ctx context.Context, req RenderRequest) error {
	if err := waitCancelable(ctx, m.jitter()); err != nil {
		return err
	}
	return writePlaceholder(req.OutPath, fmt.Sprintf("mock clip %.3f+%.3f", req.Start, req.Duration))
}

func (m *MockAdapter) jitter() time.Duration {
	if m.delay <= 0 {
		return 0
	}
	return m.delay + time.Duration(rand.Int63n(int64(m.delay)))
}

func writePlaceholder(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func waitCancelable(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
