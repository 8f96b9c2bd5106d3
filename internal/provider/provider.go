// Package provider defines the external collaborators the pipeline delegates to
// and ships adapters for yt-dlp, whisper, an OpenAI-compatible LLM and ffmpeg.
package provider

import (
	"context"
	"errors"
	"fmt"

	"vclip/server/internal/captions"
	"vclip/server/internal/model"
)

var (
	ErrDownloadFailed      = errors.New("download failed")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrSelectionFailed     = errors.New("highlight selection failed")
	ErrRenderFailed        = errors.New("render failed")
)

// StageError ties a collaborator failure to the pipeline stage it happened in.
// It unwraps to both the taxonomy sentinel and the underlying cause.
type StageError struct {
	Stage model.Step
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return []error{e.Kind, e.Err}
}

// Fail wraps err as a StageError unless it already is one.
func Fail(stage model.Step, kind, err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// Fetcher downloads the source video and returns a local playable file.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL, jobID string) (string, error)
}

// Transcript is the transcriber output: text for the selector, cues for captions.
type Transcript struct {
	Text     string
	Captions captions.Track
}

type Transcriber interface {
	Transcribe(ctx context.Context, filePath, jobID string) (Transcript, error)
}

// HighlightSelector returns candidate time ranges with times still as text.
type HighlightSelector interface {
	SelectHighlights(ctx context.Context, transcript string) ([]model.HighlightSpec, error)
}

type RenderRequest struct {
	SourcePath  string
	Start       float64
	Duration    float64
	CaptionPath string
	OutPath     string
}

// Renderer cuts one highlight, crops it to 9:16 and burns in the captions.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) error
}

// Thumbnailer is optionally implemented by renderers that can grab a poster frame.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, clipPath, outPath string) error
}

// Set bundles the collaborators one pipeline run needs.
type Set struct {
	Fetcher     Fetcher
	Transcriber Transcriber
	Selector    HighlightSelector
	Renderer    Renderer
}
