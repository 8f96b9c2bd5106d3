package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vclip/server/internal/captions"
	"vclip/server/internal/timecode"
)

// WhisperTranscriber shells out to the whisper CLI and reads back its SRT and
// TXT outputs.
type WhisperTranscriber struct {
	binary    string
	model     string
	outputDir string
	timeout   time.Duration
	runner    Runner
}

func NewWhisperTranscriber(binary, model, outputDir string, timeout time.Duration) *WhisperTranscriber {
	if binary == "" {
		binary = "whisper"
	}
	if model == "" {
		model = "medium"
	}
	return &WhisperTranscriber{
		binary:    binary,
		model:     model,
		outputDir: outputDir,
		timeout:   timeout,
		runner:    ExecRunner{},
	}
}

func (w *WhisperTranscriber) WithRunner(r Runner) *WhisperTranscriber {
	w.runner = r
	return w
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, filePath, jobID string) (Transcript, error) {
	if _, err := os.Stat(filePath); err != nil {
		return Transcript{}, fmt.Errorf("cannot access media: %w", err)
	}
	dir := filepath.Join(w.outputDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Transcript{}, fmt.Errorf("ensure transcript dir: %w", err)
	}
	args := []string{
		filePath,
		"--model", w.model,
		"--output_dir", dir,
		"--output_format", "all",
		"--verbose", "False",
	}
	if _, err := runWithTimeout(ctx, w.runner, w.timeout, w.binary, args...); err != nil {
		return Transcript{}, err
	}

	base := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	srtPath := findOutput(dir, base+".srt", ".srt")
	if srtPath == "" {
		return Transcript{}, errors.New("whisper produced no .srt file")
	}
	track, err := captions.ReadFile(srtPath)
	if err != nil {
		return Transcript{}, err
	}

	text := timestampedText(track)
	if text == "" {
		if txtPath := findOutput(dir, base+".txt", ".txt"); txtPath != "" {
			if data, err := os.ReadFile(txtPath); err == nil {
				text = strings.TrimSpace(string(data))
			}
		}
	}
	return Transcript{Text: text, Captions: track}, nil
}

// findOutput prefers the expected file name and falls back to any file with ext.
func findOutput(dir, want, ext string) string {
	if _, err := os.Stat(filepath.Join(dir, want)); err == nil {
		return filepath.Join(dir, want)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
			return filepath.Join(dir, e.Name())
		}
	}
	return ""
}

// timestampedText renders cues as "[start --> end] text" lines so the selector
// can see where each sentence sits.
func timestampedText(track captions.Track) string {
	var b strings.Builder
	for _, cue := range track {
		fmt.Fprintf(&b, "[%s --> %s] %s\n",
			timecode.FormatClock(cue.Start),
			timecode.FormatClock(cue.End),
			strings.ReplaceAll(cue.Text, "\n", " "),
		)
	}
	return strings.TrimSpace(b.String())
}
