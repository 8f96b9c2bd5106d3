package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	verticalCrop  = "crop=w='min(iw,ih*9/16)':h='min(ih,iw*16/9)'"
	verticalScale = "scale=1080:1920"
	captionStyle  = "FontSize=24,PrimaryColour=&H00FFFFFF,OutlineColour=&H00000000,BackColour=&H80000000,BorderStyle=4"
)

// FFmpegRenderer cuts highlights in two passes: a stream copy of the window,
// then a re-encode that crops to 9:16 and burns in captions.
type FFmpegRenderer struct {
	binary  string
	timeout time.Duration
	runner  Runner
}

func NewFFmpegRenderer(binary string, timeout time.Duration) *FFmpegRenderer {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegRenderer{binary: binary, timeout: timeout, runner: ExecRunner{}}
}

func (r *FFmpegRenderer) WithRunner(runner Runner) *FFmpegRenderer {
	r.runner = runner
	return r
}

func (r *FFmpegRenderer) Render(ctx context.Context, req RenderRequest) error {
	if req.Duration <= 0 {
		return fmt.Errorf("invalid clip duration %.3f", req.Duration)
	}
	if req.OutPath == "" {
		return errors.New("output path is required")
	}
	if err := os.MkdirAll(filepath.Dir(req.OutPath), 0o755); err != nil {
		return fmt.Errorf("ensure clip dir: %w", err)
	}

	cut := cutPath(req.OutPath)
	defer os.Remove(cut)

	if _, err := runWithTimeout(ctx, r.runner, r.timeout, r.binary, buildCutArgs(req, cut)...); err != nil {
		return fmt.Errorf("cut: %w", err)
	}
	if _, err := runWithTimeout(ctx, r.runner, r.timeout, r.binary, buildVerticalArgs(cut, req.CaptionPath, req.OutPath)...); err != nil {
		return fmt.Errorf("reframe: %w", err)
	}
	return nil
}

// Thumbnail grabs the first second of a rendered clip as a jpeg.
func (r *FFmpegRenderer) Thumbnail(ctx context.Context, clipPath, outPath string) error {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", "1",
		"-i", clipPath,
		"-frames:v", "1",
		"-q:v", "3",
		outPath,
	}
	_, err := runWithTimeout(ctx, r.runner, r.timeout, r.binary, args...)
	return err
}

func cutPath(outPath string) string {
	dir := filepath.Dir(outPath)
	base := strings.TrimSuffix(filepath.Base(outPath), filepath.Ext(outPath))
	return filepath.Join(dir, "temp_"+base+".mp4")
}

func buildCutArgs(req RenderRequest, cut string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", formatSeconds(req.Start),
		"-t", formatSeconds(req.Duration),
		"-i", req.SourcePath,
		"-c", "copy",
		cut,
	}
}

func buildVerticalArgs(input, captionPath, outPath string) []string {
	filters := []string{verticalCrop, verticalScale}
	if hasCaptions(captionPath) {
		filters = append(filters, fmt.Sprintf("subtitles='%s':force_style='%s'", escapeFilterPath(captionPath), captionStyle))
	}
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-vf", strings.Join(filters, ","),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-c:a", "aac",
		"-movflags", "+faststart",
		outPath,
	}
}

// hasCaptions reports whether the caption file exists and is non-empty. The
// subtitles filter rejects empty files.
func hasCaptions(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func escapeFilterPath(path string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`)
	return r.Replace(path)
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
