package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const ytdlpFormat = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"

// YTDLPFetcher downloads a single video per job with yt-dlp.
type YTDLPFetcher struct {
	binary      string
	downloadDir string
	timeout     time.Duration
	runner      Runner
}

func NewYTDLPFetcher(binary, downloadDir string, timeout time.Duration) *YTDLPFetcher {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &YTDLPFetcher{
		binary:      binary,
		downloadDir: downloadDir,
		timeout:     timeout,
		runner:      ExecRunner{},
	}
}

// WithRunner swaps the command runner (tests).
func (f *YTDLPFetcher) WithRunner(r Runner) *YTDLPFetcher {
	f.runner = r
	return f
}

func (f *YTDLPFetcher) Fetch(ctx context.Context, sourceURL, jobID string) (string, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return "", errors.New("source url is required")
	}
	dir := filepath.Join(f.downloadDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure download dir: %w", err)
	}
	args := buildYTDLPArgs(sourceURL, dir)
	if _, err := runWithTimeout(ctx, f.runner, f.timeout, f.binary, args...); err != nil {
		return "", err
	}
	return findDownloadedVideo(dir)
}

func buildYTDLPArgs(sourceURL, dir string) []string {
	return []string{
		"--no-playlist",
		"--no-progress",
		"-f", ytdlpFormat,
		"--merge-output-format", "mp4",
		"-o", filepath.Join(dir, "%(title)s.%(ext)s"),
		sourceURL,
	}
}

// findDownloadedVideo returns the single finished video in dir. Leftover .part
// files mean the download was cut short.
func findDownloadedVideo(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read download dir: %w", err)
	}
	var videos []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") {
			return "", fmt.Errorf("incomplete download: %s", name)
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".mp4", ".mkv", ".webm", ".mov":
			videos = append(videos, name)
		}
	}
	if len(videos) == 0 {
		return "", errors.New("yt-dlp produced no video file")
	}
	sort.Strings(videos)
	path := filepath.Join(dir, videos[0])
	for _, v := range videos {
		if strings.EqualFold(filepath.Ext(v), ".mp4") {
			path = filepath.Join(dir, v)
			break
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat downloaded video: %w", err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("downloaded video is empty: %s", path)
	}
	return path, nil
}
