// Package captions models SRT caption tracks and cuts time windows out of them.
package captions

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"vclip/server/internal/timecode"
)

// Cue is one timed subtitle entry. Start and End are in seconds.
type Cue struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Track is an ordered sequence of cues sorted by start time.
type Track []Cue

var (
	blockSeparator = regexp.MustCompile(`\n\s*\n`)
	timeRangeLine  = regexp.MustCompile(`^\s*(\d+:\d+:\d+[,.]\d+)\s*-->\s*(\d+:\d+:\d+[,.]\d+)`)
)

// ParseSRT reads SRT text. Malformed blocks are skipped rather than failing the track.
func ParseSRT(content string) Track {
	content = strings.TrimSpace(strings.ReplaceAll(content, "\r\n", "\n"))
	if content == "" {
		return Track{}
	}
	track := Track{}
	for _, block := range blockSeparator.Split(content, -1) {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 3 {
			continue
		}
		match := timeRangeLine.FindStringSubmatch(lines[1])
		if match == nil {
			continue
		}
		start := timecode.Parse(match[1])
		end := timecode.Parse(match[2])
		if end < start {
			continue
		}
		index, _ := strconv.Atoi(strings.TrimSpace(lines[0]))
		track = append(track, Cue{
			Index: index,
			Start: start,
			End:   end,
			Text:  strings.Join(lines[2:], "\n"),
		})
	}
	return track
}

// ReadFile loads and parses an SRT file.
func ReadFile(path string) (Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read srt: %w", err)
	}
	return ParseSRT(string(data)), nil
}

// Format serialises the track in SRT form using each cue's own index.
func (t Track) Format() string {
	if len(t) == 0 {
		return ""
	}
	blocks := make([]string, 0, len(t))
	for _, cue := range t {
		blocks = append(blocks, fmt.Sprintf("%d\n%s --> %s\n%s",
			cue.Index,
			timecode.FormatCaption(cue.Start),
			timecode.FormatCaption(cue.End),
			cue.Text,
		))
	}
	return strings.Join(blocks, "\n\n") + "\n"
}

// WriteFile writes the track to path, creating parent directories.
func (t Track) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure caption dir: %w", err)
	}
	return os.WriteFile(path, []byte(t.Format()), 0o644)
}
