package captions

import (
	"math"
	"os"
)

// Extract returns the cues overlapping [windowStart, windowEnd], shifted so the
// window starts at zero, clipped to the window and renumbered from 1.
// Cues touching a boundary are kept. An invalid window yields an empty track.
func Extract(track Track, windowStart, windowEnd float64) Track {
	out := Track{}
	if windowStart < 0 || windowEnd <= windowStart {
		return out
	}
	length := windowEnd - windowStart
	for _, cue := range track {
		if cue.End < cue.Start {
			continue
		}
		if cue.End < windowStart || cue.Start > windowEnd {
			continue
		}
		out = append(out, Cue{
			Index: len(out) + 1,
			Start: math.Max(0, cue.Start-windowStart),
			End:   math.Min(length, cue.End-windowStart),
			Text:  cue.Text,
		})
	}
	return out
}

// WriteSegment writes the extracted window of track to outPath.
func WriteSegment(track Track, windowStart, windowEnd float64, outPath string) error {
	return Extract(track, windowStart, windowEnd).WriteFile(outPath)
}

// ExtractFile cuts a window out of the SRT file at srcPath into outPath.
// An unreadable source produces an empty caption file so rendering can go on
// without captions; only a failure to write outPath is returned.
func ExtractFile(srcPath string, windowStart, windowEnd float64, outPath string) (string, error) {
	track, err := ReadFile(srcPath)
	if err != nil {
		track = Track{}
	}
	if err := WriteSegment(track, windowStart, windowEnd, outPath); err != nil {
		_ = os.WriteFile(outPath, nil, 0o644)
		return outPath, err
	}
	return outPath, nil
}
