package job

import (
	"log/slog"
	"strings"

	"vclip/server/internal/model"
	"vclip/server/internal/timecode"
)

// ConvertHighlights parses selector output into seconds. Unparseable times read
// as zero; highlights that end up with no positive duration are dropped.
func ConvertHighlights(specs []model.HighlightSpec, logger *slog.Logger) []model.Highlight {
	out := make([]model.Highlight, 0, len(specs))
	for i, spec := range specs {
		start := timecode.Parse(spec.StartTime)
		end := timecode.Parse(spec.EndTime)
		h := model.Highlight{
			Title:        strings.TrimSpace(spec.Title),
			Description:  strings.TrimSpace(spec.Description),
			StartTime:    spec.StartTime,
			EndTime:      spec.EndTime,
			StartSeconds: start,
			EndSeconds:   end,
			Duration:     end - start,
		}
		if h.Duration <= 0 {
			if logger != nil {
				logger.Warn("highlight_skipped", "index", i+1, "start_time", spec.StartTime, "end_time", spec.EndTime)
			}
			continue
		}
		out = append(out, h)
	}
	return out
}
