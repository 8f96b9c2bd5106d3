package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"vclip/server/internal/job"
	"vclip/server/internal/model"
	"vclip/server/internal/store"

	"github.com/gin-gonic/gin"
)

const sseHeartbeat = 15 * time.Second

type processRequest struct {
	URL string `json:"url"`
}

// clipView is a clip as served to clients, with a signed download link.
type clipView struct {
	model.Clip
	JobID       string `json:"job_id"`
	DownloadURL string `json:"download_url,omitempty"`
}

func (s *Server) process(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusUnprocessableEntity, codeInvalidBody, "Body must be {\"url\": \"...\"}", false, nil)
		return
	}
	created, err := s.jobs.Submit(req.URL)
	if err != nil {
		switch {
		case errors.Is(err, job.ErrInvalidSource):
			writeInvalidURL(c, req.URL, err)
		default:
			s.log.Error("submit_failed", "trace_id", traceIDFromContext(c), "error", err)
			writeError(c, http.StatusInternalServerError, codeSubmitFailed, "Failed to start job", true, nil)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id":  created.ID,
		"message": "Processing started",
	})
}

func (s *Server) getStatus(c *gin.Context) {
	j, err := s.store.Get(c.Param("job_id"))
	if err != nil {
		writeJobNotFound(c, c.Param("job_id"))
		return
	}
	c.JSON(http.StatusOK, j)
}

func (s *Server) listJobClips(c *gin.Context) {
	j, err := s.store.Get(c.Param("job_id"))
	if err != nil {
		writeJobNotFound(c, c.Param("job_id"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"clips": s.clipViews(j)})
}

func (s *Server) listAllClips(c *gin.Context) {
	clips := []clipView{}
	for _, j := range s.store.List() {
		clips = append(clips, s.clipViews(j)...)
	}
	c.JSON(http.StatusOK, gin.H{"clips": clips})
}

func (s *Server) clipViews(j model.Job) []clipView {
	out := make([]clipView, 0, len(j.Clips))
	for _, clip := range j.Clips {
		v := clipView{Clip: clip, JobID: j.ID}
		if s.auth != nil {
			token, err := s.auth.IssueDownloadToken(j.ID, clip.ID)
			if err != nil {
				s.log.Warn("download_token_failed", "job_id", j.ID, "clip_id", clip.ID, "error", err)
			} else {
				v.DownloadURL = "/download/" + token
			}
		}
		out = append(out, v)
	}
	return out
}

// streamStatus sends the current snapshot, then every snapshot the pipeline
// publishes, until the job finishes or the client goes away.
func (s *Server) streamStatus(c *gin.Context) {
	jobID := c.Param("job_id")
	if s.hub == nil {
		writeError(c, http.StatusNotImplemented, codeSSEDisabled, "Live events are disabled", false, nil)
		return
	}
	_, sub, unsubscribe := s.hub.Subscribe(jobID, 128)
	defer unsubscribe()

	current, err := s.store.Get(jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJobNotFound(c, jobID)
			return
		}
		writeError(c, http.StatusInternalServerError, codeStatusFailed, "Failed to load job", true, nil)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, http.StatusInternalServerError, codeSSEUnsupported, "Streaming unsupported", false, nil)
		return
	}

	writeSSE(c, model.JobEvent{JobID: jobID, Type: model.EventJobProgress, TS: time.Now().UTC(), Job: current})
	flusher.Flush()
	if current.Status.Terminal() {
		return
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			writeSSE(c, evt)
			flusher.Flush()
			if evt.Job.Status.Terminal() {
				return
			}
		case <-heartbeat.C:
			fmt.Fprintf(c.Writer, ": ping %d\n\n", time.Now().Unix())
			flusher.Flush()
		}
	}
}

func writeSSE(c *gin.Context, evt model.JobEvent) {
	payload, _ := json.Marshal(evt)
	fmt.Fprintf(c.Writer, "id: %d\n", evt.Seq)
	fmt.Fprintf(c.Writer, "event: %s\n", evt.Type)
	fmt.Fprintf(c.Writer, "data: %s\n\n", string(payload))
}
