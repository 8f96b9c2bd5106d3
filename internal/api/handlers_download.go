package api

import (
	"errors"
	"os"
	"path/filepath"

	"vclip/server/internal/auth"

	"github.com/gin-gonic/gin"
)

// download serves a rendered clip addressed by a signed token.
func (s *Server) download(c *gin.Context) {
	if s.auth == nil {
		writeClipNotFound(c)
		return
	}
	claims, err := s.auth.ParseDownloadToken(c.Param("token"))
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			writeTokenExpired(c)
			return
		}
		writeUnauthorized(c)
		return
	}
	j, err := s.store.Get(claims.JobID)
	if err != nil {
		writeClipNotFound(c)
		return
	}
	for _, clip := range j.Clips {
		if clip.ID != claims.ClipID {
			continue
		}
		if _, err := os.Stat(clip.FilePath); err != nil {
			s.log.Warn("clip_file_missing", "job_id", j.ID, "clip_id", clip.ID, "path", clip.FilePath, "error", err)
			break
		}
		c.Header("Content-Type", "video/mp4")
		c.FileAttachment(clip.FilePath, filepath.Base(clip.FilePath))
		return
	}
	writeClipNotFound(c)
}
