package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) clientBootstrap(c *gin.Context) {
	writeData(c, http.StatusOK, gin.H{
		"feature_flags": gin.H{
			"sse_job_events":   s.hub != nil,
			"signed_downloads": s.auth != nil,
			"api_key_required": s.auth != nil && s.auth.APIKeyRequired(),
		},
		"polling": gin.H{
			"interval_ms": 2000,
		},
		"sse": gin.H{
			"heartbeat_sec": int(sseHeartbeat.Seconds()),
			"retry_ms":      2000,
		},
	})
}
