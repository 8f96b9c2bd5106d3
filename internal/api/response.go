package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes returned in the "error.code" field.
const (
	codeUnauthorized    = "UNAUTHORIZED"
	codeTokenExpired    = "TOKEN_EXPIRED"
	codeJobNotFound     = "JOB_NOT_FOUND"
	codeClipNotFound    = "CLIP_NOT_FOUND"
	codeInvalidBody     = "INVALID_BODY"
	codeInvalidURL      = "INVALID_URL"
	codeUnsupportedType = "UNSUPPORTED_MEDIA_TYPE"
	codeRateLimited     = "RATE_LIMITED"
	codeSubmitFailed    = "SUBMIT_FAILED"
	codeStatusFailed    = "STATUS_FAILED"
	codeSSEDisabled     = "SSE_DISABLED"
	codeSSEUnsupported  = "SSE_UNSUPPORTED"
)

type APIError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// writeData wraps auxiliary responses. Job documents are written bare so
// polling clients read the job itself.
func writeData(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"data":     data,
		"trace_id": traceIDFromContext(c),
	})
}

func writeError(c *gin.Context, status int, code, message string, retryable bool, details map[string]any) {
	c.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			Retryable: retryable,
			Details:   details,
		},
		"trace_id": traceIDFromContext(c),
	})
}

func writeUnauthorized(c *gin.Context) {
	writeError(c, http.StatusUnauthorized, codeUnauthorized, "Unauthorized", false, nil)
}

func writeTokenExpired(c *gin.Context) {
	writeError(c, http.StatusUnauthorized, codeTokenExpired, "Download link expired", false, nil)
}

func writeJobNotFound(c *gin.Context, jobID string) {
	writeError(c, http.StatusNotFound, codeJobNotFound, "Job not found", false, map[string]any{"job_id": jobID})
}

func writeClipNotFound(c *gin.Context) {
	writeError(c, http.StatusNotFound, codeClipNotFound, "Clip not found", false, nil)
}

func writeInvalidURL(c *gin.Context, sourceURL string, err error) {
	writeError(c, http.StatusUnprocessableEntity, codeInvalidURL, err.Error(), false, map[string]any{"url": sourceURL})
}
