// Package api exposes the job submission and polling surface over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"vclip/server/internal/auth"
	"vclip/server/internal/events"
	"vclip/server/internal/model"

	"github.com/gin-gonic/gin"
)

// JobReader is the read side of the status store.
type JobReader interface {
	Get(jobID string) (model.Job, error)
	List() []model.Job
}

// Submitter starts the pipeline for a source URL.
type Submitter interface {
	Submit(sourceURL string) (model.Job, error)
}

type Options struct {
	// Metrics is mounted at GET /metrics when set.
	Metrics        http.Handler
	RateLimitRPS   float64
	RateLimitBurst int
}

type Server struct {
	auth  *auth.Service
	store JobReader
	jobs  Submitter
	hub   *events.Hub
	log   *slog.Logger
	opts  Options
}

func NewServer(authSvc *auth.Service, st JobReader, jobs Submitter, hub *events.Hub, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		auth:  authSvc,
		store: st,
		jobs:  jobs,
		hub:   hub,
		log:   logger,
		opts:  opts,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(RequestLogMiddleware(s.log))

	r.GET("/healthz", func(c *gin.Context) {
		writeData(c, http.StatusOK, gin.H{"status": "ok"})
	})
	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}
	r.GET("/client/bootstrap", s.clientBootstrap)

	r.POST("/process",
		RateLimitMiddleware(s.opts.RateLimitRPS, s.opts.RateLimitBurst),
		APIKeyMiddleware(s.auth),
		s.process,
	)
	r.GET("/status/:job_id", s.getStatus)
	r.GET("/status/:job_id/events", s.streamStatus)
	r.GET("/clips", s.listAllClips)
	r.GET("/clips/:job_id", s.listJobClips)
	r.GET("/download/:token", s.download)

	return r
}
