// Package api exposes session control, bulk sending, progress and history
// over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/zulandar/heraldo/internal/dispatch"
	"github.com/zulandar/heraldo/internal/progress"
	"github.com/zulandar/heraldo/internal/quota"
	"github.com/zulandar/heraldo/internal/session"
	"github.com/zulandar/heraldo/internal/store"
)

const defaultHeartbeat = 15 * time.Second

// HistoryReader pages through a tenant's send history.
type HistoryReader interface {
	History(ctx context.Context, tenantID string, q store.HistoryQuery) (store.HistoryPage, error)
}

// QuotaStatus reports a tenant's usage without admitting anything.
type QuotaStatus interface {
	Status(ctx context.Context, tenantID string) (quota.Decision, error)
}

// Options holds the collaborators the HTTP layer drives.
type Options struct {
	Sessions  *session.Registry
	Scheduler *dispatch.Scheduler
	Tracker   *progress.Tracker
	History   HistoryReader
	Quota     QuotaStatus // optional

	Auth       AuthOptions
	RatePerSec float64
	Burst      int
	Log        zerolog.Logger
	Version    string
	Now        func() time.Time

	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

// Server is the HTTP front end.
type Server struct {
	sessions  *session.Registry
	scheduler *dispatch.Scheduler
	tracker   *progress.Tracker
	history   HistoryReader
	quota     QuotaStatus
	limiter   *tenantLimiter
	log       zerolog.Logger
	version   string
	now       func() time.Time
	heartbeat time.Duration

	router *gin.Engine
}

// New creates a Server and registers its routes.
func New(opts Options) (*Server, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("api: sessions is required")
	}
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("api: scheduler is required")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("api: tracker is required")
	}
	if opts.History == nil {
		return nil, fmt.Errorf("api: history reader is required")
	}
	if opts.Auth.Secret == "" && !opts.Auth.AllowTenantHeader {
		return nil, fmt.Errorf("api: jwt secret is required unless the tenant header is allowed")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}

	s := &Server{
		sessions:  opts.Sessions,
		scheduler: opts.Scheduler,
		tracker:   opts.Tracker,
		history:   opts.History,
		quota:     opts.Quota,
		limiter:   newTenantLimiter(opts.RatePerSec, opts.Burst),
		log:       opts.Log,
		version:   opts.Version,
		now:       opts.Now,
		heartbeat: opts.Heartbeat,
	}
	s.sessions.OnRemove(s.limiter.forget)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.log))
	s.registerRoutes(router, opts.Auth)
	s.router = router
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port int) error {
	if port <= 0 {
		port = 3001
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Int("port", port).Msg("http server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// requestLogger logs each request at debug level, and failures at warn.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		evt := log.Debug()
		if status >= http.StatusInternalServerError {
			evt = log.Warn()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Str("tenant", tenantOf(c)).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}
