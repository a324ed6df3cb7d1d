package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"keeprates/internal/rates"
	"keeprates/internal/ratelimit"
)

const apiKeyHeader = "X-API-Key"

// Scraper is the orchestration surface the API drives.
type Scraper interface {
	Sources() []string
	HasSource(id string) bool
	ScrapeAll(ctx context.Context) rates.BatchResult
	ScrapeOne(ctx context.Context, id string) (rates.AttemptResult, error)
}

// Gate admits trigger requests.
type Gate interface {
	CheckLimit(ctx context.Context, id string) ratelimit.Result
	GetStatus(ctx context.Context, id string) ratelimit.Status
	Config() ratelimit.Config
}

// Pinger is a dependency probed by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configure the HTTP server.
type Options struct {
	Addr   string
	APIKey string
	// Identifier is the single admission key shared by all trigger callers.
	Identifier   string
	ClientRPS    float64
	ClientBurst  int
	Version      string
	Metrics      http.Handler
	HealthChecks map[string]Pinger
}

// Server exposes the trigger API, health and metrics.
type Server struct {
	opts     Options
	scraper  Scraper
	gate     Gate
	throttle *clientThrottle
	engine   *gin.Engine
	http     *http.Server
	logger   zerolog.Logger

	jobs     sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// New wires routes onto a fresh gin engine.
func New(opts Options, scraper Scraper, gate Gate, logger zerolog.Logger) *Server {
	if opts.Identifier == "" {
		opts.Identifier = "scraping_trigger"
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}

	s := &Server{
		opts:    opts,
		scraper: scraper,
		gate:    gate,
		logger:  logger.With().Str("component", "httpapi").Logger(),
		stop:    make(chan struct{}),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())

	engine.GET("/healthz", s.handleHealth)
	if opts.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	api := engine.Group("/api")
	if opts.ClientRPS > 0 {
		s.throttle = newClientThrottle(opts.ClientRPS, opts.ClientBurst, s.logger)
		api.Use(s.throttle.middleware())
	}
	api.GET("/scrape/trigger", s.handleInfo)
	api.POST("/scrape/trigger", s.handleTrigger)

	s.engine = engine
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	if s.throttle != nil {
		go s.throttle.runCleanup(s.stop)
	}
	s.logger.Info().Str("addr", s.opts.Addr).Msg("starting HTTP server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then waits for background scrapes.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.logger.Info().Msg("shutting down HTTP server")

	if err := s.http.Shutdown(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.opts.HealthChecks))
	healthy := true
	for name, p := range s.opts.HealthChecks {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}

func setLimitHeaders(c *gin.Context, limit, remaining int, reset int64) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
}
