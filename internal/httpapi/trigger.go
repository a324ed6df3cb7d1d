package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"keeprates/internal/rates"
)

type triggerRequest struct {
	Sources []string `json:"sources"`
	// Banks is accepted as an alias of Sources.
	Banks []string `json:"banks"`
	Async *bool    `json:"async"`
}

func (r triggerRequest) ids() []string {
	if len(r.Sources) > 0 {
		return r.Sources
	}
	return r.Banks
}

func (r triggerRequest) async() bool {
	return r.Async == nil || *r.Async
}

type batchSummary struct {
	JobID        string                `json:"jobId"`
	Status       string                `json:"status"`
	TotalSources int                   `json:"totalSources"`
	Succeeded    int                   `json:"succeeded"`
	Failed       int                   `json:"failed"`
	DurationMs   int64                 `json:"durationMs"`
	Timestamp    time.Time             `json:"timestamp"`
	Results      []rates.AttemptResult `json:"results"`
}

func summarize(b rates.BatchResult) batchSummary {
	return batchSummary{
		JobID:        b.JobID,
		Status:       b.Status(),
		TotalSources: b.TotalSources,
		Succeeded:    b.Succeeded,
		Failed:       b.Failed,
		DurationMs:   b.Elapsed.Milliseconds(),
		Timestamp:    b.StartedAt,
		Results:      b.Results,
	}
}

func (s *Server) handleTrigger(c *gin.Context) {
	if s.opts.APIKey == "" {
		s.logger.Error().Msg("trigger API key not configured")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Server configuration error",
			"message": "Scraping API not properly configured",
		})
		return
	}
	if c.GetHeader(apiKeyHeader) != s.opts.APIKey {
		s.logger.Warn().Str("client_ip", c.ClientIP()).Msg("unauthorized trigger attempt")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "Unauthorized",
			"message": "Valid API key required",
		})
		return
	}

	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Unreadable bodies fall back to defaults.
		req = triggerRequest{}
	}
	ids := req.ids()

	var unknown []string
	for _, id := range ids {
		if !s.scraper.HasSource(id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Unknown sources",
			"unknown":   unknown,
			"available": s.scraper.Sources(),
		})
		return
	}

	limit := s.gate.CheckLimit(c.Request.Context(), s.opts.Identifier)
	setLimitHeaders(c, limit.Limit, limit.Remaining, limit.ResetTime)
	if !limit.Allowed {
		c.Header("Retry-After", strconv.Itoa(limit.RetryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":      "Rate limit exceeded",
			"message":    "Scraping can only be triggered " + describeQuota(s.gate.Config().MaxRequests, s.gate.Config().Window),
			"retryAfter": limit.RetryAfter,
			"resetTime":  limit.ResetTime,
		})
		return
	}

	var scope any = "all"
	if len(ids) > 0 {
		scope = ids
	}

	if req.async() {
		s.jobs.Add(1)
		ctx := context.WithoutCancel(c.Request.Context())
		go func() {
			defer s.jobs.Done()
			batch := s.run(ctx, ids)
			s.logger.Info().Str("job_id", batch.JobID).
				Int("succeeded", batch.Succeeded).
				Int("total", batch.TotalSources).
				Msg("background scrape completed")
		}()

		c.JSON(http.StatusAccepted, gin.H{
			"success":   true,
			"message":   "Scraping initiated successfully",
			"mode":      "async",
			"sources":   scope,
			"timestamp": time.Now().UTC(),
		})
		return
	}

	batch := s.run(c.Request.Context(), ids)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Scraping completed",
		"mode":    "sync",
		"sources": scope,
		"result":  summarize(batch),
	})
}

func (s *Server) run(ctx context.Context, ids []string) rates.BatchResult {
	if len(ids) == 0 {
		return s.scraper.ScrapeAll(ctx)
	}
	return s.scrapeEach(ctx, ids)
}

// scrapeEach runs ScrapeOne per requested id concurrently. Results keep the
// request order; no batch log is written for a subset.
func (s *Server) scrapeEach(ctx context.Context, ids []string) rates.BatchResult {
	started := time.Now().UTC()
	jobID := uuid.NewString()
	results := make([]rates.AttemptResult, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			res, err := s.scraper.ScrapeOne(ctx, id)
			results[i] = res
			if err == nil {
				return
			}
			var perr *rates.PersistenceError
			if errors.As(err, &perr) {
				s.logger.Warn().Err(err).Str("job_id", jobID).Str("source", id).Msg("sample scraped but not persisted")
				return
			}
			s.logger.Error().Err(err).Str("job_id", jobID).Str("source", id).Msg("scrape failed")
		}(i, id)
	}
	wg.Wait()

	return rates.NewBatchResult(jobID, started, results, time.Since(started))
}

func (s *Server) handleInfo(c *gin.Context) {
	cfg := s.gate.Config()
	status := s.gate.GetStatus(c.Request.Context(), s.opts.Identifier)

	c.JSON(http.StatusOK, gin.H{
		"message": "Keep Rates Scraping API",
		"version": s.opts.Version,
		"rateLimit": gin.H{
			"windowMs":    cfg.Window.Milliseconds(),
			"maxRequests": cfg.MaxRequests,
			"used":        status.Used,
			"remaining":   status.Remaining,
			"resetTime":   status.ResetTime,
		},
		"availableSources": s.scraper.Sources(),
		"endpoints": gin.H{
			"trigger": gin.H{
				"method":         http.MethodPost,
				"description":    "Trigger scraping of exchange rates",
				"authentication": "API Key (" + apiKeyHeader + " header)",
				"rateLimit":      describeQuota(cfg.MaxRequests, cfg.Window),
			},
		},
	})
}

func describeQuota(max int, window time.Duration) string {
	times := "once"
	if max != 1 {
		times = strconv.Itoa(max) + " times"
	}
	if window == time.Hour {
		return times + " per hour"
	}
	return times + " per " + window.String()
}
