package httpapi

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	throttleIdleTTL         = 10 * time.Minute
	throttleCleanupInterval = 5 * time.Minute
)

// clientThrottle is a per-client token bucket in front of the API. It only
// blunts request floods; the admission gate still decides whether a scrape runs.
type clientThrottle struct {
	limiters sync.Map
	rps      rate.Limit
	burst    int
	logger   zerolog.Logger
	now      func() time.Time
}

type throttleEntry struct {
	limiter *rate.Limiter
	mu      sync.Mutex
	seen    time.Time
}

func newClientThrottle(rps float64, burst int, logger zerolog.Logger) *clientThrottle {
	if burst <= 0 {
		burst = 1
	}
	return &clientThrottle{
		rps:    rate.Limit(rps),
		burst:  burst,
		logger: logger,
		now:    time.Now,
	}
}

func (t *clientThrottle) limiterFor(key string) *rate.Limiter {
	now := t.now()
	if v, ok := t.limiters.Load(key); ok {
		entry := v.(*throttleEntry)
		entry.mu.Lock()
		entry.seen = now
		entry.mu.Unlock()
		return entry.limiter
	}
	entry := &throttleEntry{limiter: rate.NewLimiter(t.rps, t.burst), seen: now}
	actual, _ := t.limiters.LoadOrStore(key, entry)
	return actual.(*throttleEntry).limiter
}

// sweep drops limiters idle for longer than throttleIdleTTL.
func (t *clientThrottle) sweep() {
	cutoff := t.now().Add(-throttleIdleTTL)
	t.limiters.Range(func(key, value any) bool {
		entry := value.(*throttleEntry)
		entry.mu.Lock()
		idle := entry.seen.Before(cutoff)
		entry.mu.Unlock()
		if idle {
			t.limiters.Delete(key)
		}
		return true
	})
}

func (t *clientThrottle) runCleanup(done <-chan struct{}) {
	ticker := time.NewTicker(throttleCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *clientThrottle) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := clientIdentifier(c)
		if t.limiterFor(client).Allow() {
			c.Next()
			return
		}

		t.logger.Warn().Str("client", client).Str("path", c.Request.URL.Path).Msg("client throttled")
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":      "Too many requests",
			"retryAfter": 1,
		})
	}
}

// clientIdentifier keys the throttle by API key prefix, then forwarded
// address, then peer address.
func clientIdentifier(c *gin.Context) string {
	if key := c.GetHeader(apiKeyHeader); key != "" {
		if len(key) > 8 {
			key = key[:8]
		}
		return fmt.Sprintf("api:%s", key)
	}
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		return fmt.Sprintf("ip:%s", fwd)
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return fmt.Sprintf("ip:%s", ip)
}
