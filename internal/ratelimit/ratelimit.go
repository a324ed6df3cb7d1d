package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultWindow      = time.Hour
	DefaultMaxRequests = 1
	DefaultKeyPrefix   = "scraping_api:"
)

// Admission decisions reported to the Recorder.
const (
	decisionAllowed  = "allowed"
	decisionDenied   = "denied"
	decisionFailOpen = "fail_open"
)

// Config bounds admissions per identifier.
type Config struct {
	Window      time.Duration
	MaxRequests int
	KeyPrefix   string
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	return c
}

// Result is the outcome of CheckLimit.
type Result struct {
	Allowed   bool  `json:"allowed"`
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetTime int64 `json:"resetTime"`
	// RetryAfter is whole seconds until a slot frees; only set on denial.
	RetryAfter int `json:"retryAfter,omitempty"`
}

// Status is a read-only view of an identifier's window.
type Status struct {
	Limit     int   `json:"limit"`
	Used      int   `json:"used"`
	Remaining int   `json:"remaining"`
	ResetTime int64 `json:"resetTime"`
}

// Recorder counts admission decisions.
type Recorder interface {
	RecordAdmission(decision string)
}

// Limiter is a sliding-window admission gate. It fails open: when the
// backing store is unreachable requests are admitted.
type Limiter struct {
	cfg      Config
	store    WindowStore
	recorder Recorder
	logger   zerolog.Logger
	now      func() time.Time
}

// New constructs a Limiter. recorder may be nil.
func New(cfg Config, store WindowStore, recorder Recorder, logger zerolog.Logger) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{
		cfg:      cfg.withDefaults(),
		store:    store,
		recorder: recorder,
		logger:   logger.With().Str("component", "ratelimit").Logger(),
		now:      time.Now,
	}
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// CheckLimit consumes one slot for id when available.
func (l *Limiter) CheckLimit(ctx context.Context, id string) Result {
	now := l.now()
	key := l.key(id)

	w, err := l.store.Admit(ctx, key, now, l.cfg.Window, l.cfg.MaxRequests)
	if err != nil {
		l.logger.Error().Err(err).Str("key", key).Msg("rate limit store unavailable, allowing request")
		l.record(decisionFailOpen)
		return Result{
			Allowed:   true,
			Limit:     l.cfg.MaxRequests,
			Remaining: l.cfg.MaxRequests - 1,
			ResetTime: now.Add(l.cfg.Window).Unix(),
		}
	}

	res := Result{
		Allowed:   w.Admitted,
		Limit:     l.cfg.MaxRequests,
		Remaining: remaining(l.cfg.MaxRequests, w.Count),
		ResetTime: l.resetAt(now, w).Unix(),
	}
	if !w.Admitted {
		res.RetryAfter = retryAfter(now, l.resetAt(now, w))
		l.record(decisionDenied)
		l.logger.Info().Str("key", key).Int("count", w.Count).Int("retry_after", res.RetryAfter).Msg("request rate limited")
		return res
	}

	l.record(decisionAllowed)
	return res
}

// GetStatus reports the window for id without consuming quota. A store
// failure reports the full quota.
func (l *Limiter) GetStatus(ctx context.Context, id string) Status {
	now := l.now()
	key := l.key(id)

	w, err := l.store.Peek(ctx, key, now, l.cfg.Window)
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("rate limit status unavailable")
		return Status{
			Limit:     l.cfg.MaxRequests,
			Remaining: l.cfg.MaxRequests,
			ResetTime: now.Add(l.cfg.Window).Unix(),
		}
	}

	return Status{
		Limit:     l.cfg.MaxRequests,
		Used:      w.Count,
		Remaining: remaining(l.cfg.MaxRequests, w.Count),
		ResetTime: l.resetAt(now, w).Unix(),
	}
}

// Reset clears the window for id.
func (l *Limiter) Reset(ctx context.Context, id string) error {
	return l.store.Reset(ctx, l.key(id))
}

func (l *Limiter) key(id string) string {
	return l.cfg.KeyPrefix + id
}

func (l *Limiter) resetAt(now time.Time, w Window) time.Time {
	if w.Oldest.IsZero() {
		return now.Add(l.cfg.Window)
	}
	return w.Oldest.Add(l.cfg.Window)
}

func (l *Limiter) record(decision string) {
	if l.recorder != nil {
		l.recorder.RecordAdmission(decision)
	}
}

func remaining(max, count int) int {
	if count >= max {
		return 0
	}
	return max - count
}

func retryAfter(now, reset time.Time) int {
	d := reset.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
