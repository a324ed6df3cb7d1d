package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"keeprates/internal/fetcher"
	"keeprates/internal/rates"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Policy bounds how many times a source is attempted and how long to wait
// between attempts. Retry n waits n*BaseDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	return p
}

// Observer receives the outcome of every individual attempt.
type Observer interface {
	ObserveAttempt(sourceID string, err error)
}

// Wrapper runs extractors under a retry policy and always yields a result.
type Wrapper struct {
	bounds   rates.Bounds
	observer Observer
	logger   zerolog.Logger
}

// New constructs a Wrapper. observer may be nil.
func New(bounds rates.Bounds, observer Observer, logger zerolog.Logger) *Wrapper {
	return &Wrapper{
		bounds:   bounds.OrDefault(),
		observer: observer,
		logger:   logger.With().Str("component", "retry").Logger(),
	}
}

// Run attempts ex up to policy.MaxAttempts times. A sample that fails the
// plausibility bounds counts as a failed attempt. Panics raised by the
// extractor are recovered into attempt failures.
func (w *Wrapper) Run(ctx context.Context, ex fetcher.Extractor, policy Policy) rates.AttemptResult {
	policy = policy.withDefaults()
	started := time.Now()
	sourceID := safeSourceID(ex)
	logger := w.logger.With().Str("source", sourceID).Logger()

	var (
		attempts int
		sample   rates.Sample
		lastErr  error
	)

	op := func() error {
		attempts++
		s, err := w.attempt(ctx, ex)
		if w.observer != nil {
			w.observer.ObserveAttempt(sourceID, err)
		}
		if err != nil {
			lastErr = err
			return err
		}
		sample = s
		return nil
	}

	notify := func(err error, delay time.Duration) {
		logger.Warn().Err(err).
			Int("attempt", attempts).
			Int("max_attempts", policy.MaxAttempts).
			Dur("retry_in", delay).
			Msg("extraction attempt failed")
	}

	var b backoff.BackOff = &linearBackOff{base: policy.BaseDelay}
	b = backoff.WithMaxRetries(b, uint64(policy.MaxAttempts-1))
	b = backoff.WithContext(b, ctx)

	err := backoff.RetryNotify(op, b, notify)
	elapsed := time.Since(started)
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return rates.Failure(sourceID, lastErr, attempts, elapsed)
	}

	logger.Debug().Int("attempts", attempts).Dur("elapsed", elapsed).Msg("extraction succeeded")
	return rates.Success(sourceID, sample, attempts, elapsed)
}

func (w *Wrapper) attempt(ctx context.Context, ex fetcher.Extractor) (s rates.Sample, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extractor panic: %v", r)
		}
	}()
	s, err = ex.Extract(ctx)
	if err != nil {
		return rates.Sample{}, err
	}
	return w.bounds.Finalize(s)
}

func safeSourceID(ex fetcher.Extractor) (id string) {
	defer func() {
		if recover() != nil {
			id = rates.UnknownSourceID
		}
	}()
	if ex == nil {
		return rates.UnknownSourceID
	}
	return ex.SourceID()
}

// linearBackOff waits n*base before the n-th retry.
type linearBackOff struct {
	base time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.base
}

func (b *linearBackOff) Reset() { b.n = 0 }
