package rates

import (
	"context"
	"errors"
	"time"
)

// UnknownSourceID labels results whose source could not be identified.
const UnknownSourceID = "unknown"

// Batch statuses written to the scrape log.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// AttemptResult is the outcome of one retried extraction of one source.
type AttemptResult struct {
	SourceID  string        `json:"source_id"`
	Succeeded bool          `json:"succeeded"`
	Sample    *Sample       `json:"sample,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Attempts  int           `json:"attempts"`
	Elapsed   time.Duration `json:"elapsed"`
	Persisted bool          `json:"persisted"`
}

// Success builds a successful result.
func Success(sourceID string, sample Sample, attempts int, elapsed time.Duration) AttemptResult {
	return AttemptResult{
		SourceID:  sourceID,
		Succeeded: true,
		Sample:    &sample,
		Attempts:  attempts,
		Elapsed:   elapsed,
	}
}

// Failure builds a failed result carrying err's message and kind.
func Failure(sourceID string, err error, attempts int, elapsed time.Duration) AttemptResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return AttemptResult{
		SourceID:  sourceID,
		Error:     msg,
		ErrorKind: Kind(err),
		Attempts:  attempts,
		Elapsed:   elapsed,
	}
}

// BatchResult aggregates one scrape-all run.
type BatchResult struct {
	JobID        string          `json:"job_id"`
	StartedAt    time.Time       `json:"started_at"`
	TotalSources int             `json:"total_sources"`
	Succeeded    int             `json:"succeeded"`
	Failed       int             `json:"failed"`
	Results      []AttemptResult `json:"results"`
	Elapsed      time.Duration   `json:"elapsed"`
}

// NewBatchResult tallies results in the order given.
func NewBatchResult(jobID string, startedAt time.Time, results []AttemptResult, elapsed time.Duration) BatchResult {
	b := BatchResult{
		JobID:        jobID,
		StartedAt:    startedAt,
		TotalSources: len(results),
		Results:      results,
		Elapsed:      elapsed,
	}
	for _, r := range results {
		if r.Succeeded {
			b.Succeeded++
		} else {
			b.Failed++
		}
	}
	return b
}

// Status summarises the batch: success when nothing failed, failed when nothing
// succeeded. A batch over no sources is failed.
func (b BatchResult) Status() string {
	switch {
	case b.TotalSources == 0:
		return StatusFailed
	case b.Failed == 0:
		return StatusSuccess
	case b.Succeeded == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
