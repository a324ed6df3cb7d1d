package storage

import (
	"fmt"
	"strings"
	"time"

	"keeprates/internal/rates"
)

// StoredSample is a persisted observation.
type StoredSample struct {
	ID        int64
	Sample    rates.Sample
	CreatedAt time.Time
}

// BatchLog is the one-row summary written per scrape-all run.
type BatchLog struct {
	ID              int64
	JobID           string
	Status          string
	SourcesTotal    int
	RatesFound      int
	ErrorMessage    *string
	ExecutionTimeMs int64
	ScrapedAt       time.Time
}

// BatchLogFromResult summarises a batch for the scrape log.
func BatchLogFromResult(b rates.BatchResult) BatchLog {
	log := BatchLog{
		JobID:           b.JobID,
		Status:          b.Status(),
		SourcesTotal:    b.TotalSources,
		RatesFound:      b.Succeeded,
		ExecutionTimeMs: b.Elapsed.Milliseconds(),
		ScrapedAt:       b.StartedAt.UTC(),
	}
	if b.Failed > 0 {
		failed := make([]string, 0, b.Failed)
		for _, r := range b.Results {
			if !r.Succeeded {
				failed = append(failed, r.SourceID)
			}
		}
		msg := fmt.Sprintf("%d sources failed: %s", b.Failed, strings.Join(failed, ", "))
		log.ErrorMessage = &msg
	}
	if b.TotalSources == 0 {
		msg := "no sources registered"
		log.ErrorMessage = &msg
	}
	return log
}

// SourceInfo is a catalog entry describing one scraped institution.
type SourceInfo struct {
	Code        string
	Name        string
	DisplayName string
	WebsiteURL  string
	Kind        string
	IsActive    bool
	CreatedAt   time.Time
}

// SampleQuery filters sample listings.
type SampleQuery struct {
	SourceID       string
	IncludeInvalid bool
	Limit          int
}
