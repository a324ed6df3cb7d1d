package rates

import (
	"errors"
	"fmt"
)

// Error kinds used in results, logs and metric labels.
const (
	KindFetch       = "fetch"
	KindExtraction  = "extraction"
	KindValidation  = "validation"
	KindUnknown     = "unknown_source"
	KindPersistence = "persistence"
	KindCanceled    = "canceled"
	KindInternal    = "internal"
)

// FetchError means the source could not be retrieved.
type FetchError struct {
	SourceID   string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: fetch %s: status %d: %v", e.SourceID, e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: fetch %s: status %d", e.SourceID, e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("%s: fetch %s: %v", e.SourceID, e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError means the content was retrieved but the expected rates were not found.
type ExtractionError struct {
	SourceID string
	Reason   string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s: extract: %s", e.SourceID, e.Reason)
}

// ValidationError means extracted values fell outside plausibility bounds.
type ValidationError struct {
	SourceID string
	Field    string
	Value    string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: invalid sample: %s", e.SourceID, e.Reason)
	}
	return fmt.Sprintf("%s: invalid %s %s: %s", e.SourceID, e.Field, e.Value, e.Reason)
}

// UnknownSourceError is returned when a source id is not registered.
type UnknownSourceError struct {
	SourceID string
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("unknown source %q", e.SourceID)
}

// PersistenceError wraps a failure of the storage collaborator.
type PersistenceError struct {
	SourceID string
	Op       string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.SourceID, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Kind classifies err into one of the Kind* constants.
func Kind(err error) string {
	var (
		fetchErr   *FetchError
		extractErr *ExtractionError
		validErr   *ValidationError
		unknownErr *UnknownSourceError
		persistErr *PersistenceError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validErr):
		return KindValidation
	case errors.As(err, &extractErr):
		return KindExtraction
	case errors.As(err, &unknownErr):
		return KindUnknown
	case errors.As(err, &persistErr):
		return KindPersistence
	case errors.As(err, &fetchErr):
		return KindFetch
	case isCanceled(err):
		return KindCanceled
	default:
		return KindInternal
	}
}
