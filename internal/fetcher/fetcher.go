package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"keeprates/internal/rates"
)

// Extractor performs a single extraction attempt against one source.
// Implementations must not retry; the retry wrapper owns that.
type Extractor interface {
	SourceID() string
	Extract(ctx context.Context) (rates.Sample, error)
}

var (
	// ErrNilExtractor is returned when registering a nil extractor.
	ErrNilExtractor = errors.New("fetcher: nil extractor")

	errNoRenderer = errors.New("browser renderer not configured")
)

// Registry keeps extractors in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []Extractor
	byID  map[string]Extractor
}

// NewRegistry builds a registry from the given extractors.
func NewRegistry(extractors ...Extractor) (*Registry, error) {
	r := &Registry{byID: make(map[string]Extractor)}
	for _, e := range extractors {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends e. Source ids must be unique.
func (r *Registry) Register(e Extractor) error {
	if e == nil {
		return ErrNilExtractor
	}
	id := e.SourceID()
	if id == "" {
		return fmt.Errorf("fetcher: extractor with empty source id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[id]; exists {
		return fmt.Errorf("fetcher: source %q already registered", id)
	}
	r.byID[id] = e
	r.order = append(r.order, e)
	return nil
}

// Get returns the extractor for id.
func (r *Registry) Get(id string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// IDs lists registered source ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.order))
	for _, e := range r.order {
		ids = append(ids, e.SourceID())
	}
	return ids
}

// Extractors returns a snapshot of the registered extractors in order.
func (r *Registry) Extractors() []Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Extractor, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// DefaultURL returns the page a built-in source scrapes when no override is
// configured, or "" for ids without one.
func DefaultURL(id string) string {
	switch id {
	case CombankID:
		return combankDefaultURL
	case NDBID:
		return ndbDefaultURL
	case SampathID:
		return sampathDefaultURL
	case CBSLID:
		return cbslDefaultURL
	default:
		return ""
	}
}
