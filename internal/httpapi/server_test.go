package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keeprates/internal/rates"
	"keeprates/internal/ratelimit"
)

const testKey = "secret-key-123"

type fakeScraper struct {
	mu  sync.Mutex
	ids []string
	// calls records whole-registry batches; each one writes a batch log.
	calls [][]string
	// single records ScrapeOne invocations.
	single []string
	// unsaved names sources whose sample fails to persist.
	unsaved map[string]bool
	ran     chan struct{}
}

func (f *fakeScraper) Sources() []string { return f.ids }

func (f *fakeScraper) HasSource(id string) bool {
	for _, known := range f.ids {
		if known == id {
			return true
		}
	}
	return false
}

func (f *fakeScraper) ScrapeAll(context.Context) rates.BatchResult {
	f.mu.Lock()
	f.calls = append(f.calls, f.ids)
	f.mu.Unlock()
	if f.ran != nil {
		defer func() { f.ran <- struct{}{} }()
	}

	results := make([]rates.AttemptResult, 0, len(f.ids))
	for _, id := range f.ids {
		results = append(results, f.result(id))
	}
	return rates.NewBatchResult("job-1", time.Now().UTC(), results, 2*time.Second)
}

func (f *fakeScraper) ScrapeOne(_ context.Context, id string) (rates.AttemptResult, error) {
	f.mu.Lock()
	f.single = append(f.single, id)
	f.mu.Unlock()
	if f.ran != nil {
		defer func() { f.ran <- struct{}{} }()
	}

	res := f.result(id)
	if res.Succeeded && f.unsaved[id] {
		return res, &rates.PersistenceError{SourceID: id, Op: "save_sample", Err: errors.New("disk full")}
	}
	res.Persisted = res.Succeeded
	return res, nil
}

func (f *fakeScraper) result(id string) rates.AttemptResult {
	if id == "ndb" {
		return rates.Failure(id, errors.New("blocked"), 3, time.Second)
	}
	return rates.Success(id, rates.NewSample(id, ""), 1, time.Second)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newTestServer(t *testing.T, apiKey string, maxRequests int) (*Server, *fakeScraper) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	scraper := &fakeScraper{ids: []string{"combank", "ndb", "sampath"}, ran: make(chan struct{}, 4)}
	gate := ratelimit.New(ratelimit.Config{MaxRequests: maxRequests}, ratelimit.NewMemoryStore(), nil, zerolog.Nop())
	srv := New(Options{APIKey: apiKey, Version: "test"}, scraper, gate, zerolog.Nop())
	return srv, scraper
}

func trigger(t *testing.T, h http.Handler, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/scrape/trigger", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(apiKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestTriggerAuth(t *testing.T) {
	t.Run("missing configured key", func(t *testing.T) {
		srv, _ := newTestServer(t, "", 1)
		rec := trigger(t, srv.Handler(), testKey, `{}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("missing header", func(t *testing.T) {
		srv, _ := newTestServer(t, testKey, 1)
		rec := trigger(t, srv.Handler(), "", `{}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		srv, _ := newTestServer(t, testKey, 1)
		rec := trigger(t, srv.Handler(), "nope", `{}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Unauthorized", decode(t, rec)["error"])
	})
}

func TestTriggerSyncAll(t *testing.T) {
	srv, scraper := newTestServer(t, testKey, 1)

	rec := trigger(t, srv.Handler(), testKey, `{"async": false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "sync", body["mode"])
	assert.Equal(t, "all", body["sources"])
	result := body["result"].(map[string]any)
	assert.Equal(t, float64(3), result["totalSources"])
	assert.Equal(t, float64(2), result["succeeded"])
	assert.Equal(t, rates.StatusPartial, result["status"])

	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	assert.Len(t, scraper.calls, 1)
}

func TestTriggerAsyncDefault(t *testing.T) {
	srv, scraper := newTestServer(t, testKey, 1)

	rec := trigger(t, srv.Handler(), testKey, `{"banks": ["combank"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "async", body["mode"])
	assert.Equal(t, []any{"combank"}, body["sources"])

	select {
	case <-scraper.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("background scrape did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	scraper.mu.Lock()
	defer scraper.mu.Unlock()
	assert.Equal(t, []string{"combank"}, scraper.single)
	assert.Empty(t, scraper.calls)
}

func TestTriggerSubsetScrapesEachSource(t *testing.T) {
	srv, scraper := newTestServer(t, testKey, 1)
	scraper.unsaved = map[string]bool{"sampath": true}

	rec := trigger(t, srv.Handler(), testKey, `{"sources": ["sampath", "ndb", "combank"], "async": false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, []any{"sampath", "ndb", "combank"}, body["sources"])
	result := body["result"].(map[string]any)
	assert.Equal(t, float64(3), result["totalSources"])
	assert.Equal(t, float64(2), result["succeeded"])
	assert.Equal(t, float64(1), result["failed"])
	assert.NotEmpty(t, result["jobId"])

	results := result["results"].([]any)
	require.Len(t, results, 3)
	order := make([]string, 0, len(results))
	for _, r := range results {
		order = append(order, r.(map[string]any)["source_id"].(string))
	}
	assert.Equal(t, []string{"sampath", "ndb", "combank"}, order)

	first := results[0].(map[string]any)
	assert.Equal(t, true, first["succeeded"])
	assert.Equal(t, false, first["persisted"])

	scraper.mu.Lock()
	defer scraper.mu.Unlock()
	assert.ElementsMatch(t, []string{"sampath", "ndb", "combank"}, scraper.single)
	assert.Empty(t, scraper.calls, "subset triggers must not run a logged batch")
}

func TestTriggerMalformedBodyUsesDefaults(t *testing.T) {
	srv, scraper := newTestServer(t, testKey, 1)

	rec := trigger(t, srv.Handler(), testKey, `not json`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	<-scraper.ran
}

func TestTriggerUnknownSourceDoesNotConsumeQuota(t *testing.T) {
	srv, scraper := newTestServer(t, testKey, 1)

	rec := trigger(t, srv.Handler(), testKey, `{"sources": ["combank", "hsbc"], "async": false}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []any{"hsbc"}, decode(t, rec)["unknown"])
	assert.Empty(t, scraper.calls)

	rec = trigger(t, srv.Handler(), testKey, `{"sources": ["combank"], "async": false}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"combank"}, scraper.single)
}

func TestTriggerRateLimited(t *testing.T) {
	srv, scraper := newTestServer(t, testKey, 1)

	first := trigger(t, srv.Handler(), testKey, `{"async": false}`)
	require.Equal(t, http.StatusOK, first.Code)

	second := trigger(t, srv.Handler(), testKey, `{"async": false}`)
	require.Equal(t, http.StatusTooManyRequests, second.Code)

	body := decode(t, second)
	assert.Equal(t, "Rate limit exceeded", body["error"])
	assert.Contains(t, body["message"], "once per hour")
	assert.Greater(t, body["retryAfter"].(float64), float64(3500))
	assert.NotZero(t, body["resetTime"])
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))
	assert.Len(t, scraper.calls, 1)
}

func TestInfoDoesNotConsumeQuota(t *testing.T) {
	srv, _ := newTestServer(t, testKey, 1)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scrape/trigger", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		limit := body["rateLimit"].(map[string]any)
		assert.Equal(t, float64(1), limit["remaining"])
		assert.Equal(t, float64(time.Hour.Milliseconds()), limit["windowMs"])
		assert.Equal(t, []any{"combank", "ndb", "sampath"}, body["availableSources"])
	}

	rec := trigger(t, srv.Handler(), testKey, `{"async": false}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gate := ratelimit.New(ratelimit.Config{}, nil, nil, zerolog.Nop())

	healthy := New(Options{}, &fakeScraper{}, gate, zerolog.Nop())
	rec := httptest.NewRecorder()
	healthy.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	degraded := New(Options{HealthChecks: map[string]Pinger{"redis": failingPinger{}}}, &fakeScraper{}, gate, zerolog.Nop())
	rec = httptest.NewRecorder()
	degraded.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	checks := decode(t, rec)["checks"].(map[string]any)
	assert.Equal(t, "connection refused", checks["redis"])
}

func TestClientThrottle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gate := ratelimit.New(ratelimit.Config{}, nil, nil, zerolog.Nop())
	srv := New(Options{ClientRPS: 0.001, ClientBurst: 2}, &fakeScraper{}, gate, zerolog.Nop())

	get := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/scrape/trigger", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("10.0.0.1"))
	assert.Equal(t, http.StatusOK, get("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, get("10.0.0.1"))
	assert.Equal(t, http.StatusOK, get("10.0.0.2"))

	// health is outside the throttled group
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestThrottleSweep(t *testing.T) {
	th := newClientThrottle(1, 1, zerolog.Nop())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	th.limiterFor("ip:a")
	now = now.Add(throttleIdleTTL + time.Second)
	th.limiterFor("ip:b")
	th.sweep()

	_, okA := th.limiters.Load("ip:a")
	_, okB := th.limiters.Load("ip:b")
	assert.False(t, okA)
	assert.True(t, okB)
}
