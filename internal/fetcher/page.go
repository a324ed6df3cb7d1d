package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"keeprates/internal/rates"
)

// DefaultUserAgent mimics a desktop browser; several bank sites reject bare clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

const maxPageBytes = 8 << 20

// PageOptions parameterise the shared HTTP page client.
type PageOptions struct {
	UserAgent string
	Timeout   time.Duration
}

// PageClient fetches static pages and JSON documents.
type PageClient struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewPageClient constructs a page client.
func NewPageClient(opts PageOptions, logger zerolog.Logger) *PageClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = DefaultUserAgent
	}
	return &PageClient{
		client:    &http.Client{},
		userAgent: ua,
		timeout:   timeout,
		logger:    logger.With().Str("component", "page_client").Logger(),
	}
}

// Get retrieves url on behalf of sourceID. Transport failures and non-2xx
// responses come back as *rates.FetchError.
func (c *PageClient) Get(ctx context.Context, sourceID, url, accept string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &rates.FetchError{SourceID: sourceID, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	if accept == "" {
		accept = "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8"
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &rates.FetchError{SourceID: sourceID, URL: url, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, &rates.FetchError{SourceID: sourceID, URL: url, StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.Debug().
		Str("source", sourceID).
		Int("status", resp.StatusCode).
		Int("bytes", len(payload)).
		Dur("elapsed", time.Since(started)).
		Msg("page fetched")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &rates.FetchError{SourceID: sourceID, URL: url, StatusCode: resp.StatusCode, Err: httpStatusError(payload)}
	}
	return payload, nil
}

func httpStatusError(payload []byte) error {
	body := strings.TrimSpace(string(payload))
	if body == "" {
		return nil
	}
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Errorf("%s", body)
}
