package fetcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"keeprates/internal/rates"
)

// SourceOptions are shared by every extractor.
type SourceOptions struct {
	URL     string
	Timeout time.Duration
	Bounds  rates.Bounds
}

func (o SourceOptions) withDefaults(url string, timeout time.Duration) SourceOptions {
	if o.URL == "" {
		o.URL = url
	}
	if o.Timeout <= 0 {
		o.Timeout = timeout
	}
	o.Bounds = o.Bounds.OrDefault()
	return o
}

// renderedSource is the common half of every JS-rendered bank page: render
// once, then hand the DOM snapshot to a source-specific parser.
type renderedSource struct {
	id       string
	opts     SourceOptions
	renderer Renderer
	waitFor  string
	scroll   bool
	parse    func(html, url string, bounds rates.Bounds) (rates.Sample, error)
	logger   zerolog.Logger
}

func (s *renderedSource) SourceID() string { return s.id }

func (s *renderedSource) Extract(ctx context.Context) (rates.Sample, error) {
	if s.renderer == nil {
		return rates.Sample{}, &rates.FetchError{SourceID: s.id, URL: s.opts.URL, Err: errNoRenderer}
	}
	html, err := s.renderer.Render(ctx, RenderRequest{
		URL:          s.opts.URL,
		WaitSelector: s.waitFor,
		Timeout:      s.opts.Timeout,
		Scroll:       s.scroll,
	})
	if err != nil {
		return rates.Sample{}, &rates.FetchError{SourceID: s.id, URL: s.opts.URL, Err: err}
	}
	sample, err := s.parse(html, s.opts.URL, s.opts.Bounds)
	if err != nil {
		return sample, err
	}
	s.logger.Debug().
		Str("buying", sample.BuyingRate.Decimal.String()).
		Str("selling", sample.SellingRate.Decimal.String()).
		Msg("rates extracted")
	return sample, nil
}
