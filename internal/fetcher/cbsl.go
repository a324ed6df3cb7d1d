package fetcher

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"keeprates/internal/rates"
)

const (
	// CBSLID identifies the Central Bank of Sri Lanka.
	CBSLID         = "cbsl"
	cbslDefaultURL = "https://www.cbsl.gov.lk/"
)

var (
	cbslTTBuy      = regexp.MustCompile(`(?i)TT\s*Buy[\s\S]{0,50}?(\d{2,3}\.\d{2,4})`)
	cbslTTSell     = regexp.MustCompile(`(?i)TT\s*Sell[\s\S]{0,50}?(\d{2,3}\.\d{2,4})`)
	cbslIndicative = regexp.MustCompile(`(?i)Indicative\s+Rate[\s\S]{0,100}?(\d{2,3}\.\d{2,4})`)
	cbslFallback   = regexp.MustCompile(`(?i)Exchange\s+Rate\s+USD/LKR[\s\S]{0,300}?(\d{2,3}\.\d{2,4})[\s\S]{0,100}?(\d{2,3}\.\d{2,4})`)
	cbslWindow     = numberRange{Min: decimal.NewFromInt(250), Max: decimal.NewFromInt(400)}
)

// CBSL reads the central bank's landing page, which is server rendered.
type CBSL struct {
	opts   SourceOptions
	client *PageClient
	logger zerolog.Logger
}

// NewCBSL builds the CBSL extractor.
func NewCBSL(opts SourceOptions, client *PageClient, logger zerolog.Logger) *CBSL {
	return &CBSL{
		opts:   opts.withDefaults(cbslDefaultURL, 15*time.Second),
		client: client,
		logger: logger.With().Str("component", "extractor").Str("source", CBSLID).Logger(),
	}
}

// SourceID implements Extractor.
func (c *CBSL) SourceID() string { return CBSLID }

// Extract implements Extractor.
func (c *CBSL) Extract(ctx context.Context) (rates.Sample, error) {
	body, err := c.client.Get(ctx, CBSLID, c.opts.URL, "text/html", c.opts.Timeout)
	if err != nil {
		return rates.Sample{}, err
	}
	sample, err := parseCBSL(string(body), c.opts.URL, c.opts.Bounds)
	var extractErr *rates.ExtractionError
	if errors.As(err, &extractErr) {
		c.logger.Debug().Str("body", bodySnippet(string(body))).Msg("rate anchors missing")
	}
	return sample, err
}

// parseCBSL finds numbers that follow the "TT Buy" / "TT Sell" labels of the
// rates widget. When the widget is missing the labels, it falls back to the
// first two numbers after the "Exchange Rate USD/LKR" heading, lower one first.
func parseCBSL(html, url string, bounds rates.Bounds) (rates.Sample, error) {
	text := html
	if doc, err := parseDocument(html); err == nil {
		text = normalizeSpace(doc.Find("body").Text())
		if text == "" {
			text = normalizeSpace(doc.Text())
		}
	}

	buy, okBuy := firstMatch(text, cbslWindow, cbslTTBuy)
	sell, okSell := firstMatch(text, cbslWindow, cbslTTSell)
	if !okBuy || !okSell {
		var okFallback bool
		buy, sell, okFallback = cbslFallbackPair(text)
		if !okFallback {
			return rates.Sample{}, &rates.ExtractionError{SourceID: CBSLID, Reason: "TT buy/sell rates not found"}
		}
	}

	sample := rates.NewSample(CBSLID, url)
	sample.BuyingRate = rates.Rate(buy)
	sample.SellingRate = rates.Rate(sell)
	sample.TelegraphicBuyingRate = rates.Rate(buy)
	if v, ok := firstMatch(text, cbslWindow, cbslIndicative); ok {
		sample.IndicativeRate = rates.Rate(v)
	}
	return bounds.Finalize(sample)
}

func cbslFallbackPair(text string) (decimal.Decimal, decimal.Decimal, bool) {
	m := cbslFallback.FindStringSubmatch(text)
	if len(m) < 3 {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	a, okA := parseNumber(m[1])
	b, okB := parseNumber(m[2])
	if !okA || !okB || !cbslWindow.contains(a) || !cbslWindow.contains(b) {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	if a.GreaterThan(b) {
		a, b = b, a
	}
	return a, b, true
}

// bodySnippet is used in debug logs when the anchors are missing.
func bodySnippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > 160 {
		return text[:160]
	}
	return text
}

var _ Extractor = (*CBSL)(nil)
