package fetcher

import (
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"keeprates/internal/rates"
)

const (
	// SampathID identifies Sampath Bank.
	SampathID         = "sampath"
	sampathDefaultURL = "https://www.sampath.lk/rates-and-charges?activeTab=exchange-rates"
)

var (
	sampathRowPhrases  = []string{"usd", "u.s. dollar", "us dollar"}
	sampathSkipPhrases = []string{"avg.bal", "interest", "bonus"}
	sampathDecimal     = regexp.MustCompile(`(\d{2,3}\.\d{1,4})`)
	sampathWhole       = regexp.MustCompile(`\b(\d{3})\b`)
	sampathWindow      = numberRange{Min: decimal.NewFromInt(200), Max: decimal.NewFromInt(500)}
)

// NewSampath builds the Sampath extractor. The exchange tab lazy-loads, so the
// render pass scrolls before snapshotting.
func NewSampath(opts SourceOptions, renderer Renderer, logger zerolog.Logger) Extractor {
	opts = opts.withDefaults(sampathDefaultURL, 15*time.Second)
	return &renderedSource{
		id:       SampathID,
		opts:     opts,
		renderer: renderer,
		waitFor:  "table",
		scroll:   true,
		parse:    parseSampath,
		logger:   logger.With().Str("component", "extractor").Str("source", SampathID).Logger(),
	}
}

// parseSampath reads the USD row of the exchange tab:
//
//	T/T buying | O/D buying | T/T selling
//
// Sampath quotes no cash column, so the T/T buying rate doubles as the buying
// rate. Deposit-rate tables on the same page also mention USD and are skipped.
func parseSampath(html, url string, bounds rates.Bounds) (rates.Sample, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return rates.Sample{}, &rates.ExtractionError{SourceID: SampathID, Reason: fmt.Sprintf("parse html: %v", err)}
	}

	for _, row := range tableRows(doc, "td") {
		if !mentions(row.Text, sampathRowPhrases, sampathSkipPhrases) {
			continue
		}

		var tokens []decimal.Decimal
		for _, cell := range row.Cells {
			if v, ok := firstMatch(cell, sampathWindow, sampathDecimal, sampathWhole); ok {
				tokens = append(tokens, v)
			}
		}

		sample := rates.NewSample(SampathID, url)
		switch {
		case len(tokens) >= 3:
			sample.BuyingRate = rates.Rate(tokens[0])
			sample.SellingRate = rates.Rate(tokens[2])
			sample.TelegraphicBuyingRate = rates.Rate(tokens[0])
		case len(tokens) == 2:
			sample.BuyingRate = rates.Rate(tokens[0])
			sample.SellingRate = rates.Rate(tokens[1])
			sample.TelegraphicBuyingRate = rates.Rate(tokens[0])
		default:
			continue
		}
		return bounds.Finalize(sample)
	}

	return rates.Sample{}, &rates.ExtractionError{SourceID: SampathID, Reason: "USD row with at least two rates not found"}
}
