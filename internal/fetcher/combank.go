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
	// CombankID identifies Commercial Bank of Ceylon.
	CombankID         = "combank"
	combankDefaultURL = "https://www.combank.lk/rates-tariff#exchange-rates"
)

var (
	combankRowPhrases = []string{"usd", "us dollar", "united states"}
	combankNumberCell = regexp.MustCompile(`^\d+\.?\d*$`)
	combankWindow     = numberRange{Min: decimal.NewFromInt(100), Max: decimal.NewFromInt(500), Exclusive: true}
)

// NewCombank builds the Commercial Bank extractor. The rates table is rendered
// client-side, so it needs a browser renderer.
func NewCombank(opts SourceOptions, renderer Renderer, logger zerolog.Logger) Extractor {
	opts = opts.withDefaults(combankDefaultURL, 30*time.Second)
	return &renderedSource{
		id:       CombankID,
		opts:     opts,
		renderer: renderer,
		waitFor:  "table",
		parse:    parseCombank,
		logger:   logger.With().Str("component", "extractor").Str("source", CombankID).Logger(),
	}
}

// parseCombank reads the USD row of the exchange-rates table. Observed layout,
// left to right after the currency label:
//
//	currency buying | currency selling | cheque buying | cheque selling | TT buying | TT selling
//
// Only cells that are entirely numeric count, so the "USD" label and any
// footnote markers are skipped. Older layouts only carried the first pair.
func parseCombank(html, url string, bounds rates.Bounds) (rates.Sample, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return rates.Sample{}, &rates.ExtractionError{SourceID: CombankID, Reason: fmt.Sprintf("parse html: %v", err)}
	}

	for _, row := range tableRows(doc, "td, th") {
		if !mentions(row.Text, combankRowPhrases, nil) {
			continue
		}

		var tokens []decimal.Decimal
		for _, cell := range row.Cells {
			raw := stripCommas(cell)
			if !combankNumberCell.MatchString(raw) {
				continue
			}
			if v, ok := parseNumber(raw); ok && combankWindow.contains(v) {
				tokens = append(tokens, v)
			}
		}

		sample := rates.NewSample(CombankID, url)
		switch {
		case len(tokens) >= 6:
			sample.BuyingRate = rates.Rate(tokens[0])
			sample.SellingRate = rates.Rate(tokens[1])
			sample.TelegraphicBuyingRate = rates.Rate(tokens[4])
		case len(tokens) >= 2:
			sample.BuyingRate = rates.Rate(tokens[0])
			sample.SellingRate = rates.Rate(tokens[1])
		default:
			continue
		}
		return bounds.Finalize(sample)
	}

	return rates.Sample{}, &rates.ExtractionError{SourceID: CombankID, Reason: "USD row with at least two rates not found"}
}
