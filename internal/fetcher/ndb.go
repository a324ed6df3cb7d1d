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
	// NDBID identifies National Development Bank.
	NDBID         = "ndb"
	ndbDefaultURL = "https://www.ndbbank.com/rates/exchange-rates"
)

var (
	ndbRowPhrases = []string{"us dollar", "usd", "dollar"}
	ndbCellRate   = regexp.MustCompile(`(\d{2,3}\.\d{2})`)
	ndbWindow     = numberRange{Min: decimal.NewFromInt(200), Max: decimal.NewFromInt(500)}
)

// NewNDB builds the NDB extractor.
func NewNDB(opts SourceOptions, renderer Renderer, logger zerolog.Logger) Extractor {
	opts = opts.withDefaults(ndbDefaultURL, 15*time.Second)
	return &renderedSource{
		id:       NDBID,
		opts:     opts,
		renderer: renderer,
		waitFor:  "table",
		parse:    parseNDB,
		logger:   logger.With().Str("component", "extractor").Str("source", NDBID).Logger(),
	}
}

// parseNDB reads the first dollar row. NDB publishes six rate columns:
//
//	currency buying | currency selling | draft buying | draft selling | TT buying | TT selling
//
// The first row mentioning the dollar is authoritative; if it is short the
// page layout changed and the attempt fails rather than guessing another row.
func parseNDB(html, url string, bounds rates.Bounds) (rates.Sample, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return rates.Sample{}, &rates.ExtractionError{SourceID: NDBID, Reason: fmt.Sprintf("parse html: %v", err)}
	}

	for _, row := range tableRows(doc, "td") {
		if !mentions(row.Text, ndbRowPhrases, nil) {
			continue
		}

		var tokens []decimal.Decimal
		for _, cell := range row.Cells {
			if v, ok := firstMatch(cell, ndbWindow, ndbCellRate); ok {
				tokens = append(tokens, v)
			}
		}
		if len(tokens) < 6 {
			return rates.Sample{}, &rates.ExtractionError{
				SourceID: NDBID,
				Reason:   fmt.Sprintf("dollar row has %d rates, want 6", len(tokens)),
			}
		}

		sample := rates.NewSample(NDBID, url)
		sample.BuyingRate = rates.Rate(tokens[0])
		sample.SellingRate = rates.Rate(tokens[1])
		sample.TelegraphicBuyingRate = rates.Rate(tokens[4])
		return bounds.Finalize(sample)
	}

	return rates.Sample{}, &rates.ExtractionError{SourceID: NDBID, Reason: "dollar row not found"}
}
