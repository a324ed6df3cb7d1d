package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"keeprates/internal/rates"
)

// JSONFields maps a provider's record keys onto rate roles. Empty keys are
// not read.
type JSONFields struct {
	List        string `mapstructure:"list"`
	Code        string `mapstructure:"code"`
	Buying      string `mapstructure:"buying"`
	Selling     string `mapstructure:"selling"`
	Telegraphic string `mapstructure:"telegraphic"`
	Indicative  string `mapstructure:"indicative"`
}

// DefaultJSONFields matches the common {"data":[{"currencyCode":"USD",...}]} shape.
var DefaultJSONFields = JSONFields{
	List:        "data",
	Code:        "currencyCode",
	Buying:      "buyingRate",
	Selling:     "sellingRate",
	Telegraphic: "ttBuyingRate",
}

// JSONOptions configure a JSON API source.
type JSONOptions struct {
	SourceOptions
	ID       string
	Currency string
	Fields   JSONFields
}

// JSONSource reads rates from a provider that publishes a JSON list of
// currency records.
type JSONSource struct {
	opts   JSONOptions
	client *PageClient
	logger zerolog.Logger
}

// NewJSONSource builds a JSON API extractor.
func NewJSONSource(opts JSONOptions, client *PageClient, logger zerolog.Logger) (*JSONSource, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("json source: id is required")
	}
	if opts.URL == "" {
		return nil, fmt.Errorf("json source %s: url is required", opts.ID)
	}
	opts.SourceOptions = opts.SourceOptions.withDefaults(opts.URL, 15*time.Second)
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.Fields.Code == "" {
		opts.Fields = DefaultJSONFields
	}
	return &JSONSource{
		opts:   opts,
		client: client,
		logger: logger.With().Str("component", "extractor").Str("source", opts.ID).Logger(),
	}, nil
}

// SourceID implements Extractor.
func (j *JSONSource) SourceID() string { return j.opts.ID }

// Extract implements Extractor.
func (j *JSONSource) Extract(ctx context.Context) (rates.Sample, error) {
	body, err := j.client.Get(ctx, j.opts.ID, j.opts.URL, "application/json", j.opts.Timeout)
	if err != nil {
		return rates.Sample{}, err
	}
	return parseJSONRates(body, j.opts)
}

func parseJSONRates(body []byte, opts JSONOptions) (rates.Sample, error) {
	records, err := decodeRecords(body, opts.Fields.List)
	if err != nil {
		return rates.Sample{}, &rates.ExtractionError{SourceID: opts.ID, Reason: err.Error()}
	}

	for _, rec := range records {
		if !strings.EqualFold(jsonString(rec[opts.Fields.Code]), opts.Currency) {
			continue
		}

		sample := rates.NewSample(opts.ID, opts.URL)
		assign := []struct {
			key string
			dst *decimal.NullDecimal
		}{
			{opts.Fields.Buying, &sample.BuyingRate},
			{opts.Fields.Selling, &sample.SellingRate},
			{opts.Fields.Telegraphic, &sample.TelegraphicBuyingRate},
			{opts.Fields.Indicative, &sample.IndicativeRate},
		}
		for _, a := range assign {
			if a.key == "" {
				continue
			}
			raw, ok := rec[a.key]
			if !ok {
				continue
			}
			v, err := jsonDecimal(raw)
			if err != nil {
				return rates.Sample{}, &rates.ExtractionError{
					SourceID: opts.ID,
					Reason:   fmt.Sprintf("field %s: %v", a.key, err),
				}
			}
			*a.dst = v
		}
		if !sample.HasAnyRate() {
			return rates.Sample{}, &rates.ExtractionError{SourceID: opts.ID, Reason: opts.Currency + " record has no rate fields"}
		}
		return opts.Bounds.Finalize(sample)
	}

	return rates.Sample{}, &rates.ExtractionError{SourceID: opts.ID, Reason: opts.Currency + " record not found"}
}

// decodeRecords accepts either a top-level array or an object holding the
// array under listKey.
func decodeRecords(body []byte, listKey string) ([]map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty response")
	}

	if trimmed[0] == '[' {
		var records []map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode list: %w", err)
		}
		return records, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	raw, ok := envelope[listKey]
	if !ok {
		return nil, fmt.Errorf("missing %q list", listKey)
	}
	var records []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", listKey, err)
	}
	return records, nil
}

func jsonString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// jsonDecimal reads a number or a numeric string; null yields an absent rate.
func jsonDecimal(raw json.RawMessage) (decimal.NullDecimal, error) {
	var v decimal.NullDecimal
	if err := json.Unmarshal(bytes.ReplaceAll(raw, []byte(","), nil), &v); err != nil {
		return decimal.NullDecimal{}, err
	}
	return v, nil
}

var _ Extractor = (*JSONSource)(nil)
