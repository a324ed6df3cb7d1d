package rates

import (
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyPairUSDLKR is the only pair the scrapers currently observe.
const CurrencyPairUSDLKR = "USD/LKR"

// Sample is one observation of a source's USD/LKR quote.
type Sample struct {
	SourceID              string              `json:"source_id"`
	CurrencyPair          string              `json:"currency_pair"`
	BuyingRate            decimal.NullDecimal `json:"buying_rate"`
	SellingRate           decimal.NullDecimal `json:"selling_rate"`
	TelegraphicBuyingRate decimal.NullDecimal `json:"telegraphic_buying_rate"`
	IndicativeRate        decimal.NullDecimal `json:"indicative_rate"`
	ObservedAt            time.Time           `json:"observed_at"`
	SourceURL             string              `json:"source_url,omitempty"`
	IsValid               bool                `json:"is_valid"`
}

// NewSample returns a USD/LKR sample stamped with the current UTC time.
func NewSample(sourceID, sourceURL string) Sample {
	return Sample{
		SourceID:     sourceID,
		CurrencyPair: CurrencyPairUSDLKR,
		ObservedAt:   time.Now().UTC(),
		SourceURL:    sourceURL,
	}
}

// Rate wraps a decimal as a populated optional rate.
func Rate(v decimal.Decimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(v)
}

// HasAnyRate reports whether at least one rate field is populated.
func (s Sample) HasAnyRate() bool {
	return s.BuyingRate.Valid || s.SellingRate.Valid || s.TelegraphicBuyingRate.Valid || s.IndicativeRate.Valid
}

// Fields lists populated rate fields by column name, in a stable order.
func (s Sample) Fields() []NamedRate {
	out := make([]NamedRate, 0, 4)
	for _, f := range []NamedRate{
		{Name: "buying_rate", Value: s.BuyingRate},
		{Name: "selling_rate", Value: s.SellingRate},
		{Name: "telegraphic_buying_rate", Value: s.TelegraphicBuyingRate},
		{Name: "indicative_rate", Value: s.IndicativeRate},
	} {
		if f.Value.Valid {
			out = append(out, f)
		}
	}
	return out
}

// NamedRate pairs a rate field with its column name.
type NamedRate struct {
	Name  string
	Value decimal.NullDecimal
}
