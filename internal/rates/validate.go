package rates

import (
	"github.com/shopspring/decimal"
)

// Bounds holds the plausibility limits applied to every sample.
type Bounds struct {
	MinRate   decimal.Decimal
	MaxRate   decimal.Decimal
	MinSpread decimal.Decimal
	MaxSpread decimal.Decimal
}

// DefaultBounds are the USD/LKR limits: rates in [100, 500], spread in [0.1, 20].
var DefaultBounds = Bounds{
	MinRate:   decimal.NewFromInt(100),
	MaxRate:   decimal.NewFromInt(500),
	MinSpread: decimal.RequireFromString("0.1"),
	MaxSpread: decimal.NewFromInt(20),
}

// ValidateRate checks v against DefaultBounds.
func ValidateRate(v decimal.Decimal) bool {
	return DefaultBounds.ValidateRate(v)
}

// ValidateSpread checks buy/sell against DefaultBounds.
func ValidateSpread(buy, sell decimal.NullDecimal) bool {
	return DefaultBounds.ValidateSpread(buy, sell)
}

// ValidateRate reports whether MinRate <= v <= MaxRate.
func (b Bounds) ValidateRate(v decimal.Decimal) bool {
	return v.GreaterThanOrEqual(b.MinRate) && v.LessThanOrEqual(b.MaxRate)
}

// ValidateSpread reports whether |sell-buy| is within the spread limits.
// A missing side cannot be checked and passes.
func (b Bounds) ValidateSpread(buy, sell decimal.NullDecimal) bool {
	if !buy.Valid || !sell.Valid {
		return true
	}
	spread := sell.Decimal.Sub(buy.Decimal).Abs()
	return spread.GreaterThanOrEqual(b.MinSpread) && spread.LessThanOrEqual(b.MaxSpread)
}

// Validate returns a *ValidationError describing the first violation, or nil.
func (b Bounds) Validate(s Sample) error {
	fields := s.Fields()
	if len(fields) == 0 {
		return &ValidationError{SourceID: s.SourceID, Reason: "no rate populated"}
	}
	for _, f := range fields {
		if !b.ValidateRate(f.Value.Decimal) {
			return &ValidationError{
				SourceID: s.SourceID,
				Field:    f.Name,
				Value:    f.Value.Decimal.String(),
				Reason:   "outside [" + b.MinRate.String() + ", " + b.MaxRate.String() + "]",
			}
		}
	}
	if !b.ValidateSpread(s.BuyingRate, s.SellingRate) {
		spread := s.SellingRate.Decimal.Sub(s.BuyingRate.Decimal).Abs()
		return &ValidationError{
			SourceID: s.SourceID,
			Field:    "spread",
			Value:    spread.String(),
			Reason:   "outside [" + b.MinSpread.String() + ", " + b.MaxSpread.String() + "]",
		}
	}
	return nil
}

// Finalize stamps IsValid on s and returns the violation, if any.
// The sample is returned either way so callers may keep invalid observations.
func (b Bounds) Finalize(s Sample) (Sample, error) {
	err := b.Validate(s)
	s.IsValid = err == nil
	return s, err
}

// Finalize applies DefaultBounds.
func Finalize(s Sample) (Sample, error) {
	return DefaultBounds.Finalize(s)
}

// IsZero reports whether the bounds were left unset.
func (b Bounds) IsZero() bool {
	return b.MinRate.IsZero() && b.MaxRate.IsZero() && b.MinSpread.IsZero() && b.MaxSpread.IsZero()
}

// OrDefault returns b, or DefaultBounds when b is unset.
func (b Bounds) OrDefault() Bounds {
	if b.IsZero() {
		return DefaultBounds
	}
	return b
}
