package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"keeprates/internal/storage"
)

const defaultExportSpan = 30 * 24 * time.Hour

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From           *time.Time
	To             *time.Time
	CSVPath        string
	SourceID       string
	IncludeInvalid bool
}

// Export writes samples within [from, to) as CSV. The window defaults to the
// last 30 days.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" {
		return errors.New("--csv must be provided")
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportSpan)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	samples, err := store.ListSamplesBetween(ctx, from, to, storage.SampleQuery{
		SourceID:       opts.SourceID,
		IncludeInvalid: opts.IncludeInvalid,
	})
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Time("from", from).Time("to", to).Msg("no samples found for export window")
		return nil
	}

	a.Logger.Info().Int("samples", len(samples)).Str("path", opts.CSVPath).Msg("exporting samples")
	return writeSamplesCSV(opts.CSVPath, samples)
}

func writeSamplesCSV(path string, samples []storage.StoredSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"scraped_at", "source_code", "currency_pair", "buying_rate", "selling_rate", "telegraphic_buying_rate", "indicative_rate", "is_valid", "source_url"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range samples {
		s := rec.Sample
		record := []string{
			s.ObservedAt.UTC().Format(time.RFC3339),
			s.SourceID,
			s.CurrencyPair,
			csvRate(s.BuyingRate),
			csvRate(s.SellingRate),
			csvRate(s.TelegraphicBuyingRate),
			csvRate(s.IndicativeRate),
			boolString(s.IsValid),
			s.SourceURL,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func csvRate(v decimal.NullDecimal) string {
	if !v.Valid {
		return ""
	}
	return v.Decimal.String()
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
