package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"keeprates/internal/storage"
)

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit          int
	SourceID       string
	IncludeInvalid bool
	Logs           bool
	Out            io.Writer
}

// Show prints recent samples, or recent scrape logs with Logs set.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Logs {
		logs, err := store.ListRecentBatchLogs(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return writeBatchLogs(opts.Out, logs)
	}

	samples, err := store.ListRecentSamples(ctx, storage.SampleQuery{
		SourceID:       opts.SourceID,
		IncludeInvalid: opts.IncludeInvalid,
		Limit:          opts.Limit,
	})
	if err != nil {
		return err
	}
	return writeSamples(opts.Out, samples)
}

func writeSamples(out io.Writer, samples []storage.StoredSample) error {
	if len(samples) == 0 {
		fmt.Fprintln(out, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSource\tBuy\tSell\tTT Buy\tIndicative\tValid")
	for _, rec := range samples {
		s := rec.Sample
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			s.ObservedAt.UTC().Format(time.RFC3339),
			s.SourceID,
			formatRate(s.BuyingRate),
			formatRate(s.SellingRate),
			formatRate(s.TelegraphicBuyingRate),
			formatRate(s.IndicativeRate),
			s.IsValid,
		)
	}
	return writer.Flush()
}

func writeBatchLogs(out io.Writer, logs []storage.BatchLog) error {
	if len(logs) == 0 {
		fmt.Fprintln(out, "no scrape logs found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tJob\tStatus\tFound\tTotal\tDuration\tError")
	for _, log := range logs {
		errMsg := ""
		if log.ErrorMessage != nil {
			errMsg = sanitizeInline(*log.ErrorMessage)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%d\t%dms\t%s\n",
			log.ScrapedAt.UTC().Format(time.RFC3339),
			log.JobID,
			log.Status,
			log.RatesFound,
			log.SourcesTotal,
			log.ExecutionTimeMs,
			errMsg,
		)
	}
	return writer.Flush()
}

func formatRate(v decimal.NullDecimal) string {
	if !v.Valid {
		return "-"
	}
	return v.Decimal.StringFixed(4)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
