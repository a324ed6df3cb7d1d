package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"keeprates/internal/metrics"
	"keeprates/internal/rates"
)

// ScrapeOptions configure a one-shot scrape.
type ScrapeOptions struct {
	Sources []string
	JSON    bool
	Out     io.Writer
}

// Scrape runs one batch in the foreground and prints the outcome. It fails
// only when every source failed.
func (a *App) Scrape(ctx context.Context, opts ScrapeOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	deps := serviceDeps{metrics: metrics.New(), publisher: a.newPublisher()}
	if store != nil {
		deps.store = store
		a.syncCatalog(ctx, store)
	} else {
		a.Logger.Warn().Msg("database not configured; results will not be persisted")
	}
	if deps.publisher != nil {
		defer deps.publisher.Close()
	}

	svc, err := a.newService(deps)
	if err != nil {
		return err
	}

	var batch rates.BatchResult
	if len(opts.Sources) > 0 {
		batch, err = svc.ScrapeSources(ctx, opts.Sources)
		if err != nil {
			return err
		}
	} else {
		batch = svc.ScrapeAll(ctx)
	}

	if opts.JSON {
		enc := json.NewEncoder(opts.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(batch); err != nil {
			return err
		}
	} else if err := printBatch(opts.Out, batch); err != nil {
		return err
	}

	if batch.TotalSources > 0 && batch.Succeeded == 0 {
		return fmt.Errorf("all %d sources failed", batch.TotalSources)
	}
	return nil
}

func printBatch(out io.Writer, batch rates.BatchResult) error {
	fmt.Fprintf(out, "job %s: %s (%d/%d succeeded in %s)\n\n",
		batch.JobID, batch.Status(), batch.Succeeded, batch.TotalSources, batch.Elapsed.Round(time.Millisecond))

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Source\tResult\tAttempts\tBuy\tSell\tTT Buy\tIndicative\tSaved\tError")
	for _, r := range batch.Results {
		outcome := "ok"
		buy, sell, tt, ind := "-", "-", "-", "-"
		if r.Succeeded && r.Sample != nil {
			buy = formatRate(r.Sample.BuyingRate)
			sell = formatRate(r.Sample.SellingRate)
			tt = formatRate(r.Sample.TelegraphicBuyingRate)
			ind = formatRate(r.Sample.IndicativeRate)
		} else {
			outcome = r.ErrorKind
		}
		fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%t\t%s\n",
			r.SourceID, outcome, r.Attempts, buy, sell, tt, ind, r.Persisted, sanitizeInline(r.Error))
	}
	return writer.Flush()
}
