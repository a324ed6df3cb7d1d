package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"keeprates/internal/fetcher"
	"keeprates/internal/storage"
)

// SourcesOptions configure the sources command.
type SourcesOptions struct {
	// Catalog lists the persisted sources table instead of the configuration.
	Catalog bool
	Out     io.Writer
}

// Sources lists the configured extractors, or the stored catalog.
func (a *App) Sources(ctx context.Context, opts SourcesOptions) error {
	if opts.Catalog {
		store, closeStore, err := a.requireStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		infos, err := store.ListSources(ctx)
		if err != nil {
			return err
		}
		return writeCatalog(opts.Out, infos)
	}

	writer := tabwriter.NewWriter(opts.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tName\tKind\tAttempts\tTimeout\tURL")
	for _, id := range a.Config.EnabledSources() {
		src := a.Config.Sources[id]
		attempts, _ := a.Config.ResolveAttempts(id)
		kind := src.Kind
		if kind == "" {
			kind = "builtin"
		}
		url := src.URL
		if url == "" {
			url = fetcher.DefaultURL(id)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\t%s\n", id, src.Name, kind, attempts, src.Timeout, url)
	}
	return writer.Flush()
}

func writeCatalog(out io.Writer, infos []storage.SourceInfo) error {
	if len(infos) == 0 {
		fmt.Fprintln(out, "no sources recorded")
		return nil
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Code\tName\tKind\tActive\tSince\tURL")
	for _, info := range infos {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%t\t%s\t%s\n",
			info.Code, info.Name, info.Kind, info.IsActive, info.CreatedAt.UTC().Format(time.DateOnly), info.WebsiteURL)
	}
	return writer.Flush()
}
