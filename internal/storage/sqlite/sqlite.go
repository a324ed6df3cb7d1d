package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"keeprates/internal/rates"
	"keeprates/internal/storage"
)

// Fixed-width UTC timestamps keep lexical order equal to time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a single-file backend for local runs and tests.
type Store struct {
	db *sql.DB
}

// New opens (and migrates) the database at path.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close releases the database handle.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// Ping checks the handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveSample appends one observation.
func (s *Store) SaveSample(ctx context.Context, sample rates.Sample) error {
	pair := sample.CurrencyPair
	if pair == "" {
		pair = rates.CurrencyPairUSDLKR
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchange_rates (
			source_code, currency_pair, buying_rate, selling_rate,
			telegraphic_buying_rate, indicative_rate, source_url,
			scraped_at, is_valid, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sample.SourceID,
		pair,
		decimalArg(sample.BuyingRate),
		decimalArg(sample.SellingRate),
		decimalArg(sample.TelegraphicBuyingRate),
		decimalArg(sample.IndicativeRate),
		sample.SourceURL,
		sample.ObservedAt.UTC().Format(timeLayout),
		sample.IsValid,
		now.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert exchange rate: %w", err)
	}
	return nil
}

// SaveBatchLog appends one scrape-log row.
func (s *Store) SaveBatchLog(ctx context.Context, log storage.BatchLog) error {
	var errMsg any
	if log.ErrorMessage != nil {
		errMsg = *log.ErrorMessage
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_logs (
			job_id, status, sources_total, rates_found,
			error_message, execution_time_ms, scraped_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		log.JobID,
		log.Status,
		log.SourcesTotal,
		log.RatesFound,
		errMsg,
		log.ExecutionTimeMs,
		log.ScrapedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert scrape log: %w", err)
	}
	return nil
}

const sampleColumns = `id, source_code, currency_pair, buying_rate, selling_rate,
	telegraphic_buying_rate, indicative_rate, source_url, scraped_at, is_valid, created_at`

// ListRecentSamples lists the most recent samples, newest first.
func (s *Store) ListRecentSamples(ctx context.Context, q storage.SampleQuery) ([]storage.StoredSample, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+sampleColumns+`
		FROM exchange_rates
		WHERE (? = '' OR source_code = ?)
		  AND (? OR is_valid)
		ORDER BY scraped_at DESC, id DESC
		LIMIT ?`,
		q.SourceID, q.SourceID, q.IncludeInvalid, q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent samples: %w", err)
	}
	defer rows.Close()
	return scanSamples(rows)
}

// ListSamplesBetween lists samples within [from, to), oldest first.
func (s *Store) ListSamplesBetween(ctx context.Context, from, to time.Time, q storage.SampleQuery) ([]storage.StoredSample, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sampleColumns+`
		FROM exchange_rates
		WHERE scraped_at >= ? AND scraped_at < ?
		  AND (? = '' OR source_code = ?)
		  AND (? OR is_valid)
		ORDER BY scraped_at, id`,
		from.UTC().Format(timeLayout), to.UTC().Format(timeLayout),
		q.SourceID, q.SourceID, q.IncludeInvalid,
	)
	if err != nil {
		return nil, fmt.Errorf("list samples between: %w", err)
	}
	defer rows.Close()
	return scanSamples(rows)
}

// ListRecentBatchLogs lists scrape logs, newest first.
func (s *Store) ListRecentBatchLogs(ctx context.Context, limit int) ([]storage.BatchLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(job_id, ''), status, sources_total, rates_found,
		       error_message, COALESCE(execution_time_ms, 0), scraped_at
		FROM scrape_logs
		ORDER BY scraped_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scrape logs: %w", err)
	}
	defer rows.Close()

	var logs []storage.BatchLog
	for rows.Next() {
		var (
			log       storage.BatchLog
			errMsg    sql.NullString
			scrapedAt string
		)
		if err := rows.Scan(&log.ID, &log.JobID, &log.Status, &log.SourcesTotal, &log.RatesFound, &errMsg, &log.ExecutionTimeMs, &scrapedAt); err != nil {
			return nil, err
		}
		if errMsg.Valid {
			msg := errMsg.String
			log.ErrorMessage = &msg
		}
		if log.ScrapedAt, err = time.Parse(timeLayout, scrapedAt); err != nil {
			return nil, fmt.Errorf("parse scraped_at: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// UpsertSource records or refreshes a catalog entry.
func (s *Store) UpsertSource(ctx context.Context, info storage.SourceInfo) error {
	if info.Name == "" {
		info.Name = info.Code
	}
	if info.DisplayName == "" {
		info.DisplayName = info.Name
	}
	if info.Kind == "" {
		info.Kind = "commercial"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (code, name, display_name, website_url, kind, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			website_url = excluded.website_url,
			is_active = excluded.is_active`,
		info.Code, info.Name, info.DisplayName, info.WebsiteURL, info.Kind, info.IsActive,
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert source %s: %w", info.Code, err)
	}
	return nil
}

// ListSources returns the catalog ordered by code.
func (s *Store) ListSources(ctx context.Context) ([]storage.SourceInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, display_name, COALESCE(website_url, ''), kind, is_active, created_at
		FROM sources ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []storage.SourceInfo
	for rows.Next() {
		var (
			info      storage.SourceInfo
			createdAt string
		)
		if err := rows.Scan(&info.Code, &info.Name, &info.DisplayName, &info.WebsiteURL, &info.Kind, &info.IsActive, &createdAt); err != nil {
			return nil, err
		}
		if info.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func scanSamples(rows *sql.Rows) ([]storage.StoredSample, error) {
	var out []storage.StoredSample
	for rows.Next() {
		var (
			rec                             storage.StoredSample
			buying, selling, tt, indicative sql.NullString
			scrapedAt, createdAt            string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Sample.SourceID,
			&rec.Sample.CurrencyPair,
			&buying,
			&selling,
			&tt,
			&indicative,
			&rec.Sample.SourceURL,
			&scrapedAt,
			&rec.Sample.IsValid,
			&createdAt,
		); err != nil {
			return nil, err
		}

		var err error
		if rec.Sample.ObservedAt, err = time.Parse(timeLayout, scrapedAt); err != nil {
			return nil, fmt.Errorf("parse scraped_at: %w", err)
		}
		if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		for _, f := range []struct {
			raw sql.NullString
			dst *decimal.NullDecimal
		}{
			{buying, &rec.Sample.BuyingRate},
			{selling, &rec.Sample.SellingRate},
			{tt, &rec.Sample.TelegraphicBuyingRate},
			{indicative, &rec.Sample.IndicativeRate},
		} {
			if !f.raw.Valid {
				continue
			}
			v, err := decimal.NewFromString(f.raw.String)
			if err != nil {
				return nil, fmt.Errorf("parse rate: %w", err)
			}
			*f.dst = decimal.NewNullDecimal(v)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func decimalArg(v decimal.NullDecimal) any {
	if !v.Valid {
		return nil
	}
	return v.Decimal.String()
}

func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			display_name TEXT NOT NULL,
			website_url TEXT,
			kind TEXT NOT NULL DEFAULT 'commercial',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS exchange_rates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_code TEXT NOT NULL,
			currency_pair TEXT NOT NULL DEFAULT 'USD/LKR',
			buying_rate TEXT,
			selling_rate TEXT,
			telegraphic_buying_rate TEXT,
			indicative_rate TEXT,
			source_url TEXT NOT NULL DEFAULT '',
			scraped_at TEXT NOT NULL,
			is_valid INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS exchange_rates_source_scraped_idx ON exchange_rates (source_code, scraped_at);`,
		`CREATE TABLE IF NOT EXISTS scrape_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT,
			status TEXT NOT NULL,
			sources_total INTEGER NOT NULL DEFAULT 0,
			rates_found INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			execution_time_ms INTEGER,
			scraped_at TEXT NOT NULL
		);`,
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return err
		}
	}

	return nil
}

var _ storage.Backend = (*Store)(nil)
