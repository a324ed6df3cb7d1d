package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"keeprates/internal/rates"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertSampleSQL = `INSERT INTO exchange_rates (
        source_code,
        currency_pair,
        buying_rate,
        selling_rate,
        telegraphic_buying_rate,
        indicative_rate,
        source_url,
        scraped_at,
        is_valid
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    );`

	sampleColumns = `id,
        source_code,
        currency_pair,
        buying_rate::text,
        selling_rate::text,
        telegraphic_buying_rate::text,
        indicative_rate::text,
        COALESCE(source_url, ''),
        scraped_at,
        is_valid,
        created_at`

	listRecentSamplesSQL = `SELECT ` + sampleColumns + `
    FROM exchange_rates
    WHERE ($1 = '' OR source_code = $1)
      AND ($2 OR is_valid)
    ORDER BY scraped_at DESC, id DESC
    LIMIT $3;`

	listSamplesBetweenSQL = `SELECT ` + sampleColumns + `
    FROM exchange_rates
    WHERE scraped_at >= $1
      AND scraped_at < $2
      AND ($3 = '' OR source_code = $3)
      AND ($4 OR is_valid)
    ORDER BY scraped_at, id;`

	insertBatchLogSQL = `INSERT INTO scrape_logs (
        job_id,
        status,
        sources_total,
        rates_found,
        error_message,
        execution_time_ms,
        scraped_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    );`

	listRecentBatchLogsSQL = `SELECT
        id,
        COALESCE(job_id, ''),
        status,
        sources_total,
        rates_found,
        error_message,
        COALESCE(execution_time_ms, 0),
        scraped_at
    FROM scrape_logs
    ORDER BY scraped_at DESC, id DESC
    LIMIT $1;`

	upsertSourceSQL = `INSERT INTO sources (
        code,
        name,
        display_name,
        website_url,
        kind,
        is_active
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (code) DO UPDATE
    SET website_url = EXCLUDED.website_url,
        is_active   = EXCLUDED.is_active;`

	listSourcesSQL = `SELECT code, name, display_name, COALESCE(website_url, ''), kind, is_active, created_at
    FROM sources
    ORDER BY code;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RateStore is the persistence sink used by the scraping service. Inserts are
// append-only so concurrent sources never coordinate.
type RateStore interface {
	SaveSample(ctx context.Context, sample rates.Sample) error
	SaveBatchLog(ctx context.Context, log BatchLog) error
}

// SampleReader lists persisted samples and scrape logs.
type SampleReader interface {
	ListRecentSamples(ctx context.Context, q SampleQuery) ([]StoredSample, error)
	ListSamplesBetween(ctx context.Context, from, to time.Time, q SampleQuery) ([]StoredSample, error)
	ListRecentBatchLogs(ctx context.Context, limit int) ([]BatchLog, error)
}

// SourceCatalog keeps the descriptive sources table in sync.
type SourceCatalog interface {
	UpsertSource(ctx context.Context, info SourceInfo) error
	ListSources(ctx context.Context) ([]SourceInfo, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Backend is everything a concrete store offers.
type Backend interface {
	RateStore
	SampleReader
	SourceCatalog
	Ping(ctx context.Context) error
	Close()
}

// Store is the PostgreSQL backend.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// SaveSample appends one observation.
func (s *Store) SaveSample(ctx context.Context, sample rates.Sample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertSampleSQL,
		sample.SourceID,
		currencyPair(sample),
		decimalArg(sample.BuyingRate),
		decimalArg(sample.SellingRate),
		decimalArg(sample.TelegraphicBuyingRate),
		decimalArg(sample.IndicativeRate),
		nullableString(sample.SourceURL),
		sample.ObservedAt.UTC(),
		sample.IsValid,
	)
	if execErr != nil {
		return fmt.Errorf("insert exchange rate: %w", execErr)
	}
	return nil
}

// SaveBatchLog appends one scrape-log row.
func (s *Store) SaveBatchLog(ctx context.Context, log BatchLog) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if log.ErrorMessage != nil {
		errMsg = *log.ErrorMessage
	}

	if _, execErr := pool.Exec(ctx, insertBatchLogSQL,
		nullableString(log.JobID),
		log.Status,
		log.SourcesTotal,
		log.RatesFound,
		errMsg,
		log.ExecutionTimeMs,
		log.ScrapedAt.UTC(),
	); execErr != nil {
		return fmt.Errorf("insert scrape log: %w", execErr)
	}
	return nil
}

// ListRecentSamples lists the most recent samples, newest first.
func (s *Store) ListRecentSamples(ctx context.Context, q SampleQuery) ([]StoredSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, q.SourceID, q.IncludeInvalid, q.Limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, q.Limit)
}

// ListSamplesBetween lists samples within [from, to), oldest first.
func (s *Store) ListSamplesBetween(ctx context.Context, from, to time.Time, q SampleQuery) ([]StoredSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, from.UTC(), to.UTC(), q.SourceID, q.IncludeInvalid)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, 0)
}

// ListRecentBatchLogs lists scrape logs, newest first.
func (s *Store) ListRecentBatchLogs(ctx context.Context, limit int) ([]BatchLog, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentBatchLogsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list scrape logs: %w", queryErr)
	}
	defer rows.Close()

	logs := make([]BatchLog, 0, limit)
	for rows.Next() {
		var log BatchLog
		if err := rows.Scan(
			&log.ID,
			&log.JobID,
			&log.Status,
			&log.SourcesTotal,
			&log.RatesFound,
			&log.ErrorMessage,
			&log.ExecutionTimeMs,
			&log.ScrapedAt,
		); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return logs, nil
}

// UpsertSource records or refreshes a catalog entry. Names set by the seed
// migration are preserved.
func (s *Store) UpsertSource(ctx context.Context, info SourceInfo) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	info = info.withDefaults()
	if _, execErr := pool.Exec(ctx, upsertSourceSQL,
		info.Code,
		info.Name,
		info.DisplayName,
		nullableString(info.WebsiteURL),
		info.Kind,
		info.IsActive,
	); execErr != nil {
		return fmt.Errorf("upsert source %s: %w", info.Code, execErr)
	}
	return nil
}

// ListSources returns the catalog ordered by code.
func (s *Store) ListSources(ctx context.Context) ([]SourceInfo, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listSourcesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list sources: %w", queryErr)
	}
	defer rows.Close()

	var out []SourceInfo
	for rows.Next() {
		var info SourceInfo
		if err := rows.Scan(&info.Code, &info.Name, &info.DisplayName, &info.WebsiteURL, &info.Kind, &info.IsActive, &info.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func collectSamples(rows pgx.Rows, capHint int) ([]StoredSample, error) {
	samples := make([]StoredSample, 0, capHint)
	for rows.Next() {
		var (
			rec                             StoredSample
			buying, selling, tt, indicative *string
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
			&rec.Sample.ObservedAt,
			&rec.Sample.IsValid,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := fillRates(&rec.Sample, buying, selling, tt, indicative); err != nil {
			return nil, err
		}
		samples = append(samples, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func fillRates(s *rates.Sample, buying, selling, tt, indicative *string) error {
	for _, f := range []struct {
		name string
		raw  *string
		dst  *decimal.NullDecimal
	}{
		{"buying rate", buying, &s.BuyingRate},
		{"selling rate", selling, &s.SellingRate},
		{"telegraphic buying rate", tt, &s.TelegraphicBuyingRate},
		{"indicative rate", indicative, &s.IndicativeRate},
	} {
		v, err := parseNullDecimal(f.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = v
	}
	return nil
}

func parseNullDecimal(raw *string) (decimal.NullDecimal, error) {
	if raw == nil || *raw == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(*raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

// decimalArg renders an optional rate as a query argument; absent rates are NULL.
func decimalArg(v decimal.NullDecimal) interface{} {
	if !v.Valid {
		return nil
	}
	return v.Decimal.String()
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func currencyPair(s rates.Sample) string {
	if s.CurrencyPair == "" {
		return rates.CurrencyPairUSDLKR
	}
	return s.CurrencyPair
}

func (i SourceInfo) withDefaults() SourceInfo {
	if i.Name == "" {
		i.Name = i.Code
	}
	if i.DisplayName == "" {
		i.DisplayName = i.Name
	}
	if i.Kind == "" {
		i.Kind = "commercial"
	}
	return i
}

var (
	_ Backend        = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
