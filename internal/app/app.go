package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"keeprates/internal/config"
	"keeprates/internal/events"
	"keeprates/internal/fetcher"
	"keeprates/internal/metrics"
	"keeprates/internal/rates"
	"keeprates/internal/ratelimit"
	"keeprates/internal/retry"
	"keeprates/internal/scheduler"
	"keeprates/internal/service"
	"keeprates/internal/storage"
	"keeprates/internal/storage/sqlite"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// openStore returns nil without error when postgres is selected but no DSN is set.
func (a *App) openStore(ctx context.Context) (storage.Backend, func(), error) {
	db := a.Config.Database
	if db.Driver == config.DriverSQLite {
		store, err := sqlite.New(db.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, store.Close, nil
	}

	if db.DSN == "" {
		return nil, nil, nil
	}
	pool, err := storage.NewPool(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	store := storage.NewStore(pool)
	return store, store.Close, nil
}

func (a *App) requireStore(ctx context.Context) (storage.Backend, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, fmt.Errorf("database not configured; set database.dsn or database.driver=sqlite")
	}
	return store, closeStore, nil
}

func (a *App) newRegistry() (*fetcher.Registry, error) {
	sc := a.Config.Scraper
	renderer := fetcher.NewChromeRenderer(fetcher.ChromeOptions{
		ExecPath:        sc.Browser.ExecPath,
		UserAgent:       sc.UserAgent,
		Headless:        sc.Browser.Headless,
		NetworkIdleWait: sc.Browser.NetworkIdleWait,
		SettleDelay:     sc.Browser.SettleDelay,
		ScrollDelay:     sc.Browser.ScrollDelay,
	}, a.Logger)
	client := fetcher.NewPageClient(fetcher.PageOptions{
		UserAgent: sc.UserAgent,
		Timeout:   sc.RequestTimeout,
	}, a.Logger)

	registry, err := fetcher.NewRegistry()
	if err != nil {
		return nil, err
	}

	for _, id := range a.Config.EnabledSources() {
		src := a.Config.Sources[id]
		opts := fetcher.SourceOptions{URL: src.URL, Timeout: src.Timeout, Bounds: rates.DefaultBounds}

		var ex fetcher.Extractor
		switch {
		case id == fetcher.CombankID:
			ex = fetcher.NewCombank(opts, renderer, a.Logger)
		case id == fetcher.NDBID:
			ex = fetcher.NewNDB(opts, renderer, a.Logger)
		case id == fetcher.SampathID:
			ex = fetcher.NewSampath(opts, renderer, a.Logger)
		case id == fetcher.CBSLID:
			ex = fetcher.NewCBSL(opts, client, a.Logger)
		case src.Kind == config.KindJSON:
			js, err := fetcher.NewJSONSource(fetcher.JSONOptions{
				SourceOptions: opts,
				ID:            id,
				Currency:      src.Currency,
				Fields:        src.Fields,
			}, client, a.Logger)
			if err != nil {
				return nil, err
			}
			ex = js
		default:
			return nil, fmt.Errorf("source %s: unsupported kind %q", id, src.Kind)
		}

		if err := registry.Register(ex); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (a *App) retryPolicies() (map[string]retry.Policy, retry.Policy) {
	policies := make(map[string]retry.Policy)
	for _, id := range a.Config.EnabledSources() {
		attempts, delay := a.Config.ResolveAttempts(id)
		policies[id] = retry.Policy{MaxAttempts: attempts, BaseDelay: delay}
	}
	return policies, retry.Policy{MaxAttempts: a.Config.Scraper.MaxAttempts, BaseDelay: a.Config.Scraper.BaseDelay}
}

// serviceDeps are the optional collaborators of the scraping service.
type serviceDeps struct {
	store     storage.RateStore
	metrics   *metrics.Metrics
	publisher events.Publisher
	scheduler *scheduler.Scheduler
}

func (a *App) newService(deps serviceDeps) (*service.Service, error) {
	registry, err := a.newRegistry()
	if err != nil {
		return nil, err
	}
	policies, fallback := a.retryPolicies()

	opts := service.Options{
		Policies:      policies,
		DefaultPolicy: fallback,
		LockKey:       a.Config.Scheduler.AdvisoryLockKey,
		Scheduler:     deps.scheduler,
		Publisher:     deps.publisher,
	}
	var observer retry.Observer
	if deps.metrics != nil {
		opts.Metrics = deps.metrics
		observer = deps.metrics
	}

	wrapper := retry.New(rates.DefaultBounds, observer, a.Logger)
	return service.New(opts, registry, wrapper, deps.store, a.Logger), nil
}

func (a *App) newPublisher() events.Publisher {
	if !a.Config.Kafka.Enabled {
		return nil
	}
	return events.NewKafkaPublisher(a.Config.Kafka.Brokers, a.Config.Kafka.Topic, a.Logger)
}

// newRedis returns nil when no address is configured.
func (a *App) newRedis() *redis.Client {
	rc := a.Config.Redis
	if rc.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:        rc.Addr,
		Password:    rc.Password,
		DB:          rc.DB,
		DialTimeout: rc.DialTimeout,
	})
}

func (a *App) newLimiter(client *redis.Client, m *metrics.Metrics) *ratelimit.Limiter {
	var store ratelimit.WindowStore
	if client != nil {
		store = ratelimit.NewRedisStore(client)
	} else {
		a.Logger.Warn().Msg("redis.addr not configured; admission window kept in process memory")
		store = ratelimit.NewMemoryStore()
	}

	var recorder ratelimit.Recorder
	if m != nil {
		recorder = m
	}
	return ratelimit.New(ratelimit.Config{
		Window:      a.Config.RateLimit.Window,
		MaxRequests: a.Config.RateLimit.MaxRequests,
		KeyPrefix:   a.Config.RateLimit.KeyPrefix,
	}, store, recorder, a.Logger)
}

// syncCatalog records every enabled source in the sources table.
func (a *App) syncCatalog(ctx context.Context, catalog storage.SourceCatalog) {
	for _, id := range a.Config.EnabledSources() {
		src := a.Config.Sources[id]
		url := src.URL
		if url == "" {
			url = fetcher.DefaultURL(id)
		}
		kind := "commercial"
		if id == fetcher.CBSLID {
			kind = "central"
		}
		info := storage.SourceInfo{
			Code:       id,
			Name:       src.Name,
			WebsiteURL: url,
			Kind:       kind,
			IsActive:   true,
		}
		if err := catalog.UpsertSource(ctx, info); err != nil {
			a.Logger.Warn().Err(err).Str("source", id).Msg("failed to sync source catalog")
		}
	}
}

// ParseTime accepts RFC3339 timestamps or bare dates.
func ParseTime(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: want RFC3339 or YYYY-MM-DD", value)
}
