package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"keeprates/internal/httpapi"
	"keeprates/internal/metrics"
	"keeprates/internal/scheduler"
	"keeprates/internal/version"
)

// ServeOptions configure the long-running service.
type ServeOptions struct {
	// NoScheduler disables the periodic scrape loop regardless of config.
	NoScheduler bool
}

// Serve runs the trigger API and, when enabled, the scheduled scrape loop.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	m := metrics.New()
	deps := serviceDeps{metrics: m, publisher: a.newPublisher()}
	checks := map[string]httpapi.Pinger{}
	if store == nil {
		a.Logger.Warn().Msg("database not configured; persistence disabled")
	} else {
		deps.store = store
		checks["database"] = store
		a.syncCatalog(ctx, store)
	}
	if deps.publisher != nil {
		defer func() {
			if err := deps.publisher.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("failed to close event publisher")
			}
		}()
	}

	runScheduler := a.Config.Scheduler.Enabled && !opts.NoScheduler
	if runScheduler {
		deps.scheduler = scheduler.New(scheduler.Options{
			Interval:     a.Config.Scheduler.Interval,
			AlignToSlot:  a.Config.Scheduler.AlignToSlot,
			RunOnStart:   a.Config.Scheduler.RunOnStart,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger)
	}

	svc, err := a.newService(deps)
	if err != nil {
		return err
	}

	redisClient := a.newRedis()
	if redisClient != nil {
		defer redisClient.Close()
		checks["redis"] = redisPinger{redisClient}
	}
	limiter := a.newLimiter(redisClient, m)

	server := httpapi.New(httpapi.Options{
		Addr:         a.Config.HTTP.Addr,
		APIKey:       a.Config.HTTP.APIKey,
		Identifier:   a.Config.RateLimit.Identifier,
		ClientRPS:    a.Config.HTTP.ClientRPS,
		ClientBurst:  a.Config.HTTP.ClientBurst,
		Version:      version.Version,
		Metrics:      m.Handler(),
		HealthChecks: checks,
	}, svc, limiter, a.Logger)
	if a.Config.HTTP.APIKey == "" {
		a.Logger.Warn().Msg("http.api_key not configured; trigger endpoint will reject requests")
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- server.Start()
	}()
	if runScheduler {
		go func() {
			err := svc.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	a.Logger.Info().Strs("sources", svc.Sources()).Bool("scheduler", runScheduler).Msg("keeprates started")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		if runErr != nil {
			a.Logger.Error().Err(runErr).Msg("service terminated with error")
		}
		cancel()
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP shutdown incomplete")
		if runErr == nil {
			runErr = err
		}
	}

	a.Logger.Info().Msg("keeprates stopped")
	return runErr
}

func (a *App) shutdownTimeout() time.Duration {
	if a.Config.HTTP.ShutdownTimeout > 0 {
		return a.Config.HTTP.ShutdownTimeout
	}
	return 30 * time.Second
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
