package app

import (
	"context"
	"fmt"
	"io"
	"time"
)

// RateLimitOptions select the admission window to inspect or clear.
type RateLimitOptions struct {
	Identifier string
	Out        io.Writer
}

func (o RateLimitOptions) identifier(fallback string) string {
	if o.Identifier != "" {
		return o.Identifier
	}
	return fallback
}

// RateLimitStatus prints the current admission window without consuming quota.
func (a *App) RateLimitStatus(ctx context.Context, opts RateLimitOptions) error {
	client := a.newRedis()
	if client != nil {
		defer client.Close()
	}
	limiter := a.newLimiter(client, nil)
	id := opts.identifier(a.Config.RateLimit.Identifier)

	status := limiter.GetStatus(ctx, id)
	fmt.Fprintf(opts.Out, "identifier: %s\nlimit:      %d per %s\nused:       %d\nremaining:  %d\nreset:      %s\n",
		id,
		status.Limit,
		limiter.Config().Window,
		status.Used,
		status.Remaining,
		time.Unix(status.ResetTime, 0).UTC().Format(time.RFC3339),
	)
	return nil
}

// ResetRateLimit clears the admission window for an identifier.
func (a *App) ResetRateLimit(ctx context.Context, opts RateLimitOptions) error {
	client := a.newRedis()
	if client == nil {
		return fmt.Errorf("redis.addr not configured; nothing to reset")
	}
	defer client.Close()

	limiter := a.newLimiter(client, nil)
	id := opts.identifier(a.Config.RateLimit.Identifier)
	if err := limiter.Reset(ctx, id); err != nil {
		return fmt.Errorf("reset rate limit %s: %w", id, err)
	}
	a.Logger.Info().Str("identifier", id).Msg("rate limit window cleared")
	return nil
}
