package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// RenderRequest describes one browser pass over a JS-rendered page.
type RenderRequest struct {
	URL          string
	WaitSelector string
	Timeout      time.Duration
	// Scroll runs a bottom/top scroll pass to trigger lazy content.
	Scroll bool
}

// Renderer returns the DOM of a fully rendered page as HTML.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (string, error)
}

// ChromeOptions tune the headless browser.
type ChromeOptions struct {
	ExecPath        string
	UserAgent       string
	Headless        bool
	NetworkIdleWait time.Duration
	SettleDelay     time.Duration
	ScrollDelay     time.Duration
	WindowWidth     int
	WindowHeight    int
}

// ChromeRenderer drives a headless Chrome via the DevTools protocol. Every
// Render call owns its own browser process and tears it down before returning.
type ChromeRenderer struct {
	opts   ChromeOptions
	logger zerolog.Logger
}

// NewChromeRenderer constructs a ChromeRenderer.
func NewChromeRenderer(opts ChromeOptions, logger zerolog.Logger) *ChromeRenderer {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.NetworkIdleWait <= 0 {
		opts.NetworkIdleWait = 10 * time.Second
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.ScrollDelay < 0 {
		opts.ScrollDelay = 0
	}
	if opts.WindowWidth <= 0 || opts.WindowHeight <= 0 {
		opts.WindowWidth, opts.WindowHeight = 1280, 720
	}
	return &ChromeRenderer{opts: opts, logger: logger.With().Str("component", "chrome_renderer").Logger()}
}

func (r *ChromeRenderer) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("headless", r.opts.Headless),
		chromedp.UserAgent(r.opts.UserAgent),
		chromedp.WindowSize(r.opts.WindowWidth, r.opts.WindowHeight),
	)
	if r.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.opts.ExecPath))
	}
	return opts
}

// Render navigates to req.URL and snapshots the rendered document.
func (r *ChromeRenderer) Render(ctx context.Context, req RenderRequest) (string, error) {
	if req.URL == "" {
		return "", fmt.Errorf("render: empty url")
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, r.allocatorOptions()...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	idle := make(chan struct{}, 1)
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	})

	started := time.Now()
	var html string
	actions := chromedp.Tasks{
		page.SetLifecycleEventsEnabled(true),
		chromedp.ActionFunc(func(context.Context) error {
			drain(idle)
			return nil
		}),
		chromedp.Navigate(req.URL),
		r.waitNetworkIdle(idle),
	}
	if req.WaitSelector != "" {
		actions = append(actions, chromedp.WaitReady(req.WaitSelector, chromedp.ByQuery))
	}
	if r.opts.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(r.opts.SettleDelay))
	}
	if req.Scroll {
		actions = append(actions,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(r.opts.ScrollDelay),
			chromedp.Evaluate(`window.scrollTo(0, 0)`, nil),
			chromedp.Sleep(r.opts.ScrollDelay),
		)
	}
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(browserCtx, actions); err != nil {
		return "", fmt.Errorf("render %s: %w", req.URL, err)
	}

	r.logger.Debug().
		Str("url", req.URL).
		Int("bytes", len(html)).
		Dur("elapsed", time.Since(started)).
		Msg("page rendered")
	return html, nil
}

// waitNetworkIdle blocks until the page reports networkIdle. Pages that keep a
// long-poll open never do, so after NetworkIdleWait the render proceeds anyway.
func (r *ChromeRenderer) waitNetworkIdle(idle <-chan struct{}) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		timer := time.NewTimer(r.opts.NetworkIdleWait)
		defer timer.Stop()
		select {
		case <-idle:
		case <-timer.C:
			r.logger.Debug().Msg("network idle not observed; continuing")
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}

func drain(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

var _ Renderer = (*ChromeRenderer)(nil)
