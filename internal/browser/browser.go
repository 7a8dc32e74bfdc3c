// Package browser implements crawler.Browser on a local headless Chrome
// driven over the DevTools protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/masahif/oppcrawl/internal/crawler"
)

const (
	// clickTimeout bounds waiting for a clickable control
	clickTimeout = 10 * time.Second
	// settleQuiet is the minimum pause after an in-page action
	settleQuiet  = 300 * time.Millisecond
	pollInterval = 100 * time.Millisecond
)

// Options configures the Chrome process
type Options struct {
	Headless  bool
	UserAgent string
	ExecPath  string // Chrome binary; empty searches the usual locations
	NoSandbox bool   // Needed when running as root in containers
}

// Browser owns one Chrome process. Every page is a separate tab.
type Browser struct {
	allocCtx      context.Context
	browserCtx    context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc
}

// allocatorOptions builds the exec allocator flags for opts
func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	out = append(out,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.NoSandbox {
		out = append(out, chromedp.NoSandbox)
	}
	if opts.UserAgent != "" {
		out = append(out, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	return out
}

// New starts Chrome. The process lives until Close or until ctx is done.
func New(ctx context.Context, opts Options) (*Browser, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocatorOptions(opts)...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		slog.Debug(fmt.Sprintf(format, args...), "component", "chromedp")
	}))

	// An empty run launches the process so a missing binary fails here
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &Browser{
		allocCtx:      allocCtx,
		browserCtx:    browserCtx,
		cancelAlloc:   cancelAlloc,
		cancelBrowser: cancelBrowser,
	}, nil
}

// NewPage opens a new tab
func (b *Browser) NewPage(ctx context.Context) (crawler.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	return &Page{ctx: tabCtx, cancel: cancel}, nil
}

// Close shuts the browser down
func (b *Browser) Close() error {
	b.cancelBrowser()
	b.cancelAlloc()
	return nil
}

// Page is one Chrome tab
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the tab. The call is bounded by timeout and stops
// early when the caller's ctx is done.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := boundedContext(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// boundedContext derives a context from parent that expires after timeout,
// or only with parent when timeout is zero
func boundedContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}

func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := p.run(ctx, timeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (p *Page) Evaluate(ctx context.Context, script string, out any) error {
	return p.run(ctx, 0, chromedp.Evaluate(script, out))
}

func (p *Page) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	return asSelectorTimeout(ctx, p.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery)))
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return clickError(ctx, selector,
		p.run(ctx, clickTimeout, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)))
}

// clickError reports a control that never became clickable as
// crawler.ErrSelectorTimeout
func clickError(ctx context.Context, selector string, err error) error {
	if err = asSelectorTimeout(ctx, err); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// Settle pauses briefly, then waits for the document to finish loading
func (p *Page) Settle(ctx context.Context, timeout time.Duration) error {
	return asSelectorTimeout(ctx, p.run(ctx, timeout,
		chromedp.Sleep(settleQuiet),
		chromedp.Poll(`document.readyState === "complete"`, nil, chromedp.WithPollingInterval(pollInterval)),
	))
}

// Close closes the tab
func (p *Page) Close() error {
	p.cancel()
	return nil
}

// asSelectorTimeout maps an expired wait to crawler.ErrSelectorTimeout.
// Cancellation by the caller is returned unchanged.
func asSelectorTimeout(ctx context.Context, err error) error {
	if err == nil || ctx.Err() != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", crawler.ErrSelectorTimeout, err)
	}
	return err
}
