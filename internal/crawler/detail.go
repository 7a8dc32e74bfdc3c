package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"
)

const (
	snapshotHTMLScript = `document.documentElement ? document.documentElement.outerHTML : ""`
	snapshotTextScript = `document.body ? document.body.innerText : ""`
	contentTypeScript  = `document.contentType || ""`
)

// DetailConfig holds the timeouts of the detail phase
type DetailConfig struct {
	NavTimeout    time.Duration
	SettleTimeout time.Duration
}

// DetailFetcher visits one detail page per stub and returns the merged record.
// It is safe for concurrent use; every fetch opens its own page.
type DetailFetcher struct {
	cfg        DetailConfig
	browser    Browser
	extractor  Extractor
	httpClient *HTTPClient
	limiter    *RateLimiter
	robots     *RobotsChecker
}

// NewDetailFetcher creates a fetcher. robots may be nil to skip the check.
func NewDetailFetcher(cfg DetailConfig, browser Browser, extractor Extractor, httpClient *HTTPClient, limiter *RateLimiter, robots *RobotsChecker) *DetailFetcher {
	return &DetailFetcher{
		cfg:        cfg,
		browser:    browser,
		extractor:  extractor,
		httpClient: httpClient,
		limiter:    limiter,
		robots:     robots,
	}
}

// FetchDetail never fails: any error degrades to the stub-only record
func (f *DetailFetcher) FetchDetail(ctx context.Context, stub ListingStub) (Record, FetchResult) {
	base := StubRecord(stub)
	logger := slog.With("natural_id", stub.NaturalID, "url", stub.DetailURL)

	if f.robots != nil {
		allowed, err := f.robots.IsAllowed(ctx, stub.DetailURL)
		if err != nil || !allowed {
			logger.Warn("Skipping detail page", "error", errors.Join(ErrRobotsDisallowed, err))
			return base, FetchFailed
		}
		if u, err := url.Parse(stub.DetailURL); err == nil && f.limiter != nil {
			if d := f.robots.CrawlDelay(u.Host); d > 0 {
				f.limiter.SetHostDelay(u.Host, d)
			}
		}
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, stub.DetailURL); err != nil {
			logger.Warn("Detail fetch cancelled", "error", err)
			return base, FetchFailed
		}
	}

	start := time.Now()
	page, err := f.snapshot(ctx, stub.DetailURL)
	if err != nil {
		logger.Warn("Failed to load detail page", "error", err, "duration", time.Since(start))
		return base, FetchFailed
	}

	hint := ExtractContext{Kind: page.Kind, NaturalID: stub.NaturalID, HintTitle: stub.ListTitle}
	extracted := f.extractor.Extract(ctx, page, hint)

	if page.Kind == KindHTML && len(extracted.MissingRequired()) > 0 {
		if pdf, ok := firstPDF(extracted.Attachments); ok {
			if doc, err := f.download(ctx, pdf.URL); err != nil {
				logger.Debug("Attachment fallback failed", "attachment", pdf.URL, "error", err)
			} else {
				hint.Kind = KindPDF
				extracted.FillMissing(f.extractor.Extract(ctx, doc, hint))
			}
		}
	}

	rec := merge(stub, extracted)
	result := FetchSuccess
	if rec.Completeness() != CompletenessFull {
		result = FetchPartial
	}
	logger.Debug("Fetched detail page", "result", result, "missing", rec.MissingRequired(), "duration", time.Since(start))
	return rec, result
}

// snapshot renders url in a fresh page. Documents served as PDF are
// downloaded instead, since the browser viewer exposes no text.
func (f *DetailFetcher) snapshot(ctx context.Context, rawURL string) (RenderedPage, error) {
	if isPDFURL(rawURL) {
		return f.download(ctx, rawURL)
	}

	p, err := f.browser.NewPage(ctx)
	if err != nil {
		return RenderedPage{}, fmt.Errorf("open page: %w", err)
	}
	defer func() { _ = p.Close() }()

	if err := p.Navigate(ctx, rawURL, f.cfg.NavTimeout); err != nil {
		return RenderedPage{}, fmt.Errorf("navigate: %w", err)
	}

	var contentType string
	if err := p.Evaluate(ctx, contentTypeScript, &contentType); err == nil && strings.Contains(contentType, "pdf") {
		return f.download(ctx, rawURL)
	}

	if f.cfg.SettleTimeout > 0 {
		if err := p.Settle(ctx, f.cfg.SettleTimeout); err != nil && !errors.Is(err, ErrSelectorTimeout) {
			return RenderedPage{}, fmt.Errorf("settle: %w", err)
		}
	}

	out := RenderedPage{URL: rawURL, Kind: KindHTML}
	if err := p.Evaluate(ctx, snapshotHTMLScript, &out.HTML); err != nil {
		return RenderedPage{}, fmt.Errorf("snapshot html: %w", err)
	}
	if err := p.Evaluate(ctx, snapshotTextScript, &out.Text); err != nil {
		return RenderedPage{}, fmt.Errorf("snapshot text: %w", err)
	}
	return out, nil
}

func (f *DetailFetcher) download(ctx context.Context, rawURL string) (RenderedPage, error) {
	if f.httpClient == nil {
		return RenderedPage{}, fmt.Errorf("no http client for %s", rawURL)
	}
	resp, err := f.httpClient.Get(ctx, rawURL)
	if err != nil {
		return RenderedPage{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return RenderedPage{}, fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}
	if len(resp.Body) == 0 {
		return RenderedPage{}, fmt.Errorf("download %s: empty body", rawURL)
	}
	return RenderedPage{URL: resp.FinalURL, Kind: KindPDF, Data: resp.Body}, nil
}

// merge lets the stub win for identity and the extractor for content
func merge(stub ListingStub, extracted Record) Record {
	rec := extracted
	rec.NaturalID = stub.NaturalID
	rec.SourceURL = stub.DetailURL
	if rec.Title == "" {
		rec.Title = stub.ListTitle
	}
	return rec
}

func firstPDF(attachments []Attachment) (Attachment, bool) {
	for _, a := range attachments {
		if a.Kind == "pdf" || isPDFURL(a.URL) {
			return a, true
		}
	}
	return Attachment{}, false
}

func isPDFURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".pdf")
}
