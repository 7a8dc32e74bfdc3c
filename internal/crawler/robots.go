package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// RobotsChecker decides whether detail URLs may be fetched. Rules are
// fetched once per host and cached for the run.
type RobotsChecker struct {
	httpClient *HTTPClient
	userAgent  string
	groups     map[string]*robotstxt.Group
	mu         sync.Mutex
	ignore     bool
}

// NewRobotsChecker creates a checker; with ignore set every URL is allowed
func NewRobotsChecker(httpClient *HTTPClient, userAgent string, ignore bool) *RobotsChecker {
	return &RobotsChecker{
		httpClient: httpClient,
		userAgent:  userAgent,
		groups:     make(map[string]*robotstxt.Group),
		ignore:     ignore,
	}
}

// IsAllowed reports whether urlStr may be fetched. A robots.txt that cannot
// be fetched or parsed allows everything.
func (r *RobotsChecker) IsAllowed(ctx context.Context, urlStr string) (bool, error) {
	if r.ignore {
		return true, nil
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false, fmt.Errorf("invalid URL: %w", err)
	}

	group, err := r.group(ctx, parsedURL)
	if err != nil {
		slog.Debug("robots.txt unavailable, allowing", "host", parsedURL.Host, "error", err)
		return true, nil
	}
	if group == nil {
		return true, nil
	}

	path := parsedURL.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsedURL.RawQuery != "" {
		path += "?" + parsedURL.RawQuery
	}
	return group.Test(path), nil
}

// CrawlDelay returns the Crawl-delay declared for host, if its rules are cached
func (r *RobotsChecker) CrawlDelay(host string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.groups[host]; ok && g != nil {
		return g.CrawlDelay
	}
	return 0
}

func (r *RobotsChecker) group(ctx context.Context, u *url.URL) (*robotstxt.Group, error) {
	r.mu.Lock()
	g, ok := r.groups[u.Host]
	r.mu.Unlock()
	if ok {
		return g, nil
	}

	g, err := r.fetch(ctx, u)
	if err != nil && ctx.Err() != nil {
		return nil, err
	}

	// A failed fetch is cached as a nil group, which allows everything
	r.mu.Lock()
	r.groups[u.Host] = g
	r.mu.Unlock()
	return g, err
}

func (r *RobotsChecker) fetch(ctx context.Context, u *url.URL) (*robotstxt.Group, error) {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)
	resp, err := r.httpClient.Get(ctx, robotsURL)
	if err != nil {
		return nil, err
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data.FindGroup(r.userAgent), nil
}
