// Package config provides configuration management for the crawler.
// It defines configuration structures and default values for a crawl run,
// the target site profile, the AI backend and the delivery sink.
package config

import (
	"net/url"
	"os"
	"time"
)

// Site kinds select the extraction prompt and required fields
const (
	KindOpportunity = "opportunity"
	KindLeadership  = "leadership"
)

// SiteProfile describes how to walk a listing and where its parts live
type SiteProfile struct {
	Name         string `mapstructure:"name" yaml:"name"`                   // Used as the envelope source
	Kind         string `mapstructure:"kind" yaml:"kind"`                   // opportunity or leadership
	ListingURL   string `mapstructure:"listing_url" yaml:"listing_url"`     // First listing page
	PageParam    string `mapstructure:"page_param" yaml:"page_param"`       // Query parameter holding the page number, if any
	StatusParam  string `mapstructure:"status_param" yaml:"status_param"`   // Query parameter for the status/category filter
	Status       string `mapstructure:"status" yaml:"status"`               // Filter value, empty for all
	ItemSelector string `mapstructure:"item_selector" yaml:"item_selector"` // CSS selector of one listing card
	StubScript   string `mapstructure:"stub_script" yaml:"stub_script"`     // JS returning [{id,url,title}]
	NextSelector string `mapstructure:"next_selector" yaml:"next_selector"` // CSS selector of the next-page control
	NextEnabled  string `mapstructure:"next_enabled" yaml:"next_enabled"`   // JS returning true when next can be clicked
	Brand        string `mapstructure:"brand" yaml:"brand"`                 // Generic site heading to ignore as a title

	// Label text to field name additions for the label-adjacency scan
	ExtraLabels map[string]string `mapstructure:"extra_labels" yaml:"extra_labels"`
}

// AIConfig selects and tunes the inference backend
type AIConfig struct {
	Provider       string        `mapstructure:"provider" yaml:"provider"` // anthropic, openai or none
	Model          string        `mapstructure:"model" yaml:"model"`
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	APIKeyEnv      string        `mapstructure:"api_key_env" yaml:"api_key_env"`
	Attempts       int           `mapstructure:"attempts" yaml:"attempts"`               // Tries per call including the first
	Backoff        time.Duration `mapstructure:"backoff" yaml:"backoff"`                 // Fixed delay between tries
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`                 // Hard limit per attempt
	RequestsPerMin int           `mapstructure:"requests_per_min" yaml:"requests_per_min"` // 0 disables client-side limiting
	MaxInputChars  int           `mapstructure:"max_input_chars" yaml:"max_input_chars"` // Document truncation budget
	MaxTokens      int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// SinkConfig describes the delivery webhook
type SinkConfig struct {
	URL       string        `mapstructure:"url" yaml:"url"`
	TenantID  string        `mapstructure:"tenant_id" yaml:"tenant_id"`
	Token     string        `mapstructure:"token" yaml:"token,omitempty"`
	TokenEnv  string        `mapstructure:"token_env" yaml:"token_env"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	BatchSize int           `mapstructure:"batch_size" yaml:"batch_size"`
}

// StateConfig configures the resume checkpoint store
type StateConfig struct {
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"` // Empty disables checkpointing
	Resume       bool   `mapstructure:"resume" yaml:"resume"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"` // json or text
	FilePath   string `mapstructure:"file_path" yaml:"file_path"`
	MaxSizeMB  int64  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// CrawlConfig holds crawler configuration
type CrawlConfig struct {
	// Run sizing
	Capacity  int `mapstructure:"capacity" yaml:"capacity"`     // Stop after N discovered stubs (0=unlimited)
	StartPage int `mapstructure:"start_page" yaml:"start_page"` // Listing page to start from (0-based)

	// Pacing and timeouts
	Concurrency     int           `mapstructure:"concurrency" yaml:"concurrency"`           // Concurrent detail pages
	RequestDelay    time.Duration `mapstructure:"request_delay" yaml:"request_delay"`       // Delay between detail fetches
	NavTimeout      time.Duration `mapstructure:"nav_timeout" yaml:"nav_timeout"`           // Per navigation
	SelectorTimeout time.Duration `mapstructure:"selector_timeout" yaml:"selector_timeout"` // Wait for listing cards
	SettleTimeout   time.Duration `mapstructure:"settle_timeout" yaml:"settle_timeout"`     // Wait after clicking next
	MaxEmptyPages   int           `mapstructure:"max_empty_pages" yaml:"max_empty_pages"`   // Consecutive pages without new stubs
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	RespectRobots   bool          `mapstructure:"respect_robots" yaml:"respect_robots"`
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	MetricsAddr     string        `mapstructure:"metrics_addr" yaml:"metrics_addr"`

	Site  SiteProfile `mapstructure:"site" yaml:"site"`
	AI    AIConfig    `mapstructure:"ai" yaml:"ai"`
	Sink  SinkConfig  `mapstructure:"sink" yaml:"sink"`
	State StateConfig `mapstructure:"state" yaml:"state"`
	Log   LogConfig   `mapstructure:"log" yaml:"log"`
}

// DefaultSiteProfile returns a profile for a BuyICT-style opportunities board
func DefaultSiteProfile() SiteProfile {
	return SiteProfile{
		Name:         "buyict",
		Kind:         KindOpportunity,
		ItemSelector: ".opportunity-card, [data-testid='opportunity-card']",
		StubScript: `Array.from(document.querySelectorAll(".opportunity-card, [data-testid='opportunity-card']")).map(c => {
  const a = c.querySelector("a[href]");
  const ref = c.querySelector(".reference, [data-testid='reference']");
  const href = a ? a.href : "";
  const m = href.match(/[?&](?:id|ref)=([^&]+)/) || href.match(/\/([A-Za-z]+-?\d+)\/?$/);
  return {id: ref ? ref.innerText.trim() : (m ? decodeURIComponent(m[1]) : ""), url: href, title: a ? a.innerText.trim() : ""};
})`,
		NextSelector: "button[aria-label='Next page'], a[rel='next']",
		NextEnabled: `(() => {
  const n = document.querySelector("button[aria-label='Next page'], a[rel='next']");
  return !!n && !n.disabled && n.getAttribute("aria-disabled") !== "true";
})()`,
		Brand: "BuyICT",
	}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *CrawlConfig {
	return &CrawlConfig{
		Capacity:        0, // unlimited
		StartPage:       0,
		Concurrency:     2,
		RequestDelay:    1 * time.Second,
		NavTimeout:      45 * time.Second,
		SelectorTimeout: 15 * time.Second,
		SettleTimeout:   10 * time.Second,
		MaxEmptyPages:   3,
		UserAgent:       "oppcrawl/1.0",
		RespectRobots:   true,
		Headless:        true,
		Site:            DefaultSiteProfile(),
		AI: AIConfig{
			Provider:       "anthropic",
			APIKeyEnv:      "ANTHROPIC_API_KEY",
			Attempts:       3,
			Backoff:        2 * time.Second,
			Timeout:        60 * time.Second,
			RequestsPerMin: 30,
			MaxInputChars:  48000,
			MaxTokens:      2048,
		},
		Sink: SinkConfig{
			TokenEnv:  "OC_SINK_TOKEN",
			Timeout:   30 * time.Second,
			BatchSize: 20,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
	}
}

// Validate checks if the configuration is valid
func (c *CrawlConfig) Validate() error {
	if c.Site.ListingURL == "" {
		return ErrNoListingURL
	}
	if u, err := url.Parse(c.Site.ListingURL); err != nil || u.Scheme == "" || u.Host == "" {
		return ErrInvalidListingURL
	}

	// Detail pages are capped at three to stay within the site's tolerance
	if c.Concurrency <= 0 || c.Concurrency > 3 {
		return ErrInvalidConcurrency
	}

	if c.NavTimeout <= 0 || c.SelectorTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.Capacity < 0 || c.StartPage < 0 {
		return ErrNegativeRunSize
	}

	if c.Site.ItemSelector == "" || c.Site.StubScript == "" {
		return ErrIncompleteProfile
	}

	switch c.Site.Kind {
	case "", KindOpportunity, KindLeadership:
	default:
		return ErrUnknownSiteKind
	}

	switch c.AI.Provider {
	case "", "none", "anthropic", "openai":
	default:
		return ErrUnknownAIProvider
	}

	if c.Sink.BatchSize <= 0 {
		c.Sink.BatchSize = 20
	}
	if c.MaxEmptyPages <= 0 {
		c.MaxEmptyPages = 1
	}

	// The sink URL is checked when a delivery is attempted, not here, so that
	// --show-config and dry inspection work without one.
	return nil
}

// ResolvedListingURL returns the listing URL with the status filter applied
func (c *CrawlConfig) ResolvedListingURL() string {
	if c.Site.StatusParam == "" || c.Site.Status == "" {
		return c.Site.ListingURL
	}
	u, err := url.Parse(c.Site.ListingURL)
	if err != nil {
		return c.Site.ListingURL
	}
	q := u.Query()
	q.Set(c.Site.StatusParam, c.Site.Status)
	u.RawQuery = q.Encode()
	return u.String()
}

// GetAIKey returns the AI API key, resolving the environment variable if set
func (c *CrawlConfig) GetAIKey() string {
	if c.AI.APIKey != "" {
		return c.AI.APIKey
	}
	if c.AI.APIKeyEnv != "" {
		return os.Getenv(c.AI.APIKeyEnv)
	}
	return ""
}

// GetSinkToken returns the sink bearer token, resolving the environment variable if set
func (c *CrawlConfig) GetSinkToken() string {
	if c.Sink.Token != "" {
		return c.Sink.Token
	}
	if c.Sink.TokenEnv != "" {
		return os.Getenv(c.Sink.TokenEnv)
	}
	return ""
}

// SourceName returns the envelope source identifier
func (c *CrawlConfig) SourceName() string {
	if c.Site.Name != "" {
		return c.Site.Name
	}
	if u, err := url.Parse(c.Site.ListingURL); err == nil && u.Host != "" {
		return u.Host
	}
	return "oppcrawl"
}
