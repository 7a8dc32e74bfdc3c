package config

import "errors"

var (
	// ErrNoListingURL is returned when no listing URL is configured
	ErrNoListingURL = errors.New("no listing URL provided")
	// ErrInvalidListingURL is returned when the listing URL is not absolute
	ErrInvalidListingURL = errors.New("listing URL must be an absolute http(s) URL")
	// ErrInvalidConcurrency is returned when concurrency is outside 1..3
	ErrInvalidConcurrency = errors.New("concurrency must be between 1 and 3")
	// ErrInvalidTimeout is returned when a navigation or selector timeout is not greater than 0
	ErrInvalidTimeout = errors.New("nav_timeout and selector_timeout must be greater than 0")
	// ErrNegativeRunSize is returned when capacity or start page is negative
	ErrNegativeRunSize = errors.New("capacity and start_page cannot be negative")
	// ErrIncompleteProfile is returned when the site profile cannot find listing cards
	ErrIncompleteProfile = errors.New("site profile needs item_selector and stub_script")
	// ErrUnknownSiteKind is returned for a site kind other than opportunity or leadership
	ErrUnknownSiteKind = errors.New("site kind must be opportunity or leadership")
	// ErrUnknownAIProvider is returned for an unsupported AI provider
	ErrUnknownAIProvider = errors.New("ai provider must be anthropic, openai or none")
)
