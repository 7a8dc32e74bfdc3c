package crawler

import "errors"

var (
	// ErrSelectorTimeout is returned by Page when a selector never became visible
	ErrSelectorTimeout = errors.New("selector wait timed out")
	// ErrListingUnreachable means the listing could not be navigated; it aborts the run
	ErrListingUnreachable = errors.New("listing unreachable")
	// ErrSinkNotConfigured means a delivery was attempted without a usable sink URL
	ErrSinkNotConfigured = errors.New("sink URL missing or invalid")
	// ErrRobotsDisallowed marks a detail URL excluded by robots.txt
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
)
