package crawler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/masahif/oppcrawl/internal/config"
)

// WalkerConfig is the subset of the run configuration the walker needs
type WalkerConfig struct {
	ListingURL      string
	Profile         config.SiteProfile
	SelectorTimeout time.Duration
	NavTimeout      time.Duration
	SettleTimeout   time.Duration
	MaxEmptyPages   int
}

// Walker drives the listing phase. It is single-pass: the page it walks is
// stateful, so a Walk sequence cannot be restarted.
type Walker struct {
	cfg   WalkerConfig
	state *RunState
	obs   Observer
}

// NewWalker creates a walker that records discovered ids in state
func NewWalker(cfg WalkerConfig, state *RunState, obs Observer) *Walker {
	if cfg.MaxEmptyPages <= 0 {
		cfg.MaxEmptyPages = 1
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Walker{cfg: cfg, state: state, obs: obs}
}

type rawStub struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Walk yields new stubs starting at startPage until the listing runs out or
// capacity stubs have been yielded (capacity 0 means no cap). A non-nil error
// is yielded once, last, and means the site could not be navigated.
func (w *Walker) Walk(ctx context.Context, page Page, startPage, capacity int) iter.Seq2[ListingStub, error] {
	return func(yield func(ListingStub, error) bool) {
		yielded := 0
		current, ok, err := w.open(ctx, page, startPage)
		if err != nil {
			yield(ListingStub{}, err)
			return
		}
		if !ok {
			slog.Info("Listing has fewer pages than the start page", "start_page", startPage, "pages", current+1)
			return
		}

		emptyRun := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(ListingStub{}, err)
				return
			}

			err := page.WaitForSelector(ctx, w.cfg.Profile.ItemSelector, w.cfg.SelectorTimeout)
			if errors.Is(err, ErrSelectorTimeout) {
				slog.Info("Listing cards not found, ending walk", "page", current)
				return
			}
			if err != nil {
				yield(ListingStub{}, fmt.Errorf("%w: page %d: %v", ErrListingUnreachable, current, err))
				return
			}
			w.state.LastPage = current

			stubs, err := w.scrape(ctx, page)
			if err != nil {
				// A page whose cards cannot be read is treated like an empty page
				slog.Warn("Failed to scrape listing page", "page", current, "error", err)
			}

			fresh := 0
			for _, stub := range stubs {
				if !w.state.MarkSeen(stub.NaturalID) {
					continue
				}
				fresh++
				yielded++
				w.obs.StubDiscovered()
				if !yield(stub, nil) {
					return
				}
				if capacity > 0 && yielded >= capacity {
					slog.Info("Listing capacity reached", "capacity", capacity, "page", current)
					return
				}
			}
			slog.Info("Scanned listing page", "page", current, "cards", len(stubs), "new", fresh, "total", yielded)

			if fresh == 0 {
				emptyRun++
				if emptyRun >= w.cfg.MaxEmptyPages {
					slog.Warn("Too many listing pages without new stubs, ending walk", "page", current, "empty_pages", emptyRun)
					return
				}
			} else {
				emptyRun = 0
			}

			more, err := w.advance(ctx, page)
			if err != nil {
				yield(ListingStub{}, fmt.Errorf("%w: advancing from page %d: %v", ErrListingUnreachable, current, err))
				return
			}
			if !more {
				slog.Info("No next listing page", "page", current)
				return
			}
			current++
		}
	}
}

// open navigates to the first page of the walk. With a page parameter the
// start page is addressed directly; otherwise the walker clicks through.
// It reports false when the listing ends before the start page.
func (w *Walker) open(ctx context.Context, page Page, startPage int) (int, bool, error) {
	target := w.cfg.ListingURL
	direct := w.cfg.Profile.PageParam != "" && startPage > 0
	if direct {
		target = withQuery(target, w.cfg.Profile.PageParam, strconv.Itoa(startPage))
	}
	if err := page.Navigate(ctx, target, w.cfg.NavTimeout); err != nil {
		return 0, false, fmt.Errorf("%w: %s: %v", ErrListingUnreachable, target, err)
	}
	if direct || startPage == 0 {
		return startPage, true, nil
	}

	for skipped := 0; skipped < startPage; skipped++ {
		if err := page.WaitForSelector(ctx, w.cfg.Profile.ItemSelector, w.cfg.SelectorTimeout); err != nil {
			if errors.Is(err, ErrSelectorTimeout) {
				return skipped, false, nil
			}
			return skipped, false, fmt.Errorf("%w: skipping to page %d: %v", ErrListingUnreachable, startPage, err)
		}
		more, err := w.advance(ctx, page)
		if err != nil {
			return skipped, false, fmt.Errorf("%w: skipping to page %d: %v", ErrListingUnreachable, startPage, err)
		}
		if !more {
			return skipped, false, nil
		}
	}
	return startPage, true, nil
}

// scrape reads the visible cards. Stubs without an id or url are dropped
// and relative urls are resolved against the listing url.
func (w *Walker) scrape(ctx context.Context, page Page) ([]ListingStub, error) {
	var raw []rawStub
	if err := page.Evaluate(ctx, w.cfg.Profile.StubScript, &raw); err != nil {
		return nil, err
	}

	base, _ := url.Parse(w.cfg.ListingURL)
	stubs := make([]ListingStub, 0, len(raw))
	for _, r := range raw {
		id := strings.TrimSpace(r.ID)
		href := strings.TrimSpace(r.URL)
		if id == "" || href == "" {
			continue
		}
		if base != nil {
			if ref, err := url.Parse(href); err == nil {
				href = base.ResolveReference(ref).String()
			}
		}
		stubs = append(stubs, ListingStub{
			NaturalID: id,
			DetailURL: href,
			ListTitle: strings.Join(strings.Fields(r.Title), " "),
		})
	}
	return stubs, nil
}

// advance clicks the next control. It reports false when there is no
// enabled next control.
func (w *Walker) advance(ctx context.Context, page Page) (bool, error) {
	if w.cfg.Profile.NextSelector == "" {
		return false, nil
	}
	if w.cfg.Profile.NextEnabled != "" {
		var enabled bool
		if err := page.Evaluate(ctx, w.cfg.Profile.NextEnabled, &enabled); err != nil {
			slog.Debug("Next control check failed", "error", err)
			return false, nil
		}
		if !enabled {
			return false, nil
		}
	}
	if err := page.Click(ctx, w.cfg.Profile.NextSelector); err != nil {
		if errors.Is(err, ErrSelectorTimeout) {
			return false, nil
		}
		return false, err
	}
	if err := page.Settle(ctx, w.cfg.SettleTimeout); err != nil && !errors.Is(err, ErrSelectorTimeout) {
		return false, err
	}
	return true, nil
}

func withQuery(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
