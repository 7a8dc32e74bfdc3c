package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/masahif/oppcrawl/internal/config"
)

func init() {
	// Set error level logging during tests to only show critical issues
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	slog.SetDefault(logger)
}

const (
	testStubScript = "scrape-cards"
	testNextScript = "next-enabled"
)

func testProfile() config.SiteProfile {
	return config.SiteProfile{
		Name:         "test",
		Kind:         config.KindOpportunity,
		ListingURL:   "https://tenders.example.gov/opportunities",
		PageParam:    "page",
		ItemSelector: ".card",
		StubScript:   testStubScript,
		NextSelector: ".next",
		NextEnabled:  testNextScript,
	}
}

func testWalkerConfig() WalkerConfig {
	p := testProfile()
	return WalkerConfig{
		ListingURL:      p.ListingURL,
		Profile:         p,
		SelectorTimeout: time.Second,
		NavTimeout:      time.Second,
		SettleTimeout:   time.Second,
		MaxEmptyPages:   3,
	}
}

// stubsPage builds listing cards for ids
func stubsPage(ids ...string) []rawStub {
	out := make([]rawStub, len(ids))
	for i, id := range ids {
		out[i] = rawStub{ID: id, URL: "/opportunities/" + id, Title: "  Opportunity\n " + id}
	}
	return out
}

// fakePage simulates a paginated listing and a detail page
type fakePage struct {
	mu sync.Mutex

	pages   [][]rawStub
	current int

	navErr   error
	clickErr map[int]error // keyed by the page the click starts from

	html        string
	text        string
	contentType string

	navigated []string
	clicks    int
	closed    bool
}

func (p *fakePage) Navigate(ctx context.Context, rawURL string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, rawURL)
	if p.navErr != nil {
		return p.navErr
	}
	p.current = 0
	if u, err := url.Parse(rawURL); err == nil {
		if n, err := strconv.Atoi(u.Query().Get("page")); err == nil {
			p.current = n
		}
	}
	return nil
}

func (p *fakePage) Evaluate(ctx context.Context, script string, out any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var v any
	switch script {
	case testStubScript:
		if p.current >= len(p.pages) {
			v = []rawStub{}
		} else {
			v = p.pages[p.current]
		}
	case testNextScript:
		v = p.current < len(p.pages)-1
	case snapshotHTMLScript:
		v = p.html
	case snapshotTextScript:
		v = p.text
	case contentTypeScript:
		ct := p.contentType
		if ct == "" {
			ct = "text/html"
		}
		v = ct
	default:
		return errors.New("unknown script")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (p *fakePage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current >= len(p.pages) {
		return ErrSelectorTimeout
	}
	return nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.clickErr[p.current]; ok {
		return err
	}
	p.clicks++
	p.current++
	return nil
}

func (p *fakePage) Settle(ctx context.Context, timeout time.Duration) error {
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// fakeBrowser hands out pages built by newPage
type fakeBrowser struct {
	mu      sync.Mutex
	newPage func() *fakePage
	err     error
	opened  []*fakePage
}

func (b *fakeBrowser) NewPage(ctx context.Context) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	p := b.newPage()
	b.opened = append(b.opened, p)
	return p, nil
}

// fakeExtractor returns fixed records per page kind
type fakeExtractor struct {
	mu    sync.Mutex
	html  Record
	pdf   Record
	calls []RenderedPage
	hints []ExtractContext
}

func (e *fakeExtractor) Extract(ctx context.Context, page RenderedPage, hint ExtractContext) Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, page)
	e.hints = append(e.hints, hint)
	if hint.Kind == KindPDF {
		return e.pdf
	}
	return e.html
}

// fakeDetails completes every stub unless listed in failIDs
type fakeDetails struct {
	failIDs map[string]bool
	delay   time.Duration
}

func (d *fakeDetails) FetchDetail(ctx context.Context, stub ListingStub) (Record, FetchResult) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.failIDs[stub.NaturalID] {
		return StubRecord(stub), FetchFailed
	}
	rec := StubRecord(stub)
	rec.Buyer = "Department of Testing"
	rec.ClosingDate = "2026-11-30"
	return rec, FetchSuccess
}

// fakeDeliverer records batches; fail decides the result of call n (0-based)
type fakeDeliverer struct {
	mu      sync.Mutex
	batches []DeliveryBatch
	fail    func(n int) (bool, error)
}

func (d *fakeDeliverer) Deliver(ctx context.Context, batch DeliveryBatch) (DeliveryOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.batches)
	d.batches = append(d.batches, batch)
	if d.fail != nil {
		failed, err := d.fail(n)
		if err != nil {
			return DeliveryOutcome{Failed: batch.IDs()}, err
		}
		if failed {
			return DeliveryOutcome{Failed: batch.IDs()}, nil
		}
	}
	return DeliveryOutcome{Delivered: batch.IDs(), Added: len(batch.Records)}, nil
}

func (d *fakeDeliverer) sizes() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, len(d.batches))
	for i, b := range d.batches {
		out[i] = len(b.Records)
	}
	return out
}

type fakeCheckpoint struct {
	mu        sync.Mutex
	delivered []string
	seen      []string
	pending   []Record
	lastPage  int
}

func (c *fakeCheckpoint) SavePending(records []Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = records
	return nil
}

func (c *fakeCheckpoint) SaveDelivered(ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered = append(c.delivered, ids...)
	return nil
}

func (c *fakeCheckpoint) SaveSeen(ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = ids
	return nil
}

func (c *fakeCheckpoint) SaveLastPage(page int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPage = page
	return nil
}

type countingObserver struct {
	mu         sync.Mutex
	discovered int
	results    map[FetchResult]int
	okBatches  int
	badBatches int
}

func (o *countingObserver) StubDiscovered() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.discovered++
}

func (o *countingObserver) DetailFetched(r FetchResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = make(map[FetchResult]int)
	}
	o.results[r]++
}

func (o *countingObserver) BatchDelivered(records int, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ok {
		o.okBatches++
	} else {
		o.badBatches++
	}
}

func ids(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = prefix + strconv.Itoa(i)
	}
	return out
}

func records(idList ...string) []Record {
	out := make([]Record, len(idList))
	for i, id := range idList {
		out[i] = Record{NaturalID: id, SourceURL: "https://tenders.example.gov/opportunities/" + id}
	}
	return out
}
