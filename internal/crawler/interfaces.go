package crawler

import (
	"context"
	"time"
)

// Browser opens rendered pages. Implementations must allow a small number of
// pages to be open concurrently.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
}

// Page is a single rendered tab. It is stateful and not safe for concurrent
// use; the walker owns one page and every detail fetch opens its own.
type Page interface {
	// Navigate loads url and waits for the load event
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// Evaluate runs script and decodes its JSON-serialisable result into out
	Evaluate(ctx context.Context, script string, out any) error
	// WaitForSelector returns ErrSelectorTimeout when selector does not
	// become visible within timeout
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	// Click clicks the first element matching selector
	Click(ctx context.Context, selector string) error
	// Settle waits for the page to become idle after an in-page action
	Settle(ctx context.Context, timeout time.Duration) error
	Close() error
}

// Extractor turns a rendered page into a best-effort record. It never fails;
// on total failure it returns the identity fields only.
type Extractor interface {
	Extract(ctx context.Context, page RenderedPage, hint ExtractContext) Record
}

// DetailSource turns a stub into a record. It never fails; failures are
// reported as FetchFailed with the stub-only record.
type DetailSource interface {
	FetchDetail(ctx context.Context, stub ListingStub) (Record, FetchResult)
}

// Deliverer sends a batch to the sink. A non-nil error is fatal for the run;
// transient failures are reported through DeliveryOutcome.Failed.
type Deliverer interface {
	Deliver(ctx context.Context, batch DeliveryBatch) (DeliveryOutcome, error)
}

// Checkpointer receives progress so a later run can resume. Errors are
// logged and never stop the run.
type Checkpointer interface {
	SaveDelivered(ids []string) error
	SaveSeen(ids []string) error
	SaveLastPage(page int) error
	// SavePending replaces the stored set of records not yet delivered
	SavePending(records []Record) error
}

// Observer receives run events for metrics
type Observer interface {
	StubDiscovered()
	DetailFetched(result FetchResult)
	BatchDelivered(records int, ok bool)
}

type nopObserver struct{}

func (nopObserver) StubDiscovered()           {}
func (nopObserver) DetailFetched(FetchResult) {}
func (nopObserver) BatchDelivered(int, bool)  {}
