// Package crawler implements the two-phase crawl pipeline: a pagination
// walker that discovers listing stubs, a bounded pool of detail fetchers,
// and a single controller goroutine that batches records for the sink.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// MaxConcurrency is the upper bound on concurrently open detail pages
const MaxConcurrency = 3

// finalDrainTimeout bounds the best-effort delivery after cancellation
const finalDrainTimeout = 2 * time.Minute

// ControllerConfig configures a run
type ControllerConfig struct {
	Concurrency   int
	StartPage     int
	Capacity      int
	StatsInterval time.Duration // Progress log interval (0 disables)
	// OnPhase, when set, is called on every phase change from the Run goroutine
	OnPhase func(RunPhase)
}

// Controller owns a run from listing to final drain. RunState is written only
// by the goroutine executing Run; detail workers hand results back over a
// channel.
type Controller struct {
	cfg        ControllerConfig
	browser    Browser
	walker     *Walker
	details    DetailSource
	deliverer  Deliverer
	checkpoint Checkpointer
	obs        Observer
	state      *RunState

	phaseMu sync.RWMutex
	phase   RunPhase

	outcome RunOutcome
}

// NewController wires a run. checkpoint and obs may be nil.
func NewController(cfg ControllerConfig, state *RunState, browser Browser, walker *Walker, details DetailSource,
	deliverer Deliverer, checkpoint Checkpointer, obs Observer) *Controller {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Concurrency > MaxConcurrency {
		cfg.Concurrency = MaxConcurrency
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Controller{
		cfg:        cfg,
		browser:    browser,
		walker:     walker,
		details:    details,
		deliverer:  deliverer,
		checkpoint: checkpoint,
		obs:        obs,
		state:      state,
		phase:      PhaseIdle,
	}
}

// Phase returns the current run phase. Safe to call from any goroutine.
func (c *Controller) Phase() RunPhase {
	c.phaseMu.RLock()
	defer c.phaseMu.RUnlock()
	return c.phase
}

func (c *Controller) setPhase(p RunPhase) {
	c.phaseMu.Lock()
	prev := c.phase
	c.phase = p
	c.phaseMu.Unlock()
	slog.Info("Run state changed", "from", prev, "state", p)
	if c.cfg.OnPhase != nil {
		c.cfg.OnPhase(p)
	}
}

type fetched struct {
	record Record
	result FetchResult
}

// Run executes the crawl. The returned error is non-nil only when the run
// was aborted; the outcome is always populated.
func (c *Controller) Run(ctx context.Context) (RunOutcome, error) {
	start := time.Now()
	c.outcome = RunOutcome{}
	defer func() { c.saveProgress() }()

	c.setPhase(PhaseListing)
	slog.Info("Starting run", "start_page", c.cfg.StartPage, "capacity", c.cfg.Capacity,
		"concurrency", c.cfg.Concurrency, "known_ids", len(c.state.SeenIDs))

	listPage, err := c.browser.NewPage(ctx)
	if err != nil {
		return c.abort(start, fmt.Errorf("%w: open listing page: %v", ErrListingUnreachable, err))
	}
	defer func() { _ = listPage.Close() }()

	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()

	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Concurrency)
	// Capacity equal to the pool limit: results are drained before every
	// new task, so no worker ever blocks on send while Run waits in g.Go.
	results := make(chan fetched, c.cfg.Concurrency)

	var runErr error
	for stub, err := range c.walker.Walk(ctx, listPage, c.cfg.StartPage, c.cfg.Capacity) {
		if err != nil {
			runErr = err
			break
		}
		c.outcome.Discovered++
		if c.Phase() == PhaseListing {
			c.setPhase(PhaseDetailFetching)
		}

		if err := c.collectReady(ctx, results); err != nil {
			runErr = err
			break
		}
		g.Go(func() error {
			rec, res := c.details.FetchDetail(fetchCtx, stub)
			results <- fetched{record: rec, result: res}
			return nil
		})
	}

	if runErr != nil {
		// In-flight fetches come back as stub-only records
		cancelFetch()
	}
	if c.Phase() == PhaseListing {
		c.setPhase(PhaseDetailFetching)
	}

	go func() {
		_ = g.Wait()
		close(results)
	}()

	var ticker <-chan time.Time
	if c.cfg.StatsInterval > 0 {
		t := time.NewTicker(c.cfg.StatsInterval)
		defer t.Stop()
		ticker = t.C
	}

	sinkFailed := errors.Is(runErr, ErrSinkNotConfigured)
	for open := true; open; {
		select {
		case f, ok := <-results:
			if !ok {
				open = false
				break
			}
			if sinkFailed {
				c.accept(f)
				continue
			}
			if err := c.handle(ctx, f); err != nil {
				runErr = err
				sinkFailed = true
				cancelFetch()
			}
		case <-ticker:
			c.logProgress(start)
		}
	}

	if sinkFailed {
		return c.abort(start, runErr)
	}

	// Deliveries after cancellation are still attempted
	c.setPhase(PhaseDraining)
	drainCtx, cancelDrain := context.WithTimeout(context.WithoutCancel(ctx), finalDrainTimeout)
	defer cancelDrain()
	if err := c.flush(drainCtx, false); err != nil {
		return c.abort(start, err)
	}
	if err := c.flush(drainCtx, true); err != nil {
		return c.abort(start, err)
	}

	if runErr == nil {
		runErr = ctx.Err()
	}
	if runErr != nil {
		return c.abort(start, runErr)
	}

	c.setPhase(PhaseDone)
	out := c.finish(start)
	slog.Info("Run completed", "discovered", out.Discovered, "fetched", out.Fetched, "partial", out.Partial,
		"failed", out.Failed, "delivered", out.Delivered, "batches", out.Batches,
		"failed_batches", out.FailedBatches, "undelivered", len(out.Undelivered), "duration", out.Duration)
	return out, nil
}

// collectReady handles every result already waiting without blocking
func (c *Controller) collectReady(ctx context.Context, results <-chan fetched) error {
	for {
		select {
		case f := <-results:
			if err := c.handle(ctx, f); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (c *Controller) accept(f fetched) {
	c.state.Pending.Offer(f.record)
	c.obs.DetailFetched(f.result)
	switch f.result {
	case FetchSuccess:
		c.outcome.Fetched++
	case FetchPartial:
		c.outcome.Fetched++
		c.outcome.Partial++
	default:
		c.outcome.Failed++
	}
}

func (c *Controller) handle(ctx context.Context, f fetched) error {
	c.accept(f)
	return c.flush(ctx, false)
}

// flush delivers batches until the buffer has nothing to release. A failed
// batch stops the flush; its records wait for the next one.
func (c *Controller) flush(ctx context.Context, force bool) error {
	for {
		batch, ok := c.state.Pending.Drain(force)
		if !ok {
			return nil
		}
		out, err := c.deliverer.Deliver(ctx, batch)
		c.outcome.Batches++
		if err != nil {
			c.state.Pending.Nack(batch.IDs())
			c.outcome.FailedBatches++
			c.obs.BatchDelivered(len(batch.Records), false)
			return err
		}

		c.state.Pending.Ack(out.Delivered)
		if len(out.Failed) > 0 {
			c.state.Pending.Nack(out.Failed)
		}
		c.outcome.Delivered += len(out.Delivered)
		clean := len(out.Failed) == 0
		if !clean {
			c.outcome.FailedBatches++
		}
		c.obs.BatchDelivered(len(batch.Records), clean)

		if len(out.Delivered) > 0 && c.checkpoint != nil {
			if err := c.checkpoint.SaveDelivered(out.Delivered); err != nil {
				slog.Warn("Failed to checkpoint delivered ids", "batch_id", batch.ID, "error", err)
			}
		}
		if !clean {
			return nil
		}
	}
}

func (c *Controller) abort(start time.Time, err error) (RunOutcome, error) {
	c.setPhase(PhaseAborted)
	out := c.finish(start)
	slog.Error("Run aborted", "error", err, "discovered", out.Discovered, "delivered", out.Delivered,
		"undelivered", len(out.Undelivered))
	return out, err
}

func (c *Controller) finish(start time.Time) RunOutcome {
	c.outcome.Phase = c.Phase()
	c.outcome.Undelivered = c.state.Pending.Undelivered()
	c.outcome.Duration = time.Since(start)
	return c.outcome
}

func (c *Controller) saveProgress() {
	if c.checkpoint == nil {
		return
	}
	// Only ids that are delivered or kept as pending count as seen; anything
	// else must stay discoverable by a resumed run
	pending := c.state.Pending.Pending()
	seen := c.state.Delivered()
	for _, r := range pending {
		seen = append(seen, r.NaturalID)
	}
	if err := c.checkpoint.SavePending(pending); err != nil {
		slog.Warn("Failed to checkpoint pending records", "error", err, "pending", len(pending))
	}
	if err := c.checkpoint.SaveSeen(seen); err != nil {
		slog.Warn("Failed to checkpoint seen ids", "error", err)
	}
	if err := c.checkpoint.SaveLastPage(c.state.LastPage); err != nil {
		slog.Warn("Failed to checkpoint listing page", "error", err)
	}
}

func (c *Controller) logProgress(start time.Time) {
	slog.Info("Run progress",
		"state", c.Phase(),
		"discovered", c.outcome.Discovered,
		"fetched", c.outcome.Fetched,
		"failed", c.outcome.Failed,
		"delivered", c.outcome.Delivered,
		"pending", c.state.Pending.Eligible(),
		"elapsed", time.Since(start).Round(time.Second),
	)
}
