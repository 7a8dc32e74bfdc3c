package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// RetryOptions tunes Retrying
type RetryOptions struct {
	Attempts       int           // Tries including the first (default 3)
	Backoff        time.Duration // Fixed delay between tries
	Timeout        time.Duration // Hard limit per attempt (0 = none)
	RequestsPerMin int           // Client-side rate limit (0 = unlimited)
	Observe        func(error)   // Called once per Infer with the final error
}

// Retrying retries transient backend failures with a fixed backoff, bounds
// every attempt with its own timeout and paces calls with a token bucket.
type Retrying struct {
	next    Inferrer
	opts    RetryOptions
	limiter *rate.Limiter
}

// NewRetrying wraps next
func NewRetrying(next Inferrer, opts RetryOptions) *Retrying {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	limit := rate.Inf
	if opts.RequestsPerMin > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RequestsPerMin))
	}
	return &Retrying{
		next:    next,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Infer implements Inferrer
func (r *Retrying) Infer(ctx context.Context, prompt string, doc *Document) (string, error) {
	var out string
	attempt := 0
	op := func() error {
		attempt++
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		actx := ctx
		if r.opts.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
			defer cancel()
		}
		text, err := r.next.Infer(actx, prompt, doc)
		if err != nil {
			if !retryable(ctx, err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = text
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.opts.Backoff), uint64(r.opts.Attempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		slog.Debug("Inference attempt failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	})
	if err != nil {
		slog.Warn("Inference failed", "attempts", attempt, "error", err)
	}
	if r.opts.Observe != nil {
		r.opts.Observe(err)
	}
	return out, err
}

// retryable classifies an attempt error. The caller's own cancellation is
// final; an attempt timeout is not.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrDocumentUnsupported) || errors.Is(err, ErrNoAPIKey) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}
