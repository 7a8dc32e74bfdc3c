package crawler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultBatchThreshold is the number of pending records that releases a batch
const DefaultBatchThreshold = 20

// Buffer accumulates extracted records keyed by natural id and releases
// fixed-size batches. A drained record stays in flight until the dispatcher
// reports back through Ack or Nack, so an id is never part of two batches at
// the same time.
type Buffer struct {
	mu        sync.Mutex
	threshold int
	order     []string // undelivered ids in first-offer order
	records   map[string]Record
	inFlight  map[string]struct{}
	delivered map[string]struct{}
	now       func() time.Time
}

// NewBuffer creates a buffer that shares the delivered set with its run state
func NewBuffer(threshold int, delivered map[string]struct{}) *Buffer {
	if threshold <= 0 {
		threshold = DefaultBatchThreshold
	}
	if delivered == nil {
		delivered = make(map[string]struct{})
	}
	return &Buffer{
		threshold: threshold,
		records:   make(map[string]Record),
		inFlight:  make(map[string]struct{}),
		delivered: delivered,
		now:       time.Now,
	}
}

// Threshold returns the batch size
func (b *Buffer) Threshold() int {
	return b.threshold
}

// Offer adds a record. Re-offering a pending id replaces its content in place;
// an already delivered id is accepted but never batched again.
func (b *Buffer) Offer(r Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.delivered[r.NaturalID]; ok {
		slog.Debug("Ignoring already delivered record", "natural_id", r.NaturalID)
		return
	}
	if _, ok := b.records[r.NaturalID]; !ok {
		b.order = append(b.order, r.NaturalID)
	}
	b.records[r.NaturalID] = r
}

// Drain returns a batch when enough records are eligible. With force set it
// returns every remaining eligible record as the final batch. The boolean is
// false when there is nothing to send.
func (b *Buffer) Drain(force bool) (DeliveryBatch, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	eligible := b.eligibleLocked()
	if force {
		if len(eligible) == 0 {
			return DeliveryBatch{}, false
		}
	} else {
		if len(eligible) < b.threshold {
			return DeliveryBatch{}, false
		}
		eligible = eligible[:b.threshold]
	}

	batch := DeliveryBatch{
		ID:        uuid.NewString(),
		Records:   make([]Record, 0, len(eligible)),
		IsFinal:   force,
		EmittedAt: b.now().UTC(),
	}
	for _, id := range eligible {
		batch.Records = append(batch.Records, b.records[id])
		b.inFlight[id] = struct{}{}
	}
	return batch, true
}

// Ack marks ids as delivered and removes them from the pending list
func (b *Buffer) Ack(ids []string) {
	if len(ids) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range ids {
		delete(b.inFlight, id)
		delete(b.records, id)
		b.delivered[id] = struct{}{}
	}
	kept := b.order[:0]
	for _, id := range b.order {
		if _, ok := b.delivered[id]; !ok {
			kept = append(kept, id)
		}
	}
	b.order = kept
}

// Nack returns ids of a failed batch to the eligible pool
func (b *Buffer) Nack(ids []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range ids {
		delete(b.inFlight, id)
	}
}

// Eligible returns the number of undelivered records not in flight
func (b *Buffer) Eligible() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.eligibleLocked())
}

// Undelivered returns every pending id, in flight or not, in offer order
func (b *Buffer) Undelivered() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Pending returns every undelivered record, in flight or not, in offer order
func (b *Buffer) Pending() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.records[id])
	}
	return out
}

func (b *Buffer) eligibleLocked() []string {
	out := make([]string, 0, len(b.order))
	for _, id := range b.order {
		if _, busy := b.inFlight[id]; busy {
			continue
		}
		out = append(out, id)
	}
	return out
}
