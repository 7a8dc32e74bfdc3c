package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// Envelope is the JSON body posted to the sink for every batch
type Envelope struct {
	TenantID   string    `json:"tenantId"`
	Records    []Record  `json:"records"`
	ScrapedAt  time.Time `json:"scrapedAt"`
	TotalCount int       `json:"totalCount"`
	Source     string    `json:"source"`
	IsFinal    bool      `json:"isFinal"`
}

// SinkStats are the upsert counts reported by the sink
type SinkStats struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
}

// SinkResponse is the JSON body the sink answers with
type SinkResponse struct {
	OK    bool       `json:"ok"`
	Stats *SinkStats `json:"stats,omitempty"`
	Error string     `json:"error,omitempty"`
}

// Dispatcher posts batches to the webhook sink. It makes exactly one request
// per batch; a failed batch is retried only by being drained again.
type Dispatcher struct {
	httpClient *HTTPClient
	sinkURL    string
	tenantID   string
	source     string
	now        func() time.Time
}

// NewDispatcher creates a dispatcher for sinkURL. The URL is checked when a
// delivery is attempted.
func NewDispatcher(httpClient *HTTPClient, sinkURL, tenantID, source string) *Dispatcher {
	return &Dispatcher{
		httpClient: httpClient,
		sinkURL:    sinkURL,
		tenantID:   tenantID,
		source:     source,
		now:        time.Now,
	}
}

// Deliver sends batch. Transport errors, non-2xx statuses and ok=false fail
// the whole batch without partial credit. The returned error is non-nil only
// when the sink itself is misconfigured.
func (d *Dispatcher) Deliver(ctx context.Context, batch DeliveryBatch) (DeliveryOutcome, error) {
	ids := batch.IDs()
	if !validSinkURL(d.sinkURL) {
		return DeliveryOutcome{Failed: ids}, fmt.Errorf("%w: %q", ErrSinkNotConfigured, d.sinkURL)
	}

	body, err := json.Marshal(Envelope{
		TenantID:   d.tenantID,
		Records:    batch.Records,
		ScrapedAt:  d.now().UTC(),
		TotalCount: len(batch.Records),
		Source:     d.source,
		IsFinal:    batch.IsFinal,
	})
	if err != nil {
		return DeliveryOutcome{Failed: ids}, fmt.Errorf("encode batch %s: %w", batch.ID, err)
	}

	resp, err := d.httpClient.PostJSON(ctx, d.sinkURL, body, map[string]string{
		"Idempotency-Key": batch.ID,
	})
	if err != nil {
		slog.Warn("Batch delivery failed", "batch_id", batch.ID, "records", len(ids), "error", err)
		return DeliveryOutcome{Failed: ids}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("Sink rejected batch", "batch_id", batch.ID, "status", resp.StatusCode, "records", len(ids))
		return DeliveryOutcome{Failed: ids}, nil
	}

	var sr SinkResponse
	if err := json.Unmarshal(resp.Body, &sr); err != nil || !sr.OK {
		slog.Warn("Sink did not confirm batch", "batch_id", batch.ID, "status", resp.StatusCode, "sink_error", sr.Error)
		return DeliveryOutcome{Failed: ids}, nil
	}

	out := DeliveryOutcome{Delivered: ids}
	if sr.Stats != nil {
		out.Added = sr.Stats.Added
		out.Updated = sr.Stats.Updated
	}
	slog.Info("Delivered batch", "batch_id", batch.ID, "records", len(ids), "final", batch.IsFinal,
		"added", out.Added, "updated", out.Updated, "duration", resp.Metrics.DownloadTime)
	return out, nil
}

func validSinkURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
