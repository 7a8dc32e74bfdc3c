package crawler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBatch(final bool, idList ...string) DeliveryBatch {
	return DeliveryBatch{ID: "batch-" + idList[0], Records: records(idList...), IsFinal: final, EmittedAt: time.Now()}
}

func TestDispatcherDelivers(t *testing.T) {
	var got Envelope
	var key, auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("Idempotency-Key")
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"stats":{"added":2,"updated":1}}`))
	}))
	defer server.Close()

	client := NewHTTPClient("oppcrawl-test/1.0", 5*time.Second)
	client.SetBearerAuth("sink-token")
	d := NewDispatcher(client, server.URL, "tenant-1", "buyict")

	out, err := d.Deliver(context.Background(), testBatch(true, "A", "B", "C"))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, out.Delivered)
	assert.Empty(t, out.Failed)
	assert.Equal(t, 2, out.Added)
	assert.Equal(t, 1, out.Updated)

	assert.Equal(t, "batch-A", key)
	assert.Equal(t, "Bearer sink-token", auth)
	assert.Equal(t, "tenant-1", got.TenantID)
	assert.Equal(t, "buyict", got.Source)
	assert.Equal(t, 3, got.TotalCount)
	assert.True(t, got.IsFinal)
	assert.False(t, got.ScrapedAt.IsZero())
	require.Len(t, got.Records, 3)
	assert.Equal(t, "A", got.Records[0].NaturalID)
}

func TestDispatcherFailsWholeBatch(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"ok":false}`},
		{"client error", http.StatusUnprocessableEntity, `{"ok":false,"error":"bad"}`},
		{"ok false", http.StatusOK, `{"ok":false,"error":"db locked"}`},
		{"not json", http.StatusOK, `<html>proxy</html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			d := NewDispatcher(NewHTTPClient("oppcrawl-test/1.0", 5*time.Second), server.URL, "t", "s")
			out, err := d.Deliver(context.Background(), testBatch(false, "A", "B"))

			require.NoError(t, err)
			assert.Empty(t, out.Delivered)
			assert.Equal(t, []string{"A", "B"}, out.Failed)
			assert.Equal(t, 1, calls, "no retry inside a delivery")
		})
	}
}

func TestDispatcherTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	sinkURL := server.URL
	server.Close()

	d := NewDispatcher(NewHTTPClient("oppcrawl-test/1.0", time.Second), sinkURL, "t", "s")
	out, err := d.Deliver(context.Background(), testBatch(false, "A"))

	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, out.Failed)
}

func TestDispatcherSinkNotConfigured(t *testing.T) {
	for _, sinkURL := range []string{"", "not a url", "ftp://sink.example/webhook", "http://"} {
		d := NewDispatcher(NewHTTPClient("oppcrawl-test/1.0", time.Second), sinkURL, "t", "s")
		out, err := d.Deliver(context.Background(), testBatch(true, "A"))
		assert.ErrorIs(t, err, ErrSinkNotConfigured, "url %q", sinkURL)
		assert.Equal(t, []string{"A"}, out.Failed)
	}
}
