package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahif/oppcrawl/internal/crawler"
	"github.com/masahif/oppcrawl/internal/storage"
)

func newTestServer(t *testing.T, token string) (*Server, *storage.SQLiteStorage) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "sink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewServer(Config{Token: token}, store), store
}

func post(t *testing.T, router http.Handler, body any, headers map[string]string) (*httptest.ResponseRecorder, crawler.SinkResponse) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp crawler.SinkResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func envelope(ids ...string) crawler.Envelope {
	env := crawler.Envelope{TenantID: "t1", Source: "buyict", ScrapedAt: time.Now().UTC(), TotalCount: len(ids)}
	for _, id := range ids {
		env.Records = append(env.Records, crawler.Record{NaturalID: id, SourceURL: "https://x/" + id, Title: "Title " + id})
	}
	return env
}

func TestWebhookUpserts(t *testing.T) {
	s, store := newTestServer(t, "")

	w, resp := post(t, s.Router(), envelope("A", "B"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.OK)
	assert.Equal(t, &crawler.SinkStats{Added: 2}, resp.Stats)

	n, err := store.CountRecords(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestWebhookReplaysIdempotencyKey(t *testing.T) {
	s, _ := newTestServer(t, "")
	headers := map[string]string{"Idempotency-Key": "batch-1"}

	_, first := post(t, s.Router(), envelope("A"), headers)
	w, second := post(t, s.Router(), envelope("A"), headers)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first, second)

	// Without the key the upsert itself reports nothing new
	_, third := post(t, s.Router(), envelope("A"), nil)
	assert.Equal(t, &crawler.SinkStats{}, third.Stats)
}

func TestWebhookRejectsBadEnvelopes(t *testing.T) {
	s, _ := newTestServer(t, "")

	noTenant := envelope("A")
	noTenant.TenantID = ""
	w, resp := post(t, s.Router(), noTenant, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.OK)

	noID := envelope("A")
	noID.Records[0].NaturalID = ""
	w, _ = post(t, s.Router(), noID, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookRequiresToken(t *testing.T) {
	s, _ := newTestServer(t, "secret")

	w, _ := post(t, s.Router(), envelope("A"), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = post(t, s.Router(), envelope("A"), map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, resp := post(t, s.Router(), envelope("A"), map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.OK)

	health := httptest.NewRecorder()
	s.Router().ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, health.Code, "health is open")
}

func TestListRecords(t *testing.T) {
	s, _ := newTestServer(t, "")
	post(t, s.Router(), envelope("A"), nil)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/records?tenant=t1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Records []storage.StoredRecord `json:"records"`
		Count   int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "A", body.Records[0].NaturalID)
	assert.Equal(t, "Title A", body.Records[0].Title)

	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/records", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type failingStore struct{}

func (failingStore) UpsertRecords(context.Context, string, string, []crawler.Record) (storage.UpsertStats, error) {
	return storage.UpsertStats{}, errors.New("disk full")
}

func (failingStore) ListRecords(context.Context, string) ([]storage.StoredRecord, error) {
	return nil, errors.New("disk full")
}

func TestWebhookStoreFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewServer(Config{}, failingStore{})

	w, resp := post(t, s.Router(), envelope("A"), nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, resp.OK)
}

// Redelivering a batch through the dispatcher leaves the sink unchanged
func TestDispatcherRedeliveryIsIdempotent(t *testing.T) {
	s, store := newTestServer(t, "tok")
	server := httptest.NewServer(s.Router())
	defer server.Close()

	client := crawler.NewHTTPClient("oppcrawl-test/1.0", 5*time.Second)
	client.SetBearerAuth("tok")
	d := crawler.NewDispatcher(client, server.URL+"/webhook", "t1", "buyict")

	batch := crawler.DeliveryBatch{ID: "b1", Records: envelope("A", "B", "C").Records, IsFinal: true}
	first, err := d.Deliver(context.Background(), batch)
	require.NoError(t, err)
	assert.Len(t, first.Delivered, 3)
	assert.Equal(t, 3, first.Added)

	batch.ID = "b2"
	second, err := d.Deliver(context.Background(), batch)
	require.NoError(t, err)
	assert.Len(t, second.Delivered, 3)
	assert.Zero(t, second.Added)
	assert.Zero(t, second.Updated)

	records, err := store.ListRecords(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, records, 3)
}
