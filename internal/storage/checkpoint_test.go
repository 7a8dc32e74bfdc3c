package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahif/oppcrawl/internal/crawler"
)

var _ crawler.Checkpointer = (*Checkpoint)(nil)

func TestCheckpointRoundTrip(t *testing.T) {
	cp := newTestStorage(t).Checkpoint("buyict")

	snap, err := cp.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Seen)
	assert.Zero(t, snap.LastPage)

	require.NoError(t, cp.SaveSeen([]string{"B", "A", "C"}))
	require.NoError(t, cp.SaveSeen([]string{"A", "D"}))
	require.NoError(t, cp.SaveDelivered([]string{"A", "B"}))
	require.NoError(t, cp.SaveDelivered(nil))
	require.NoError(t, cp.SaveLastPage(4))

	snap, err = cp.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, snap.Seen)
	assert.Equal(t, []string{"A", "B"}, snap.Delivered)
	assert.Equal(t, 4, snap.LastPage)
}

func TestCheckpointScopedBySource(t *testing.T) {
	storage := newTestStorage(t)
	require.NoError(t, storage.Checkpoint("buyict").SaveSeen([]string{"A"}))
	require.NoError(t, storage.Checkpoint("buyict").SaveLastPage(2))

	snap, err := storage.Checkpoint("tenders").Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Seen)
	assert.Zero(t, snap.LastPage)
}

func TestCheckpointReset(t *testing.T) {
	storage := newTestStorage(t)
	cp := storage.Checkpoint("buyict")
	other := storage.Checkpoint("tenders")
	require.NoError(t, cp.SaveSeen([]string{"A"}))
	require.NoError(t, cp.SaveDelivered([]string{"A"}))
	require.NoError(t, cp.SaveLastPage(3))
	require.NoError(t, cp.SavePending([]crawler.Record{{NaturalID: "B"}}))
	require.NoError(t, other.SaveSeen([]string{"Z"}))

	require.NoError(t, cp.Reset())

	snap, err := cp.Load()
	require.NoError(t, err)
	assert.Equal(t, Snapshot{}, snap)

	snap, err = other.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"Z"}, snap.Seen)
}

func TestCheckpointPendingRecords(t *testing.T) {
	storage := newTestStorage(t)
	cp := storage.Checkpoint("buyict")

	pending := []crawler.Record{
		{NaturalID: "ATM-2", SourceURL: "https://example.gov/atm/2", Title: "Cloud migration"},
		{NaturalID: "ATM-1", SourceURL: "https://example.gov/atm/1", Criteria: []string{"Security clearance"}},
	}
	require.NoError(t, cp.SavePending(pending))
	require.NoError(t, storage.Checkpoint("tenders").SavePending([]crawler.Record{{NaturalID: "T-1"}}))

	snap, err := cp.Load()
	require.NoError(t, err)
	require.Len(t, snap.Pending, 2)
	assert.Equal(t, pending[1], snap.Pending[0])
	assert.Equal(t, pending[0], snap.Pending[1])

	// A later save replaces the set rather than adding to it
	require.NoError(t, cp.SavePending([]crawler.Record{pending[0]}))
	snap, err = cp.Load()
	require.NoError(t, err)
	assert.Equal(t, []crawler.Record{pending[0]}, snap.Pending)

	require.NoError(t, cp.SavePending(nil))
	snap, err = cp.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Pending)

	snap, err = storage.Checkpoint("tenders").Load()
	require.NoError(t, err)
	assert.Len(t, snap.Pending, 1)
}
