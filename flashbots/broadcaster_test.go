package flashbots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newCountingServer(t *testing.T, status int, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_, _ = w.Write([]byte(`{"result":{"bundleHash":"0xabc"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBroadcastReachesEveryBuilder(t *testing.T) {
	var hits [3]atomic.Int64
	clients := make([]*Client, 3)
	for i := range clients {
		clients[i] = newTestClient(t, newCountingServer(t, http.StatusOK, &hits[i]).URL)
	}

	b, err := NewBroadcaster(clients, prometheus.NewRegistry(), zaptest.NewLogger(t))
	require.NoError(t, err)

	report, err := b.Broadcast(context.Background(), testBundle(100), 99)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Accepted)
	require.Len(t, report.Outcomes, 3)
	for i := range hits {
		assert.Equal(t, int64(1), hits[i].Load())
	}
}

func TestBroadcastToleratesBuilderFailure(t *testing.T) {
	var okHits, badHits atomic.Int64
	ok := newTestClient(t, newCountingServer(t, http.StatusOK, &okHits).URL)
	bad := newTestClient(t, newCountingServer(t, http.StatusServiceUnavailable, &badHits).URL)

	b, err := NewBroadcaster([]*Client{bad, ok}, prometheus.NewRegistry(), zaptest.NewLogger(t))
	require.NoError(t, err)

	report, err := b.Broadcast(context.Background(), testBundle(100), 99)
	require.NoError(t, err, "a failing builder is an outcome, not a broadcast error")
	assert.Equal(t, 1, report.Accepted)
	assert.Error(t, report.Outcomes[0].Err)
	assert.NoError(t, report.Outcomes[1].Err)

	// The healthy builder was still tried after its sibling failed.
	assert.Equal(t, int64(1), okHits.Load())
}

func TestBroadcastSuppressesDuplicates(t *testing.T) {
	var hits atomic.Int64
	c := newTestClient(t, newCountingServer(t, http.StatusOK, &hits).URL)

	b, err := NewBroadcaster([]*Client{c}, prometheus.NewRegistry(), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = b.Broadcast(context.Background(), testBundle(100), 99)
	require.NoError(t, err)

	_, err = b.Broadcast(context.Background(), testBundle(100), 99)
	require.ErrorIs(t, err, ErrDuplicateBundle)
	assert.Equal(t, int64(1), hits.Load(), "duplicate never reaches the network")

	// Same transactions, later block: a fresh bundle, not a duplicate.
	_, err = b.Broadcast(context.Background(), testBundle(101), 99)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestBroadcasterCountersReachRegistry(t *testing.T) {
	var hits atomic.Int64
	c := newTestClient(t, newCountingServer(t, http.StatusOK, &hits).URL)

	reg := prometheus.NewRegistry()
	b, err := NewBroadcaster([]*Client{c}, reg, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = b.Broadcast(context.Background(), testBundle(100), 99)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["flasharb_bundle_broadcasts_total"])
	assert.True(t, names["flasharb_bundle_accepted_total"])
}

func TestBroadcastRefusesStaleBundle(t *testing.T) {
	var hits atomic.Int64
	c := newTestClient(t, newCountingServer(t, http.StatusOK, &hits).URL)

	b, err := NewBroadcaster([]*Client{c}, prometheus.NewRegistry(), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = b.Broadcast(context.Background(), testBundle(100), 100)
	require.ErrorIs(t, err, ErrStaleBundle)

	_, err = b.Broadcast(context.Background(), testBundle(100), 150)
	require.ErrorIs(t, err, ErrStaleBundle)
	assert.Zero(t, hits.Load())
}
