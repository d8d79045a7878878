package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.ObserveWalletOp("deduct", OutcomeSuccess, time.Millisecond)
		r.ConnectionOpened("user")
		r.ConnectionClosed("user")
		r.EventEmitted("vote_update")
		r.DispatchFailed("vote_update")
		r.ThrottledFlush("leaderboard_update")
		r.ReconcileMismatch("ledger", 2)
		r.OutboxProcessed(OutcomeError)
	})
}

func TestDefaultRegistryCounts(t *testing.T) {
	r := Default()
	assert.Same(t, r, Default())

	before := testutil.ToFloat64(r.reconcileMismatch.WithLabelValues("tally"))
	r.ReconcileMismatch("tally", 3)
	r.ReconcileMismatch("tally", 0)
	assert.Equal(t, before+3, testutil.ToFloat64(r.reconcileMismatch.WithLabelValues("tally")))

	r.ConnectionOpened("admin")
	r.ConnectionOpened("admin")
	r.ConnectionClosed("admin")
	assert.Equal(t, float64(1), testutil.ToFloat64(r.liveConnections.WithLabelValues("admin")))
}
