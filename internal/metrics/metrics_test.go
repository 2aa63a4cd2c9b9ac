package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRegistered(t *testing.T) {
	for _, c := range []prometheus.Collector{
		CacheLookups, CacheRequests, RequestDuration, Prefetches,
		URLWrites, PollRetries, PollCompletions, ActiveSessions,
	} {
		err := prometheus.Register(c)
		var already prometheus.AlreadyRegisteredError
		require.ErrorAs(t, err, &already)
	}
}

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(Prefetches.WithLabelValues("scheduled"))
	Prefetches.WithLabelValues("scheduled").Inc()
	assert.InDelta(t, before+1, testutil.ToFloat64(Prefetches.WithLabelValues("scheduled")), 1e-9)

	g := testutil.ToFloat64(ActiveSessions)
	ActiveSessions.Inc()
	ActiveSessions.Dec()
	assert.InDelta(t, g, testutil.ToFloat64(ActiveSessions), 1e-9)
}
