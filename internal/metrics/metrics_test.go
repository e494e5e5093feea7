package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(RedirectFramesTotal.WithLabelValues("sent"))
	RedirectFramesTotal.WithLabelValues("sent").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(RedirectFramesTotal.WithLabelValues("sent")))

	before = testutil.ToFloat64(ChannelRequestsTotal.WithLabelValues(OutcomeTimeout))
	ChannelRequestsTotal.WithLabelValues(OutcomeTimeout).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ChannelRequestsTotal.WithLabelValues(OutcomeTimeout)))
}

func TestServerServesMetrics(t *testing.T) {
	ResolverLookupsTotal.WithLabelValues(ResultHit, "netlink").Inc()

	srv := NewServer("127.0.0.1:0", "")
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop(context.Background())

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "l2relay_resolver_lookups_total")
}

func TestServerStartFailsOnBadAddr(t *testing.T) {
	srv := NewServer("256.0.0.1:99999", "/m")
	assert.Error(t, srv.Start(context.Background()))
	assert.NoError(t, srv.Stop(context.Background()))
}
