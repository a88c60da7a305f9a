package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Fetches.WithLabelValues("local_http", "ok").Inc()
	m.OracleCalls.WithLabelValues("malformed").Add(2)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Fetches.WithLabelValues("local_http", "ok")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.OracleCalls.WithLabelValues("malformed")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "research_crawler_fetch_total")
	assert.Contains(t, names, "research_crawler_oracle_calls_total")
}

func TestNop_DoesNotPanic(t *testing.T) {
	m := Nop()
	m.ResolveSteps.WithLabelValues("extracted").Inc()
	m.SiteDuration.Observe(3)
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Sites.WithLabelValues("complete").Inc()

	srv := httptest.NewServer(Router(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	n, err := testutil.GatherAndCount(reg, "research_crawler_sites_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
