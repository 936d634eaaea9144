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

func TestInstrumentRoundTripper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	m := New(prometheus.NewRegistry())
	client := &http.Client{Transport: m.InstrumentRoundTripper(http.DefaultTransport)}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.clientRequestCount.WithLabelValues("418", "get")))
}

func TestNew_RegistersEverything(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.FetchFailures.WithLabelValues("network_error").Inc()
	m.clientRequestCount.WithLabelValues("200", "get").Inc()
	m.clientRequestDuration.WithLabelValues("200", "get").Observe(0.1)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"cable_modem_stats_poll_cycles_total",
		"cable_modem_stats_auth_failures_total",
		"cable_modem_stats_fetch_failures_total",
		"cable_modem_stats_parse_failures_total",
		"cable_modem_stats_sink_failures_total",
		"cable_modem_stats_last_success_timestamp_seconds",
		"cable_modem_stats_client_requests_total",
		"cable_modem_stats_client_request_duration_seconds",
	} {
		assert.True(t, names[want], want)
	}
}
