// Package metrics holds the collector's own Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cable_modem_stats"

type Metrics struct {
	PollCycles    prometheus.Counter
	AuthFailures  prometheus.Counter
	FetchFailures *prometheus.CounterVec
	ParseFailures prometheus.Counter
	SinkFailures  prometheus.Counter
	LastSuccess   prometheus.Gauge

	clientRequestCount    *prometheus.CounterVec
	clientRequestDuration *prometheus.HistogramVec
}

// New creates the collector metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Number of polling cycles started.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Number of failed modem logins.",
		}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Number of failed modem data retrievals.",
		}, []string{"reason"}),
		ParseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_failures_total",
			Help:      "Number of modem responses that yielded no channels.",
		}),
		SinkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Number of failed writes to the stats destination.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Time of the last batch delivered to the stats destination.",
		}),
		clientRequestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_requests_total",
			Help:      "HTTP requests to the modem.",
		}, []string{"code", "method"}),
		clientRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "client_request_duration_seconds",
			Help:      "Histogram of modem HTTP request latencies.",
		}, []string{"code", "method"}),
	}

	reg.MustRegister(
		m.PollCycles,
		m.AuthFailures,
		m.FetchFailures,
		m.ParseFailures,
		m.SinkFailures,
		m.LastSuccess,
		m.clientRequestCount,
		m.clientRequestDuration,
	)
	return m
}

// InstrumentRoundTripper counts and times every request sent through next.
func (m *Metrics) InstrumentRoundTripper(next http.RoundTripper) http.RoundTripper {
	return promhttp.InstrumentRoundTripperCounter(m.clientRequestCount,
		promhttp.InstrumentRoundTripperDuration(m.clientRequestDuration, next))
}
