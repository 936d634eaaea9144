package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/log"

	"github.com/sarabveer/cable-modem-stats/internal/stats"
)

const namespace = "cable_modem"

func newChannelMetric(subsystemName, metricName, docString string, extraLabels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystemName, metricName), docString, append([]string{"channel"}, extraLabels...), nil)
}

var (
	lastWriteMetric = prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "last_write_timestamp_seconds"), "Time of the last batch read from the modem.", nil, nil)

	downstreamFrequency     = newChannelMetric("downstream", "frequency_hz", "Downstream Frequency", "modulation")
	downstreamPower         = newChannelMetric("downstream", "power_dbmv", "Downstream Power Level", "modulation")
	downstreamSNR           = newChannelMetric("downstream", "snr_db", "Downstream SNR/MER", "modulation")
	downstreamCorrected     = newChannelMetric("downstream", "codewords_corrected_total", "Downstream Corrected Codewords", "modulation")
	downstreamUncorrectable = newChannelMetric("downstream", "codewords_uncorrectable_total", "Downstream Uncorrectable Codewords", "modulation")
	downstreamUnerrored     = newChannelMetric("downstream", "codewords_unerrored_total", "Downstream Unerrored Codewords", "modulation")

	upstreamFrequency = newChannelMetric("upstream", "frequency_hz", "Upstream Frequency", "channel_type")
	upstreamWidth     = newChannelMetric("upstream", "width", "Upstream Width (Hz or ksym/s depending on the modem)", "channel_type")
	upstreamPower     = newChannelMetric("upstream", "power_dbmv", "Upstream Transmit Level", "channel_type")
)

// Prometheus keeps the last delivered batch and exposes it on scrape.
type Prometheus struct {
	mutex sync.RWMutex
	batch stats.Batch
	ts    time.Time
}

func NewPrometheus() *Prometheus {
	return &Prometheus{}
}

func (s *Prometheus) Write(_ context.Context, batch stats.Batch, ts time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.batch = stats.Batch{}
	seen := map[string]bool{}
	for _, d := range batch.Downstream {
		key := "down/" + channelLabel(d.ChannelID) + "/" + string(d.Modulation)
		if seen[key] {
			log.Warnf("Dropping duplicate downstream channel %d (%s)", d.ChannelID, d.Modulation)
			continue
		}
		seen[key] = true
		s.batch.Downstream = append(s.batch.Downstream, d)
	}
	for _, u := range batch.Upstream {
		key := "up/" + channelLabel(u.ChannelID) + "/" + string(u.ChannelType)
		if seen[key] {
			log.Warnf("Dropping duplicate upstream channel %d (%s)", u.ChannelID, u.ChannelType)
			continue
		}
		seen[key] = true
		s.batch.Upstream = append(s.batch.Upstream, u)
	}
	s.ts = ts.UTC().Truncate(time.Second)
	log.Debugf("Stored %d channels for the next scrape", batch.Len())
	return nil
}

func (s *Prometheus) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		lastWriteMetric,
		downstreamFrequency,
		downstreamPower,
		downstreamSNR,
		downstreamCorrected,
		downstreamUncorrectable,
		downstreamUnerrored,
		upstreamFrequency,
		upstreamWidth,
		upstreamPower,
	} {
		ch <- d
	}
}

func (s *Prometheus) Collect(ch chan<- prometheus.Metric) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.ts.IsZero() {
		return
	}
	ch <- prometheus.MustNewConstMetric(lastWriteMetric, prometheus.GaugeValue, float64(s.ts.Unix()))

	for _, d := range s.batch.Downstream {
		labels := []string{channelLabel(d.ChannelID), string(d.Modulation)}
		ch <- prometheus.MustNewConstMetric(downstreamFrequency, prometheus.GaugeValue, float64(d.FrequencyHz), labels...)
		ch <- prometheus.MustNewConstMetric(downstreamPower, prometheus.GaugeValue, d.PowerDBmV, labels...)
		ch <- prometheus.MustNewConstMetric(downstreamSNR, prometheus.GaugeValue, d.SNRdB, labels...)
		ch <- prometheus.MustNewConstMetric(downstreamCorrected, prometheus.CounterValue, float64(d.Corrected), labels...)
		ch <- prometheus.MustNewConstMetric(downstreamUncorrectable, prometheus.CounterValue, float64(d.Uncorrectables), labels...)
		if d.Unerrored != nil {
			ch <- prometheus.MustNewConstMetric(downstreamUnerrored, prometheus.CounterValue, float64(*d.Unerrored), labels...)
		}
	}

	for _, u := range s.batch.Upstream {
		labels := []string{channelLabel(u.ChannelID), string(u.ChannelType)}
		ch <- prometheus.MustNewConstMetric(upstreamFrequency, prometheus.GaugeValue, float64(u.FrequencyHz), labels...)
		ch <- prometheus.MustNewConstMetric(upstreamWidth, prometheus.GaugeValue, float64(u.Width), labels...)
		ch <- prometheus.MustNewConstMetric(upstreamPower, prometheus.GaugeValue, u.PowerDBmV, labels...)
	}
}

func channelLabel(id int) string {
	return fmt.Sprintf("%02d", id)
}
