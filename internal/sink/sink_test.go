package sink

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarabveer/cable-modem-stats/internal/stats"
)

func int64p(v int64) *int64 { return &v }

var testBatch = stats.Batch{
	Downstream: []stats.DownstreamChannel{
		{ChannelID: 1, Modulation: stats.ModulationQAM256, FrequencyHz: 507000000, PowerDBmV: 6.5, SNRdB: 42.1, Corrected: 12},
		{ChannelID: 33, Modulation: stats.ModulationOFDMPLC, FrequencyHz: 957000000, PowerDBmV: -1.5, SNRdB: 41, Corrected: 5, Uncorrectables: 2, Unerrored: int64p(1000)},
	},
	Upstream: []stats.UpstreamChannel{
		{ChannelID: 2, ChannelType: stats.ChannelTypeSCQAM, FrequencyHz: 22800000, Width: 6400000, PowerDBmV: 44.5},
	},
}

var testTime = time.Date(2023, 11, 14, 22, 13, 20, 987654321, time.UTC)

func TestPoints(t *testing.T) {
	points := Points(testBatch, testTime)
	require.Len(t, points, 3)

	var lines []string
	for _, p := range points {
		assert.Equal(t, time.Unix(1700000000, 0).UTC(), p.Time())
		lines = append(lines, strings.TrimSpace(write.PointToLineProtocol(p, time.Second)))
	}
	assert.Equal(t, []string{
		`downstream_statistics,channel_id=1,modulation=QAM256 corrected=12i,frequency=507000000i,power=6.5,snr=42.1,uncorrectables=0i 1700000000`,
		`downstream_statistics,channel_id=33,modulation=OFDM\ PLC corrected=5i,frequency=957000000i,power=-1.5,snr=41,uncorrectables=2i,unerrored=1000i 1700000000`,
		`upstream_statistics,channel_id=2,channel_type=SC-QAM frequency=22800000i,power=44.5,width=6400000i 1700000000`,
	}, lines)
}

func TestPoints_UpstreamOnly(t *testing.T) {
	points := Points(stats.Batch{Upstream: testBatch.Upstream}, testTime)
	require.Len(t, points, 1)
	assert.Equal(t, UpstreamMeasurement, points[0].Name())
}

func TestInflux_Write(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/write", r.URL.Path)
		assert.Equal(t, "myorg", r.URL.Query().Get("org"))
		assert.Equal(t, "cable_modem_stats", r.URL.Query().Get("bucket"))
		assert.Equal(t, "s", r.URL.Query().Get("precision"))
		assert.Equal(t, "Token s3cr3t", r.Header.Get("Authorization"))
		b, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		body = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewInflux(InfluxConfig{URL: srv.URL, Token: "s3cr3t", Org: "myorg", Bucket: "cable_modem_stats", Timeout: 5 * time.Second})
	defer s.Close()

	require.NoError(t, s.Write(context.Background(), testBatch, testTime))

	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "downstream_statistics,channel_id=1,modulation=QAM256 "))
	assert.Contains(t, lines[1], "unerrored=1000i")
	assert.True(t, strings.HasPrefix(lines[2], "upstream_statistics,channel_id=2,channel_type=SC-QAM "))
	for _, l := range lines {
		assert.True(t, strings.HasSuffix(l, " 1700000000"), l)
	}
}

func TestInflux_WriteRejected(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":"unauthorized","message":"unauthorized access"}`))
	}))
	defer srv.Close()

	s := NewInflux(InfluxConfig{URL: srv.URL, Org: "myorg", Bucket: "b", Timeout: 5 * time.Second})
	defer s.Close()

	err := s.Write(context.Background(), testBatch, testTime)
	var werr *WriteError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, http.StatusUnauthorized, werr.StatusCode)
	assert.Equal(t, srv.URL, werr.URL)
	assert.Contains(t, err.Error(), "unauthorized access")
	assert.Equal(t, 1, calls)
}

func TestInflux_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	s := NewInflux(InfluxConfig{URL: url, Org: "o", Bucket: "b", Timeout: time.Second})
	defer s.Close()

	var werr *WriteError
	assert.True(t, errors.As(s.Write(context.Background(), testBatch, testTime), &werr))
}

func TestPrometheus_EmptyUntilFirstWrite(t *testing.T) {
	s := NewPrometheus()
	assert.Equal(t, 0, testutil.CollectAndCount(s))
}

func TestPrometheus_Collect(t *testing.T) {
	s := NewPrometheus()
	require.NoError(t, s.Write(context.Background(), testBatch, testTime))

	// 1 timestamp + 5 metrics for channel 1 + 6 for channel 33 + 3 upstream
	assert.Equal(t, 15, testutil.CollectAndCount(s))
	assert.Equal(t, 1, testutil.CollectAndCount(s, "cable_modem_downstream_codewords_unerrored_total"))

	expected := `
# HELP cable_modem_downstream_power_dbmv Downstream Power Level
# TYPE cable_modem_downstream_power_dbmv gauge
cable_modem_downstream_power_dbmv{channel="01",modulation="QAM256"} 6.5
cable_modem_downstream_power_dbmv{channel="33",modulation="OFDM PLC"} -1.5
# HELP cable_modem_last_write_timestamp_seconds Time of the last batch read from the modem.
# TYPE cable_modem_last_write_timestamp_seconds gauge
cable_modem_last_write_timestamp_seconds 1.7e+09
# HELP cable_modem_upstream_width Upstream Width (Hz or ksym/s depending on the modem)
# TYPE cable_modem_upstream_width gauge
cable_modem_upstream_width{channel="02",channel_type="SC-QAM"} 6.4e+06
`
	assert.NoError(t, testutil.CollectAndCompare(s, strings.NewReader(expected),
		"cable_modem_downstream_power_dbmv",
		"cable_modem_last_write_timestamp_seconds",
		"cable_modem_upstream_width",
	))
}

func TestPrometheus_WriteReplacesBatch(t *testing.T) {
	s := NewPrometheus()
	require.NoError(t, s.Write(context.Background(), testBatch, testTime))
	require.NoError(t, s.Write(context.Background(), stats.Batch{Upstream: testBatch.Upstream}, testTime.Add(time.Minute)))

	assert.Equal(t, 4, testutil.CollectAndCount(s))
}

func TestPrometheus_DuplicateChannelsDropped(t *testing.T) {
	dup := stats.Batch{
		Downstream: append([]stats.DownstreamChannel{testBatch.Downstream[0]}, testBatch.Downstream...),
		Upstream:   append([]stats.UpstreamChannel{testBatch.Upstream[0]}, testBatch.Upstream...),
	}
	dup.Downstream[1].PowerDBmV = 9.9

	s := NewPrometheus()
	require.NoError(t, s.Write(context.Background(), dup, testTime))
	assert.Equal(t, 15, testutil.CollectAndCount(s))

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(s))
	_, err := reg.Gather()
	assert.NoError(t, err)

	// the first occurrence wins
	expected := `
# HELP cable_modem_downstream_power_dbmv Downstream Power Level
# TYPE cable_modem_downstream_power_dbmv gauge
cable_modem_downstream_power_dbmv{channel="01",modulation="QAM256"} 6.5
cable_modem_downstream_power_dbmv{channel="33",modulation="OFDM PLC"} -1.5
`
	assert.NoError(t, testutil.CollectAndCompare(s, strings.NewReader(expected), "cable_modem_downstream_power_dbmv"))
}
