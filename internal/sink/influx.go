package sink

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/common/log"

	"github.com/sarabveer/cable-modem-stats/internal/stats"
)

type InfluxConfig struct {
	URL       string
	Token     string
	Org       string
	Bucket    string
	VerifySSL bool
	Timeout   time.Duration
}

// Influx writes batches to an InfluxDB 2.x bucket with a single blocking
// request per batch. Failed writes are not retried or buffered.
type Influx struct {
	cfg      InfluxConfig
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

func NewInflux(cfg InfluxConfig) *Influx {
	options := influxdb2.DefaultOptions().
		SetPrecision(time.Second).
		SetTLSConfig(&tls.Config{InsecureSkipVerify: !cfg.VerifySSL})
	if cfg.Timeout > 0 {
		options.SetHTTPRequestTimeout(uint(cfg.Timeout / time.Second))
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options)
	return &Influx{
		cfg:      cfg,
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}
}

func (s *Influx) Write(ctx context.Context, batch stats.Batch, ts time.Time) error {
	log.Infof("Sending stats to InfluxDB (%s)", s.cfg.URL)

	points := Points(batch, ts)
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		werr := &WriteError{Destination: "InfluxDB", URL: s.cfg.URL, Err: err}
		var herr *influxhttp.Error
		if errors.As(err, &herr) {
			werr.StatusCode = herr.StatusCode
		}
		return werr
	}

	log.With("bucket", s.cfg.Bucket).With("points", len(points)).Infoln("Successfully wrote data to InfluxDB")
	for _, p := range points {
		log.Debugln(write.PointToLineProtocol(p, time.Second))
	}
	return nil
}

func (s *Influx) Close() {
	s.client.Close()
}
