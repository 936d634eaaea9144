// Package sink delivers normalized channel readings to a time-series store.
package sink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/sarabveer/cable-modem-stats/internal/stats"
)

const (
	DownstreamMeasurement = "downstream_statistics"
	UpstreamMeasurement   = "upstream_statistics"
)

// Sink writes one batch, with every point stamped ts.
type Sink interface {
	Write(ctx context.Context, batch stats.Batch, ts time.Time) error
}

// WriteError reports a rejected write or a transport failure.
type WriteError struct {
	Destination string
	URL         string
	StatusCode  int
	Err         error
}

func (e *WriteError) Error() string {
	msg := fmt.Sprintf("error writing to %s at %s", e.Destination, e.URL)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": HTTP status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WriteError) Unwrap() error { return e.Err }

// Points converts a batch into one point per channel. ts is truncated to
// whole seconds.
func Points(batch stats.Batch, ts time.Time) []*write.Point {
	ts = ts.UTC().Truncate(time.Second)

	points := make([]*write.Point, 0, batch.Len())
	for _, ch := range batch.Downstream {
		fields := map[string]interface{}{
			"frequency":      ch.FrequencyHz,
			"power":          ch.PowerDBmV,
			"snr":            ch.SNRdB,
			"corrected":      ch.Corrected,
			"uncorrectables": ch.Uncorrectables,
		}
		if ch.Unerrored != nil {
			fields["unerrored"] = *ch.Unerrored
		}
		points = append(points, write.NewPoint(DownstreamMeasurement, map[string]string{
			"channel_id": strconv.Itoa(ch.ChannelID),
			"modulation": string(ch.Modulation),
		}, fields, ts))
	}
	for _, ch := range batch.Upstream {
		points = append(points, write.NewPoint(UpstreamMeasurement, map[string]string{
			"channel_id":   strconv.Itoa(ch.ChannelID),
			"channel_type": string(ch.ChannelType),
		}, map[string]interface{}{
			"frequency": ch.FrequencyHz,
			"power":     ch.PowerDBmV,
			"width":     ch.Width,
		}, ts))
	}
	return points
}
