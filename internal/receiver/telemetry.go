package receiver

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sirupsen/logrus"

	"github.com/bramburn/gpsreceiver/internal/solver"
)

// TelemetrySink receives every position fix the solver converges on,
// for storage or display outside the receiver process. Implementations
// must not block the solve loop; a failed write is the sink's own
// problem to log and drop.
type TelemetrySink interface {
	Fix(ctx context.Context, runID string, fix solver.Fix)
}

// InfluxTelemetrySink writes each fix as an InfluxDB line-protocol
// point, grounded on app/rtkrcv's writeRbSol/writeObs
// NewClient+WriteAPI+NewPointWithMeasurement pattern (there left
// commented out; here given a live, non-blocking home). Writes are
// fire-and-forget: the underlying write API batches and retries on its
// own schedule, and its errors are logged, never surfaced to the solver.
type InfluxTelemetrySink struct {
	client influxdb2.Client
	writer api.WriteAPI
	log    logrus.FieldLogger
}

// NewInfluxTelemetrySink opens a non-blocking write API against url for
// the given org/bucket.
func NewInfluxTelemetrySink(url, token, org, bucket string, log logrus.FieldLogger) *InfluxTelemetrySink {
	if log == nil {
		log = logrus.StandardLogger()
	}

	client := influxdb2.NewClient(url, token)
	writer := client.WriteAPI(org, bucket)

	sink := &InfluxTelemetrySink{client: client, writer: writer, log: log}

	go func() {
		for err := range writer.Errors() {
			sink.log.WithError(err).Warn("telemetry: influxdb write failed")
		}
	}()

	return sink
}

// Fix writes one "fix" measurement point tagged by runID, with
// lat/lon/alt/t_bias/iterations/chans fields.
func (s *InfluxTelemetrySink) Fix(ctx context.Context, runID string, fix solver.Fix) {
	p := influxdb2.NewPointWithMeasurement("fix").
		AddTag("run", runID).
		AddField("lat", fix.LatDeg).
		AddField("lon", fix.LonDeg).
		AddField("alt", fix.AltM).
		AddField("t_bias", fix.TBias).
		AddField("iterations", fix.Iterations).
		AddField("chans", fix.Chans).
		SetTime(time.Now())

	s.writer.WritePoint(p)
}

// Close flushes any buffered points and releases the client.
func (s *InfluxTelemetrySink) Close() {
	s.writer.Flush()
	s.client.Close()
}
