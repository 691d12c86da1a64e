package receiver

import (
	"github.com/bramburn/gpsreceiver/internal/solver"
	"github.com/bramburn/gpsreceiver/pkg/gnssgo/gtime"
	"github.com/bramburn/gpsreceiver/pkg/gnssgo/nmea"
)

// ggaQualityGPSFix is the GGA fix-quality code for an uncorrected
// single-point solution, the only kind this receiver ever produces.
const ggaQualityGPSFix = 1

// formatFixGGA renders a converged fix as a $GPGGA sentence via
// pkg/gnssgo/nmea's FormatGGA, timestamped from the fix's own GPS
// week/time-of-reception rather than the wall clock, via
// pkg/gnssgo/gtime's GPS-time/calendar-time conversion.
func formatFixGGA(fix solver.Fix) string {
	t := gtime.GpsT2Time(fix.Week, fix.TRx).ToTime()
	return nmea.FormatGGA(t, fix.LatDeg, fix.LonDeg, fix.AltM, ggaQualityGPSFix, fix.Chans, 0)
}
