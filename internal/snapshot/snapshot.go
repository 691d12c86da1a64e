// Package snapshot gathers a glitch-guarded, atomic view of every
// tracking channel's clock replica and ephemeris, ready for the
// navigation solver. Grounded on original_source/c/solve.cpp's SNAPSHOT
// struct and LoadAtomic/LoadReplicas pair.
package snapshot

import (
	"math"

	"github.com/bramburn/gpsreceiver/internal/cacode"
	"github.com/bramburn/gpsreceiver/internal/config"
	"github.com/bramburn/gpsreceiver/internal/ephemeris"
)

// Snapshot is one channel's atomically-sampled clock replica: which
// satellite it holds, how many NAV bits are buffered, the received
// power, and the hardware clock registers needed to recover an
// uncorrected time of transmission. Matches SNAPSHOT's fields.
type Snapshot struct {
	Ch      int
	SV      int // cacode.Satellites[] index
	MS      int // milliseconds since the last NAV bit, 0..20
	Bits    int // NAV bits buffered locally and remotely
	G1      uint16
	CAPhase int // code NCO phase, 6-bit fraction of a chip
	Power   float64
	Eph     ephemeris.Ephemeris
}

// GetClock returns this snapshot's uncorrected satellite clock replica:
// the GPS time of week, in seconds, of the not-yet-processed subframe
// boundary, refined by however far reception has progressed into the
// current NAV bit, C/A chip and code NCO phase. Matches
// SNAPSHOT::GetClock.
func (s *Snapshot) GetClock(cfg *config.Config) float64 {
	sat := cacode.Satellites[s.SV]
	chips := cacode.SearchCode(sat.T1, sat.T2, s.G1)

	return float64(s.Eph.TOW) +
		float64(s.Bits)/cfg.BPS +
		float64(s.MS)*1e-3 +
		float64(chips)/cfg.CPS +
		float64(s.CAPhase)*math.Exp2(-6)/cfg.CPS
}
