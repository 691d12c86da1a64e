package snapshot

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bramburn/gpsreceiver/internal/config"
	"github.com/bramburn/gpsreceiver/internal/ephemeris"
	"github.com/bramburn/gpsreceiver/internal/hardware"
	"github.com/bramburn/gpsreceiver/internal/task"
	"github.com/bramburn/gpsreceiver/internal/tracking"
)

// clockWordsPerChan is the wire layout this receiver defines for
// CmdGetClocks: one (ms, wrPos, g1|caPhase<<10) triple per channel,
// following a single un-serviced-epoch bitmap. The original C firmware
// packed the FPGA's half of this into the tail of the same buffer read
// in reverse channel order, reusing dual-ported memory the embedded CPU
// wrote from the other end; this receiver owns both ends of its own
// wire protocol (see internal/hardware/command.go), so that aliasing
// trick buys nothing here and is replaced with a plain forward layout.
const clockWordsPerChan = 3

// Collector gathers a glitch-guarded, atomic snapshot of every tracking
// channel with a valid ephemeris, for the navigation solver. Grounded
// on LoadReplicas/LoadAtomic/SNAPSHOT::LoadAtomic.
type Collector struct {
	cfg       *config.Config
	transport hardware.Transport
	store     *ephemeris.Store
	log       logrus.FieldLogger
}

// NewCollector returns a Collector reading clock and glitch registers
// from transport and satellite ephemerides from store.
func NewCollector(cfg *config.Config, transport hardware.Transport, store *ephemeris.Store, log logrus.FieldLogger) *Collector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Collector{cfg: cfg, transport: transport, store: store, log: log}
}

// Collect gathers a consistent, glitch-free snapshot of every channel in
// chans that holds a valid ephemeris, bracketing the atomic hardware
// read with a settle period on each side and discarding any channel
// whose glitch counter moved during the window — the embedded CPU
// serviced that channel's interrupt mid-read, so its clock snapshot
// can't be trusted. Matches LoadReplicas.
func (c *Collector) Collect(ctx context.Context, t *task.Task, chans []*tracking.Channel) ([]Snapshot, error) {
	before, err := c.getGlitches()
	if err != nil {
		return nil, fmt.Errorf("snapshot: get glitches before: %w", err)
	}
	t.TimerWait(ctx, c.cfg.GlitchGuard)

	snaps, err := c.loadAtomic(chans)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load atomic: %w", err)
	}

	t.TimerWait(ctx, c.cfg.GlitchGuard)
	after, err := c.getGlitches()
	if err != nil {
		return nil, fmt.Errorf("snapshot: get glitches after: %w", err)
	}

	clean := snaps[:0]
	for _, s := range snaps {
		if before[s.Ch] != after[s.Ch] {
			c.log.WithField("ch", s.Ch).Debug("snapshot: dropping channel, glitch counter moved during capture")
			continue
		}
		clean = append(clean, s)
	}
	return clean, nil
}

// getGlitches reads every channel's 32-bit glitch counter, matching
// "spi_get(CmdGetGlitches, ..., NUM_CHANS*2)".
func (c *Collector) getGlitches() ([]uint32, error) {
	n := c.cfg.NumChans
	payload, err := c.transport.Get(hardware.CmdGetGlitches, 0, n*4)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for ch := range out {
		lo := binary.LittleEndian.Uint16(payload[ch*4:])
		hi := binary.LittleEndian.Uint16(payload[ch*4+2:])
		out[ch] = uint32(lo) | uint32(hi)<<16
	}
	return out, nil
}

// loadAtomic performs the no-yield hardware transaction: one Hog call
// reads every channel's clock registers as a single consistent whole,
// then each channel's buffered NAV bit count, power and ephemeris are
// folded in before anything else can run. Matches the static, no-arg
// LoadAtomic plus SNAPSHOT::LoadAtomic.
func (c *Collector) loadAtomic(chans []*tracking.Channel) ([]Snapshot, error) {
	n := c.cfg.NumChans
	payload, err := c.transport.Hog(hardware.CmdGetClocks, (1+clockWordsPerChan*n)*2)
	if err != nil {
		return nil, err
	}

	words := make([]uint16, len(payload)/2)
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(payload[i*2:])
	}

	srq := words[0] // un-serviced-epoch bitmap, one bit per channel
	out := make([]Snapshot, 0, n)

	for ch := 0; ch < n && ch < len(chans); ch++ {
		base := 1 + ch*clockWordsPerChan
		ms := int(words[base])
		wrPos := words[base+1]
		packed := words[base+2]

		if srq&(1<<uint(ch)) != 0 {
			ms++ // add 1ms for the epoch this channel's poll missed
		}

		sv, bits, pwr, ok := chans[ch].GetSnapshot(wrPos)
		if !ok {
			continue
		}
		eph, valid := c.store.Get(sv)
		if !valid {
			continue
		}

		out = append(out, Snapshot{
			Ch:      ch,
			SV:      sv,
			MS:      ms,
			Bits:    bits,
			G1:      packed & 0x3FF,
			CAPhase: int(packed >> 10),
			Power:   pwr,
			Eph:     *eph,
		})
	}
	return out, nil
}
