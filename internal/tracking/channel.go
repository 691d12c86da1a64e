// Package tracking implements the per-channel carrier/code tracking
// loop: it hands a hardware channel the Doppler estimate an acquisition
// hit produced, waits for the embedded PI controllers to pull in, then
// polls the channel's NAV bit stream for clean subframes while watching
// signal power for AGC and loss-of-lock.
//
// Grounded on original_source/c/channel.cpp's CHANNEL struct and its
// Reset/Start/Service/Acquisition/Tracking/SignalLost state sequence,
// translated from the firmware's cooperative setjmp/longjmp tasking
// onto internal/task's goroutine-and-token scheduler.
package tracking

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/bramburn/gpsreceiver/internal/config"
	"github.com/bramburn/gpsreceiver/internal/hardware"
	"github.com/bramburn/gpsreceiver/internal/task"
)

// pwrLen is the signal-power running-average ring length, matching
// CHANNEL's PWR_LEN.
const pwrLen = 8

// maxBits is the embedded NAV bit circular buffer length, matching
// CHANNEL's MAX_BITS. Must be a power of two: RemoteBits relies on it
// for the wraparound mask.
const maxBits = 64

// AGC hysteresis thresholds on mean signal power, matching CheckPower's
// HYST_LO/HYST_HI. The carrier loop's gain is proportional to signal
// power squared, so a strong signal needs a smaller gain to stay stable.
const (
	hystLo = 1200 * 1200
	hystHi = 1400 * 1400
)

// EmbeddedState mirrors the UPLOAD struct the embedded CPU reports back
// for one channel via CmdGetChan.
type EmbeddedState struct {
	NavMS     uint16
	NavBits   uint16
	NavGlitch uint16
	NavPrev   uint16
	NavBuf    [maxBits / 16]uint16
	CAFreq    [4]uint16
	LOFreq    [4]uint16
	IQ        [2]int16
	CAGain    [2]uint16
	LOGain    [2]uint16
}

// SubframeSink receives a channel's clean, parity-checked 300-bit NAV
// subframes for ephemeris decode. Accepting this as an interface rather
// than importing internal/ephemeris directly keeps tracking ignorant of
// how — or whether — subframes get decoded.
type SubframeSink interface {
	Subframe(sv int, bits [300]byte)
}

// Channel is one hardware tracking channel's locally-held state,
// mirroring CHANNEL: a copy of the embedded channel registers, a
// running power average for AGC, and the NAV bit/subframe bookkeeping
// needed to feed a SubframeSink.
type Channel struct {
	cfg       *config.Config
	transport hardware.Transport
	sink      SubframeSink
	log       logrus.FieldLogger

	index int // hardware channel number
	sv    int // Satellites[] index this channel is assigned to

	ul EmbeddedState

	pwrTot float64
	pwr    [pwrLen]float64
	pwrPos int

	gainAdj   int
	probation int

	holding int
	rdPos   int
	navBuf  []byte

	// clearBusy and notifyLost are bound by the owning Manager: the
	// embedded CPU's PI-controller enable mask and the acquisition
	// search's free-SV bookkeeping are both shared across channels, so
	// Channel only ever asks to flip its own bit rather than owning the
	// mask register itself. Matches the original's BusyFlags/
	// SearchEnable externs, expressed here as injected closures instead
	// of file-scope globals.
	clearBusy  func() error
	notifyLost func(sv int)
}

// NewChannel builds a Channel bound to hardware channel index, using
// transport for all SPI command traffic and sink for decoded subframes.
func NewChannel(cfg *config.Config, transport hardware.Transport, index int, sink SubframeSink, log logrus.FieldLogger) *Channel {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Channel{
		cfg:       cfg,
		transport: transport,
		sink:      sink,
		index:     index,
		log:       log.WithField("chan", index),
		navBuf:    make([]byte, 0, 300+maxBits-1),
	}
}

// bindManager wires this channel's shared-state callbacks; called once
// by Manager at construction time.
func (c *Channel) bindManager(clearBusy func() error, notifyLost func(sv int)) {
	c.clearBusy = clearBusy
	c.notifyLost = notifyLost
}

// Index returns the hardware channel number this Channel drives.
func (c *Channel) Index() int { return c.index }

// SV returns the Satellites[] index this channel was last Start()ed with.
func (c *Channel) SV() int { return c.sv }

// GetGainAdj returns the current carrier-loop gain adjustment.
func (c *Channel) GetGainAdj() int { return c.gainAdj }

// SetGainAdj sets the carrier-loop gain adjustment and reprograms the
// embedded PI controller's ki/kp, matching SetGainAdj's
// "lo_ki=20+adj, lo_kp=27+adj" formula.
func (c *Channel) SetGainAdj(adj int) error {
	c.gainAdj = adj
	loKi := 20 + adj
	loKp := 27 + adj
	return c.transport.Set(hardware.CmdSetGainLO, uint16(c.index), packGain(loKi, loKp))
}

func packGain(ki, kp int) uint32 {
	return uint32(uint16(ki)) | uint32(uint16(kp-ki))<<16
}

// Reset programs the code NCO rate and default loop gains and clears
// this channel's AGC/probation state, matching CHANNEL::Reset.
func (c *Channel) Reset() error {
	caRate := nco32(c.cfg.CPS, c.cfg.FS)
	if err := c.transport.Set(hardware.CmdSetRateCA, uint16(c.index), caRate); err != nil {
		return fmt.Errorf("tracking: reset rate CA: %w", err)
	}

	const caKi = 20 - 9
	const caKp = 27 - 4
	if err := c.transport.Set(hardware.CmdSetGainCA, uint16(c.index), packGain(caKi, caKp)); err != nil {
		return fmt.Errorf("tracking: reset gain CA: %w", err)
	}

	if err := c.SetGainAdj(0); err != nil {
		return fmt.Errorf("tracking: reset gain adj: %w", err)
	}

	c.pwr = [pwrLen]float64{}
	c.pwrTot = 0
	c.pwrPos = 0
	c.probation = 2
	c.holding = 0
	c.rdPos = 0
	c.navBuf = c.navBuf[:0]
	return nil
}

// nco32 converts a frequency in Hz to a 32-bit NCO rate word for a
// sampler clocked at fs, matching every "f/FS*pow(2,32)" cast in the
// original.
func nco32(hz, fs float64) uint32 {
	return uint32(hz / fs * math.Exp2(32))
}

// getFreq converts four 16-bit NCO accumulator words back to Hertz,
// matching GetFreq's negative-power-of-two reconstruction.
func getFreq(u [4]uint16, fs float64) float64 {
	return (float64(u[0])*math.Exp2(-64) +
		float64(u[1])*math.Exp2(-48) +
		float64(u[2])*math.Exp2(-32) +
		float64(u[3])*math.Exp2(-16)) * fs
}

// Start programs this channel to begin pulling in on an acquisition
// hit: sv is the Satellites[] index, sampleAge is how long ago (in
// seconds) the sample window that produced the hit was captured, taps
// selects the Gold code generator, and loShift/caShift are the FFT
// Doppler bin and code-sample-phase the acquisition search found.
// Grounded on CHANNEL::Start.
func (c *Channel) Start(ctx context.Context, t *task.Task, sv int, sampleAge float64, taps, loShift, caShift int) error {
	c.sv = sv

	loDop := float64(loShift) * c.cfg.FS / float64(c.cfg.FFTLen)
	caDop := loDop / c.cfg.L1 * c.cfg.CPS

	loRate := nco32(c.cfg.FC+loDop, c.cfg.FS)
	caRate := nco32(c.cfg.CPS+caDop, c.cfg.FS)

	if err := c.transport.Set(hardware.CmdSetRateLO, uint16(c.index), loRate); err != nil {
		return fmt.Errorf("tracking: start rate LO: %w", err)
	}
	if err := c.transport.Set(hardware.CmdSetRateCA, uint16(c.index), caRate); err != nil {
		return fmt.Errorf("tracking: start rate CA: %w", err)
	}

	caShift += int(math.Round(caDop * sampleAge * c.cfg.FS / c.cfg.CPS))
	caPause := uint32(((20000 - caShift) % 10000 + 10000) % 10000)
	if caPause != 0 {
		if err := c.transport.Set(hardware.CmdPause, uint16(c.index), caPause-1); err != nil {
			return fmt.Errorf("tracking: start code pause: %w", err)
		}
	}

	if err := c.transport.Set(hardware.CmdSetSV, uint16(c.index), uint32(taps)); err != nil {
		return fmt.Errorf("tracking: start SV taps: %w", err)
	}

	t.TimerWait(ctx, c.cfg.StartSettle)
	return nil
}

// UploadEmbeddedState refreshes ul from the embedded channel registers,
// matching CHANNEL::UploadEmbeddedState's CmdGetChan call.
func (c *Channel) UploadEmbeddedState() error {
	raw, err := c.transport.Get(hardware.CmdGetChan, uint16(c.index), embeddedStateSize)
	if err != nil {
		return fmt.Errorf("tracking: upload channel state: %w", err)
	}
	return decodeEmbeddedState(raw, &c.ul)
}

// GetPower returns the running-average received signal power.
func (c *Channel) GetPower() float64 {
	return c.pwrTot / pwrLen
}

// CheckPower folds the last polled I/Q sample into the power average
// and applies the AGC hysteresis, matching CHANNEL::CheckPower.
func (c *Channel) CheckPower() error {
	p := float64(c.ul.IQ[0])*float64(c.ul.IQ[0]) + float64(c.ul.IQ[1])*float64(c.ul.IQ[1])
	c.pwrTot -= c.pwr[c.pwrPos]
	c.pwr[c.pwrPos] = p
	c.pwrTot += p
	c.pwrPos = (c.pwrPos + 1) % pwrLen

	mean := c.GetPower()
	if c.GetGainAdj() != 0 {
		if mean < hystLo {
			return c.SetGainAdj(0)
		}
		return nil
	}
	if mean > hystHi {
		return c.SetGainAdj(-1)
	}
	return nil
}

// RemoteBits reports how many NAV bits the embedded circular buffer
// holds that this channel hasn't consumed yet, matching
// CHANNEL::RemoteBits.
func (c *Channel) RemoteBits(wrPos uint16) int {
	return (maxBits - 1) & int(wrPos-uint16(c.rdPos))
}

// GetSnapshot reports this channel's SV, total held NAV bit count and
// signal power for the solver, unless the channel is on probation
// (too noisy to trust), matching CHANNEL::GetSnapshot.
func (c *Channel) GetSnapshot(wrPos uint16) (sv int, bits int, pwr float64, ok bool) {
	if c.probation != 0 {
		return 0, 0, 0, false
	}
	return c.sv, c.holding + c.RemoteBits(wrPos), c.GetPower(), true
}
