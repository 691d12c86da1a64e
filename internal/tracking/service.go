package tracking

import (
	"context"
	"fmt"

	"github.com/bramburn/gpsreceiver/internal/hardware"
	"github.com/bramburn/gpsreceiver/internal/task"
)

// Service runs a channel's full acquisition-to-loss-of-lock lifecycle on
// the calling task, yielding at every suspension point so the rest of
// the scheduler's ring keeps turning. It returns once the signal is
// lost or ctx is cancelled. Grounded on CHANNEL::Service.
func (c *Channel) Service(ctx context.Context, t *task.Task) {
	c.log.WithField("sv", c.sv+1).Info("channel entering service")

	if err := c.Acquisition(ctx, t); err != nil {
		c.log.WithError(err).Warn("acquisition settle failed")
	}
	c.Tracking(ctx, t)
	if err := c.SignalLost(); err != nil {
		c.log.WithError(err).Warn("signal lost cleanup failed")
	}

	c.log.WithField("sv", c.sv+1).Info("channel leaving service")
}

// Acquisition gives the Costas carrier loop time to pull in, then
// re-measures Doppler off the (reliably-locking) code loop and retunes
// the carrier NCO precisely on frequency. The initial Doppler estimate
// from the FFT bin size can be coarser than the carrier loop's capture
// range; the code loop always locks regardless, so its NCO frequency is
// a trustworthy Doppler reference. Grounded on CHANNEL::Acquisition.
func (c *Channel) Acquisition(ctx context.Context, t *task.Task) error {
	t.TimerWait(ctx, c.cfg.AcquisitionSettle)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := c.UploadEmbeddedState(); err != nil {
		return err
	}
	caDop := getFreq(c.ul.CAFreq, c.cfg.FS) - c.cfg.CPS

	loRate := nco32(c.cfg.FC+caDop*c.cfg.L1/c.cfg.CPS, c.cfg.FS)
	if err := c.transport.Set(hardware.CmdSetRateLO, uint16(c.index), loRate); err != nil {
		return fmt.Errorf("tracking: acquisition retune LO: %w", err)
	}
	return nil
}

// Tracking polls the embedded channel state at cfg.TrackingPollInterval,
// draining whole NAV words out of the FPGA's circular bit buffer into a
// local subframe window, parity-checking every 300-bit window that
// accumulates, and folding each poll's I/Q sample into the AGC power
// average. It gives up and returns after cfg.TrackingTimeoutPolls
// consecutive polls produce no clean subframe — a clean subframe resets
// the watchdog, so a channel that is merely slow to find the next
// subframe boundary is not mistaken for one that has lost lock.
// Grounded on CHANNEL::Tracking.
func (c *Channel) Tracking(ctx context.Context, t *task.Task) {
	c.holding = 0
	c.navBuf = c.navBuf[:0]

	for watchdog := 0; watchdog < c.cfg.TrackingTimeoutPolls; watchdog++ {
		t.TimerWait(ctx, c.cfg.TrackingPollInterval)
		if ctx.Err() != nil {
			return
		}

		if err := c.UploadEmbeddedState(); err != nil {
			c.log.WithError(err).Warn("tracking poll failed")
			continue
		}

		for avail := c.RemoteBits(c.ul.NavBits) &^ 0xF; avail > 0; avail -= 16 {
			word := uint32(c.ul.NavBuf[(c.rdPos/16)%(maxBits/16)])
			for i := 0; i < 16; i++ {
				word <<= 1
				c.navBuf = append(c.navBuf, byte((word>>16)&1))
			}
			c.rdPos = (c.rdPos + 16) & (maxBits - 1)
		}
		c.holding = len(c.navBuf)

		for c.holding >= 300 {
			consumed, ok := c.ParityCheck(c.navBuf[:300])
			if ok {
				watchdog = 0 // clean subframe: loop's increment brings it to 1, not TIMEOUT
			}
			c.navBuf = append(c.navBuf[:0], c.navBuf[consumed:c.holding]...)
			c.holding = len(c.navBuf)
		}

		if err := c.CheckPower(); err != nil {
			c.log.WithError(err).Warn("AGC gain update failed")
		}
	}
}

// SignalLost disables this channel's embedded PI controllers and tells
// the acquisition search that its satellite is available to reacquire,
// matching CHANNEL::SignalLost.
func (c *Channel) SignalLost() error {
	var err error
	if c.clearBusy != nil {
		err = c.clearBusy()
	}
	if c.notifyLost != nil {
		c.notifyLost(c.sv)
	}
	return err
}
