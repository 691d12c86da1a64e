// Package receiver wires the full pipeline: a sample source feeds the
// acquisition search, a hit hands a satellite to a tracking channel,
// clean subframes accumulate into ephemerides, a periodic snapshot of
// every tracking channel feeds the navigation solver, and a converged
// fix goes out to logging and whichever optional telemetry sinks were
// configured.
//
// Grounded on original_source/c/search.cpp's SearchTask (acquisition
// sweep, busy-SV bookkeeping) and solve.cpp's SolveTask (periodic solve
// cycle), recombined onto internal/task's scheduler and
// pkg/server/server.go's context+logger+mutex lifecycle shape.
package receiver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bramburn/gpsreceiver/internal/acquisition"
	"github.com/bramburn/gpsreceiver/internal/cacode"
	"github.com/bramburn/gpsreceiver/internal/config"
	"github.com/bramburn/gpsreceiver/internal/ephemeris"
	"github.com/bramburn/gpsreceiver/internal/hardware"
	"github.com/bramburn/gpsreceiver/internal/mixer"
	"github.com/bramburn/gpsreceiver/internal/sample"
	"github.com/bramburn/gpsreceiver/internal/snapshot"
	"github.com/bramburn/gpsreceiver/internal/solver"
	"github.com/bramburn/gpsreceiver/internal/task"
	"github.com/bramburn/gpsreceiver/internal/tracking"
)

// Signal bit values for the scheduler's shared event bitmap
// (task.Scheduler Raise/Catch). The Controller itself raises neither
// bit: fixes reach the telemetry, metrics and GGA sinks directly, and a
// lost channel is reported through freeSV.
const (
	SigFix uint32 = 1 << iota
	SigChannelLost
)

// Controller owns every long-lived receiver component and the two
// scheduler tasks that drive them: one sweeping free satellites through
// acquisition, one periodically collecting a snapshot and solving for
// position.
type Controller struct {
	cfg       *config.Config
	transport hardware.Transport
	src       sample.Source
	log       logrus.FieldLogger
	runID     string

	acq       *acquisition.Engine
	nco       *mixer.NCO
	manager   *tracking.Manager
	store     *ephemeris.Store
	collector *snapshot.Collector
	solve     *solver.Solver

	telemetry TelemetrySink
	metrics   *Metrics
	gga       GGASink

	mu       sync.Mutex
	acquired map[int]bool
	lastFix  solver.Fix
	haveFix  bool
}

// GGASink receives a rendered NMEA GGA sentence for every converged
// fix, for a serial port, a log file, or a test buffer.
type GGASink interface {
	WriteGGA(sentence string)
}

// Option configures optional Controller behaviour at construction time.
type Option func(*Controller)

// WithTelemetry attaches sink, which is notified of every converged fix.
func WithTelemetry(sink TelemetrySink) Option {
	return func(c *Controller) { c.telemetry = sink }
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithGGA attaches a sink that receives a rendered NMEA GGA sentence
// for every converged fix.
func WithGGA(sink GGASink) Option {
	return func(c *Controller) { c.gga = sink }
}

// NewController builds a Controller reading samples from src over lut's
// downconversion polarity and commands/clocks from transport. The
// acquisition replica bank and Doppler search grid are built from cfg
// up front.
func NewController(cfg *config.Config, transport hardware.Transport, src sample.Source, lut mixer.LUT, log logrus.FieldLogger, opts ...Option) (*Controller, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	acq, err := acquisition.NewEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("receiver: build acquisition engine: %w", err)
	}

	runID := uuid.NewString()
	rlog := log.WithField("run", runID)
	store := ephemeris.NewStore(rlog)

	ctl := &Controller{
		cfg:       cfg,
		transport: transport,
		src:       src,
		log:       rlog,
		runID:     runID,
		acq:       acq,
		nco:       mixer.NewNCO(cfg.FC, cfg.FS, lut),
		store:     store,
		collector: snapshot.NewCollector(cfg, transport, store, rlog),
		solve:     solver.NewSolver(cfg, nil),
		acquired:  make(map[int]bool, cfg.NumSats),
	}
	ctl.manager = tracking.NewManager(cfg, transport, store, ctl.freeSV, rlog)

	for _, opt := range opts {
		opt(ctl)
	}
	return ctl, nil
}

// Run starts the tracking-channel tasks plus the acquisition and solve
// tasks on a fresh scheduler and blocks until ctx is cancelled.
func (ctl *Controller) Run(ctx context.Context) error {
	s := task.NewScheduler()
	ctl.manager.Run(s)
	s.Go("acquire", ctl.acquireLoop)
	s.Go("solve", ctl.solveLoop)

	ctl.log.WithFields(logrus.Fields{
		"chans": ctl.cfg.NumChans,
		"sats":  ctl.cfg.NumSats,
	}).Info("receiver starting")

	s.Run(ctx)
	return ctx.Err()
}

// LastFix returns the most recently converged fix and whether one has
// ever been produced.
func (ctl *Controller) LastFix() (solver.Fix, bool) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.lastFix, ctl.haveFix
}

// freeSV marks sv available for reacquisition, the Manager's
// searchEnable callback fired from Channel.SignalLost.
func (ctl *Controller) freeSV(sv int) {
	ctl.setAcquired(sv, false)
	if ctl.metrics != nil {
		ctl.metrics.channelsLost.Inc()
	}
}

func (ctl *Controller) setAcquired(sv int, v bool) {
	ctl.mu.Lock()
	ctl.acquired[sv] = v
	ctl.mu.Unlock()
}

// freeSatellites returns every SV not currently assigned to a tracking
// channel, in Satellites table order.
func (ctl *Controller) freeSatellites() []int {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	free := make([]int, 0, ctl.cfg.NumSats)
	for sv := 0; sv < ctl.cfg.NumSats; sv++ {
		if !ctl.acquired[sv] {
			free = append(free, sv)
		}
	}
	return free
}

// satTaps returns the packed Gold-code tap word CmdSetSV expects for
// sv: (T1<<4)+T2, matching SearchTask's "(Sats[sv].T1<<4)+Sats[sv].T2".
// cfg.SVTaps overrides the fixed table when present.
func (ctl *Controller) satTaps(sv int) int {
	if sv < len(ctl.cfg.SVTaps) {
		pair := ctl.cfg.SVTaps[sv]
		return (pair[0] << 4) + pair[1]
	}
	sat := cacode.Satellites[sv]
	return (sat.T1 << 4) + sat.T2
}

// readWindow pulls one FFTLen window of packed 1-bit IF samples off src
// and downconverts it to complex baseband, resetting the shared NCO's
// phase first so every acquisition window starts from the same
// reference phase the FPGA's trigger-reset gives the live hardware.
func (ctl *Controller) readWindow() (samples []complex128, captured time.Time, err error) {
	n := ctl.cfg.FFTLen
	buf := make([]byte, (n+7)/8)
	if err := ctl.src.ReadPacket(buf); err != nil {
		return nil, time.Time{}, fmt.Errorf("receiver: read sample window: %w", err)
	}
	captured = time.Now()

	ctl.nco.Reset()
	samples = make([]complex128, n)
	for i := 0; i < n; i++ {
		bit := int((buf[i/8] >> uint(i%8)) & 1)
		iv, qv := ctl.nco.Mix(bit)
		samples[i] = complex(iv, qv)
	}
	return samples, captured, nil
}

// acquireLoop sweeps every free satellite against one acquisition
// window per pass, handing each detection to the first idle tracking
// channel, matching SearchTask's "for sv not Busy: Sample, Correlate,
// if snr ok ChanStart" loop generalized to search every free SV against
// one shared window rather than one window per SV.
func (ctl *Controller) acquireLoop(ctx context.Context, t *task.Task) {
	for {
		if ctx.Err() != nil {
			return
		}

		free := ctl.freeSatellites()
		if len(free) == 0 {
			t.Yield(ctx)
			continue
		}

		samples, captured, err := ctl.readWindow()
		if err != nil {
			ctl.log.WithError(err).Error("acquisition sample read failed")
			return
		}

		results, err := ctl.acq.Search(ctx, t, samples)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ctl.log.WithError(err).Error("acquisition search failed")
			t.Yield(ctx)
			continue
		}

		for _, sv := range free {
			res := results[sv]
			if !acquisition.Acquired(ctl.cfg, res) {
				continue
			}

			index, err := ctl.manager.Reset()
			if err != nil {
				break // every channel busy; try the rest next sweep
			}

			sampleAge := time.Since(captured).Seconds()
			if err := ctl.manager.Start(ctx, t, index, sv, sampleAge, ctl.satTaps(sv), res.DopplerBin, res.CodeSample); err != nil {
				ctl.log.WithError(err).Warn("channel start failed")
				continue
			}
			ctl.setAcquired(sv, true)

			ctl.log.WithFields(logrus.Fields{"sv": sv + 1, "chan": index, "snr": res.SNR}).Info("acquired satellite")
			if ctl.metrics != nil {
				ctl.metrics.acquisitions.Inc()
			}
		}

		t.Yield(ctx)
	}
}

// solveLoop collects a snapshot and attempts a fix every
// cfg.SolveRetry, matching SolveTask's TimerWait(4000) cadence.
func (ctl *Controller) solveLoop(ctx context.Context, t *task.Task) {
	for {
		t.TimerWait(ctx, ctl.cfg.SolveRetry)
		if ctx.Err() != nil {
			return
		}

		snaps, err := ctl.collector.Collect(ctx, t, ctl.manager.Channels())
		if err != nil {
			ctl.log.WithError(err).Warn("snapshot collection failed")
			continue
		}

		fix, err := ctl.solve.Solve(ctx, t, snaps)
		if err != nil {
			if ctl.metrics != nil {
				ctl.metrics.solveFailures.Inc()
			}
			ctl.log.WithError(err).Debug("solve did not produce a fix")
			continue
		}

		ctl.recordFix(ctx, fix)
	}
}

func (ctl *Controller) recordFix(ctx context.Context, fix solver.Fix) {
	ctl.mu.Lock()
	ctl.lastFix = fix
	ctl.haveFix = true
	ctl.mu.Unlock()

	ctl.log.WithFields(logrus.Fields{
		"lat":        fix.LatDeg,
		"lon":        fix.LonDeg,
		"alt":        fix.AltM,
		"chans":      fix.Chans,
		"iterations": fix.Iterations,
	}).Info("position fix")

	if ctl.metrics != nil {
		ctl.metrics.observeFix(fix.LatDeg, fix.LonDeg, fix.AltM, fix.Iterations)
	}
	if ctl.telemetry != nil {
		ctl.telemetry.Fix(ctx, ctl.runID, fix)
	}
	if ctl.gga != nil {
		ctl.gga.WriteGGA(formatFixGGA(fix))
	}
}
