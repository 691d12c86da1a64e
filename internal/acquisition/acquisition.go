// Package acquisition performs FFT-based parallel code/Doppler search:
// for each PRN, it cross-correlates one FFT-length window of downconverted
// IF samples against a precomputed code replica across a grid of Doppler
// bins, in the frequency domain, so every code-phase hypothesis for a
// given Doppler bin is tested by a single inverse FFT rather than a
// serial code-phase sweep.
package acquisition

import (
	"context"
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/bramburn/gpsreceiver/internal/cacode"
	"github.com/bramburn/gpsreceiver/internal/config"
	"github.com/bramburn/gpsreceiver/internal/task"
)

// Result is the best Doppler/code-phase hypothesis found for one PRN
// during one acquisition window.
type Result struct {
	PRN        int
	DopplerBin int     // FFT bin offset; Hz = DopplerBin * FS/FFTLen
	DopplerHz  float64
	CodeSample int // sample offset within the 1ms code period
	SNR        float64
}

// Replica is a satellite's precomputed code spectrum, built once and
// reused across every acquisition window.
type Replica struct {
	PRN      int
	spectrum []complex128
}

// BuildReplicas precomputes the forward FFT of every satellite's Doppler-free
// code replica, grounded on SearchInit's per-SV loop. The replica chip
// sequence is linearly interpolated across chip boundaries exactly as
// SearchInit does, since "these two lines do not make much difference"
// but were kept in the original and are kept here too.
func BuildReplicas(cfg *config.Config) ([]Replica, error) {
	if cfg.FFTLen <= 0 {
		return nil, fmt.Errorf("acquisition: FFTLen must be positive, got %d", cfg.FFTLen)
	}

	fft := fourier.NewCmplxFFT(cfg.FFTLen)
	caRate := cfg.CPS / cfg.FS

	replicas := make([]Replica, len(cacode.Satellites))
	for idx, sat := range cacode.Satellites {
		chips := replicaChips(sat.T1, sat.T2, cfg.FFTLen, caRate)
		spectrum := fft.Coefficients(nil, chips)
		// Coefficients may reuse/alias its input buffer; copy out so
		// later calls building other replicas cannot clobber this one.
		out := make([]complex128, len(spectrum))
		copy(out, spectrum)
		replicas[idx] = Replica{PRN: sat.PRN, spectrum: out}
	}
	return replicas, nil
}

// replicaChips generates one FFT window of bipolar code chips, linearly
// blending across each chip boundary crossed within a sample period —
// the same "prev chip, next chip" weighting SearchInit applies.
func replicaChips(t1, t2, n int, caRate float64) []complex128 {
	g := cacode.NewGenerator(t1, t2)
	phase := 0.0
	out := make([]complex128, n)

	for i := 0; i < n; i++ {
		chip := bipolar(g.Chip())
		phase += caRate
		if phase >= 1.0 {
			phase -= 1.0
			g.Clock()
			chip *= 1.0 - phase
			chip += phase * bipolar(g.Chip())
		}
		out[i] = complex(chip, 0)
	}
	return out
}

func bipolar(bit byte) float64 {
	if bit != 0 {
		return -1.0
	}
	return 1.0
}

// Engine holds the per-window FFT plans and replica spectra needed to
// search every PRN against one captured window of IF samples.
type Engine struct {
	cfg       *config.Config
	fft       *fourier.CmplxFFT
	replicas  []Replica
	maxDopBin int
}

// NewEngine builds an acquisition engine for cfg, precomputing every
// satellite's replica spectrum up front.
func NewEngine(cfg *config.Config) (*Engine, error) {
	replicas, err := BuildReplicas(cfg)
	if err != nil {
		return nil, err
	}
	maxDopBin := int(cfg.MaxDopplerHz * float64(cfg.FFTLen) / cfg.FS)
	return &Engine{
		cfg:       cfg,
		fft:       fourier.NewCmplxFFT(cfg.FFTLen),
		replicas:  replicas,
		maxDopBin: maxDopBin,
	}, nil
}

// Search correlates one FFTLen window of time-domain baseband IQ samples
// against every satellite's replica and returns the best hypothesis for
// each, in Satellites table order. samples must have length cfg.FFTLen.
//
// t is the calling scheduler task, yielded between every inverse FFT so
// one sweep across every PRN and Doppler bin does not monopolize the
// ring; pass nil when running outside a Scheduler (e.g. the offline
// replay CLI), in which case no yield happens.
func (e *Engine) Search(ctx context.Context, t *task.Task, samples []complex128) ([]Result, error) {
	if len(samples) != e.cfg.FFTLen {
		return nil, fmt.Errorf("acquisition: want %d samples, got %d", e.cfg.FFTLen, len(samples))
	}

	data := e.fft.Coefficients(nil, samples)
	results := make([]Result, len(e.replicas))
	for i, r := range e.replicas {
		results[i] = e.correlate(ctx, t, r, data)
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
	}
	return results, nil
}

// correlate implements Correlate: for every Doppler bin, form the
// frequency-domain product conj(data)*code shifted by the bin, inverse
// FFT it, and track the Doppler/code-phase pair with the best
// peak-to-mean power ratio within one code period. It yields after
// every inverse FFT, matching Correlate's per-bin NextTask() call.
func (e *Engine) correlate(ctx context.Context, t *task.Task, r Replica, data []complex128) Result {
	n := e.cfg.FFTLen
	window := e.cfg.SamplesPerMS() // one C/A code period's worth of samples
	prod := make([]complex128, n)
	corrBuf := make([]complex128, n)

	best := Result{PRN: r.PRN}
	var bestSNR float64

	for dop := -e.maxDopBin; dop <= e.maxDopBin; dop++ {
		for i := 0; i < n; i++ {
			j := ((i-dop)%n + n) % n
			prod[i] = cmplx.Conj(data[i]) * r.spectrum[j]
		}

		corr := e.fft.Sequence(corrBuf, prod)
		if t != nil {
			t.Yield(ctx)
			if ctx.Err() != nil {
				return best
			}
		}

		var maxPwr, totPwr float64
		maxI := 0
		for i := 0; i < window && i < n; i++ {
			pwr := real(corr[i])*real(corr[i]) + imag(corr[i])*imag(corr[i])
			if pwr > maxPwr {
				maxPwr = pwr
				maxI = i
			}
			totPwr += pwr
		}
		if window == 0 {
			continue
		}
		avePwr := totPwr / float64(window)
		if avePwr == 0 {
			continue
		}
		snr := maxPwr / avePwr

		if snr > bestSNR {
			bestSNR = snr
			best.DopplerBin = dop
			best.DopplerHz = float64(dop) * e.cfg.FS / float64(n)
			best.CodeSample = maxI
			best.SNR = snr
		}
	}
	return best
}

// Acquired reports whether result clears the configured SNR threshold,
// matching SearchTask's "if (snr<25) continue".
func Acquired(cfg *config.Config, res Result) bool {
	return res.SNR >= cfg.AcquireSNRMin
}
