// Package solver forms pseudoranges from a set of channel clock
// snapshots and solves the weighted least-squares position/clock-bias
// fix, converting the result to WGS-84 geodetic coordinates.
//
// Grounded on original_source/c/solve.cpp's Solve/SolveTask pair.
package solver

import (
	"context"
	"fmt"
	"math"

	"github.com/bramburn/gpsreceiver/internal/config"
	"github.com/bramburn/gpsreceiver/internal/ephemeris"
	"github.com/bramburn/gpsreceiver/internal/geodesy"
	"github.com/bramburn/gpsreceiver/internal/snapshot"
	"github.com/bramburn/gpsreceiver/internal/task"
)

// MaxIter bounds the Gauss-Newton iteration, matching solve.cpp's
// MAX_ITER. A solve that exhausts every iteration without converging
// is reported as non-convergent rather than returned as a Fix.
const MaxIter = 20

// convergeM is the ||Δxyz|| threshold (meters) below which the
// iteration is considered converged, matching "if (err_mag<1.0) break".
const convergeM = 1.0

// minChans is the fewest simultaneous satellite replicas that can
// determine a 4-unknown (x,y,z,t_bias) fix.
const minChans = 4

// Fix is a converged position/clock-bias solution, in both ECEF and
// WGS-84 geodetic form, plus the bookkeeping solve.cpp prints
// alongside it (channel count, iterations taken).
type Fix struct {
	Chans      int
	Iterations int

	X, Y, Z float64 // ECEF meters
	TBias   float64 // receiver clock bias, seconds

	Week int     // GPS week number, from the fix's replicas
	TRx  float64 // corrected GPS time of reception, seconds of week

	LatDeg float64
	LonDeg float64
	AltM   float64
}

// ErrNotEnoughChannels is returned when fewer than 4 clean replicas are
// available; a position fix is underdetermined below that.
var ErrNotEnoughChannels = fmt.Errorf("solver: need at least %d channels for a fix", minChans)

// ErrDidNotConverge is returned when the iteration runs to MaxIter
// without the position update shrinking below the convergence
// threshold, matching SolveTask's "if (iter==MAX_ITER) continue".
var ErrDidNotConverge = fmt.Errorf("solver: did not converge within %d iterations", MaxIter)

// Solver holds the linear-algebra backend used to solve each
// iteration's normal equations.
type Solver struct {
	cfg    *config.Config
	linalg LinearSolver
}

// NewSolver returns a Solver using linalg to invert the weighted
// normal equations each iteration. Pass CofactorSolver{} for the
// literal firmware-faithful path or GonumSolver{} for the
// library-backed cross-check.
func NewSolver(cfg *config.Config, linalg LinearSolver) *Solver {
	if linalg == nil {
		linalg = CofactorSolver{}
	}
	return &Solver{cfg: cfg, linalg: linalg}
}

// Solve forms pseudoranges from replicas and iterates a weighted
// least-squares fix for receiver position and clock bias, matching
// solve.cpp's Solve plus the LatLonAlt conversion SolveTask applies to
// a converged result. Requires at least 4 replicas.
//
// t is the calling scheduler task, yielded once per iteration so a slow
// convergence never monopolizes the ring; pass nil to run the
// iteration uninterrupted (e.g. from a test or a standalone tool with
// no scheduler).
func (s *Solver) Solve(ctx context.Context, t *task.Task, replicas []snapshot.Snapshot) (Fix, error) {
	n := len(replicas)
	if n < minChans {
		return Fix{}, ErrNotEnoughChannels
	}

	tTx := make([]float64, n)
	xSV := make([]float64, n)
	ySV := make([]float64, n)
	zSV := make([]float64, n)
	weight := make([]float64, n)

	var tPC float64
	for i, r := range replicas {
		weight[i] = r.Power

		clock := r.GetClock(s.cfg)
		clock -= r.Eph.GetClockCorrection(clock)
		tTx[i] = clock

		xSV[i], ySV[i], zSV[i] = r.Eph.GetXYZ(clock)

		tPC += clock
	}
	tPC = tPC/float64(n) + 75e-3 // nominal transit time + user clock offset seed

	var xN, yN, zN, tBias float64
	var tRx float64
	iter := 0

	for ; iter < MaxIter; iter++ {
		tRx = tPC - tBias

		jac := make([][4]float64, n)
		dPR := make([]float64, n)

		for i := 0; i < n; i++ {
			theta := (tTx[i] - tRx) * ephemeris.OmegaEDot
			sinT, cosT := math.Sincos(theta)

			xEci := xSV[i]*cosT - ySV[i]*sinT
			yEci := xSV[i]*sinT + ySV[i]*cosT
			zEci := zSV[i]

			gr := math.Sqrt(math.Pow(xN-xEci, 2) + math.Pow(yN-yEci, 2) + math.Pow(zN-zEci, 2))

			dPR[i] = ephemeris.SpeedOfLight*(tRx-tTx[i]) - gr

			jac[i][0] = (xN - xEci) / gr
			jac[i][1] = (yN - yEci) / gr
			jac[i][2] = (zN - zEci) / gr
			jac[i][3] = ephemeris.SpeedOfLight
		}

		delta, err := s.linalg.Solve(jac, weight, dPR)
		if err != nil {
			return Fix{}, fmt.Errorf("solver: %w", err)
		}

		dx, dy, dz, dt := delta[0], delta[1], delta[2], delta[3]
		errMag := math.Sqrt(dx*dx + dy*dy + dz*dz)

		if errMag < convergeM {
			break
		}

		xN += dx
		yN += dy
		zN += dz
		tBias += dt

		if t != nil {
			t.Yield(ctx)
			if ctx.Err() != nil {
				return Fix{}, ctx.Err()
			}
		}
	}

	if iter == MaxIter {
		return Fix{}, ErrDidNotConverge
	}

	lla := geodesy.ECEFToLLA(xN, yN, zN)

	return Fix{
		Chans:      n,
		Iterations: iter,
		X:          xN,
		Y:          yN,
		Z:          zN,
		TBias:      tBias,
		Week:       replicas[0].Eph.Week,
		TRx:        tRx,
		LatDeg:     lla.LatDeg(),
		LonDeg:     lla.LonDeg(),
		AltM:       lla.AltM,
	}, nil
}
