package ephemeris

import "math"

// eccentricAnomaly solves Kepler's equation Mk = Ek - e*sin(Ek) for Ek
// by fixed-point iteration, matching EPHEM::EccentricAnomaly. Ten
// iterations converges to double precision for GPS orbit eccentricities
// (e < 0.02 for every operational satellite).
func (e *Ephemeris) eccentricAnomaly(tk float64) float64 {
	n0 := math.Sqrt(MU / (e.A * e.A * e.A))
	n := n0 + e.DeltaN
	mk := e.M0 + n*tk

	ek := mk
	for i := 0; i < 10; i++ {
		ek = mk + e.E*math.Sin(ek)
	}
	return ek
}

// correctedTime folds a GPS time-of-week difference back into
// [-302400, 302400], handling the week rollover at the Sunday midnight
// epoch boundary.
func correctedTime(t, ref float64) float64 {
	const halfWeek = 302400
	dt := t - ref
	switch {
	case dt > halfWeek:
		dt -= 2 * halfWeek
	case dt < -halfWeek:
		dt += 2 * halfWeek
	}
	return dt
}

// GetClockCorrection returns the satellite clock's offset from GPS
// system time at time t (GPS seconds of week), including the
// polynomial clock model, the broadcast group delay and the
// eccentricity-dependent relativistic correction. Matches
// EPHEM::GetClockCorrection.
func (e *Ephemeris) GetClockCorrection(t float64) float64 {
	dt := correctedTime(t, e.Toc)
	poly := e.Af0 + e.Af1*dt + e.Af2*dt*dt

	tk := correctedTime(t, e.Toe)
	ek := e.eccentricAnomaly(tk)
	relativistic := relF * e.E * e.SqrtA * math.Sin(ek)

	return poly + relativistic - e.Tgd
}

// GetXYZ computes the satellite's ECEF position at time t (GPS seconds
// of week), per the IS-GPS-200 orbit determination algorithm: solve
// Kepler's equation for the eccentric anomaly, derive true anomaly and
// argument of latitude, apply the second-harmonic perturbation
// corrections, then rotate the orbital-plane position into ECEF
// accounting for the earth's rotation since the ephemeris reference
// time. Matches EPHEM::GetXYZ.
func (e *Ephemeris) GetXYZ(t float64) (x, y, z float64) {
	tk := correctedTime(t, e.Toe)
	ek := e.eccentricAnomaly(tk)

	sinE, cosE := math.Sin(ek), math.Cos(ek)
	vk := math.Atan2(math.Sqrt(1-e.E*e.E)*sinE, cosE-e.E)

	phik := vk + e.Omega
	sin2p, cos2p := math.Sin(2*phik), math.Cos(2*phik)

	duk := e.Cus*sin2p + e.Cuc*cos2p
	drk := e.Crs*sin2p + e.Crc*cos2p
	dik := e.Cis*sin2p + e.Cic*cos2p

	uk := phik + duk
	rk := e.A*(1-e.E*cosE) + drk
	ik := e.I0 + dik + e.IDOT*tk

	xp := rk * math.Cos(uk)
	yp := rk * math.Sin(uk)

	omegaK := e.Omega0 + (e.OmegaDot-OmegaEDot)*tk - OmegaEDot*e.Toe
	sinOK, cosOK := math.Sin(omegaK), math.Cos(omegaK)
	sinI, cosI := math.Sin(ik), math.Cos(ik)

	x = xp*cosOK - yp*cosI*sinOK
	y = xp*sinOK + yp*cosI*cosOK
	z = yp * sinI
	return x, y, z
}
