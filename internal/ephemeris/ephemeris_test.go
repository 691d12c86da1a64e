package ephemeris

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBitsU(buf []bool, pos, n int, v uint32) {
	for i := 0; i < n; i++ {
		buf[pos+i] = (v>>uint(n-1-i))&1 == 1
	}
}

func setBitsS(buf []bool, pos, n int, v int32) {
	mask := uint32(1)<<uint(n) - 1
	setBitsU(buf, pos, n, uint32(v)&mask)
}

// setHOW stamps word 2's TOW count and subframe ID, shared by every
// subframe fixture below.
func setHOW(buf []bool, towCount uint32, subframeID uint32) {
	setBitsU(buf, wordOffset(2), 17, towCount)
	setBitsU(buf, wordOffset(2)+19, 3, subframeID)
}

func TestSubframe1DecodesClockParameters(t *testing.T) {
	buf := make([]bool, 300)
	setHOW(buf, 1000, 1)

	w3, w7, w8, w9, w10 := wordOffset(3), wordOffset(7), wordOffset(8), wordOffset(9), wordOffset(10)

	setBitsU(buf, w3, 10, 731)       // WN
	setBitsU(buf, w3+22, 2, 2)       // IODC MSB = 0b10
	setBitsS(buf, w7+16, 8, -5)      // T_GD
	setBitsU(buf, w8, 8, 0x3C)       // IODC LSB
	setBitsU(buf, w8+8, 16, 40000)   // t_oc
	setBitsS(buf, w9, 8, -3)         // a_f2
	setBitsS(buf, w9+8, 16, 1234)    // a_f1
	setBitsS(buf, w10, 22, -654321)  // a_f0

	var e Ephemeris
	require.NoError(t, e.Subframe(buf))

	assert.Equal(t, 731, e.Week)
	assert.Equal(t, 1000*6, int(e.TOW))
	assert.Equal(t, (2<<8)|0x3C, e.IODC)
	assert.InDelta(t, -5*math.Exp2(-31), e.Tgd, 1e-20)
	assert.InDelta(t, 40000*math.Exp2(4), e.Toc, 1e-9)
	assert.InDelta(t, -3*math.Exp2(-55), e.Af2, 1e-25)
	assert.InDelta(t, 1234*math.Exp2(-43), e.Af1, 1e-18)
	assert.InDelta(t, -654321*math.Exp2(-31), e.Af0, 1e-12)
	assert.False(t, e.Valid(), "subframe 1 alone is not enough for Valid()")
}

func TestSubframe2DecodesOrbitShape(t *testing.T) {
	buf := make([]bool, 300)
	setHOW(buf, 1, 2)

	w3, w4, w5, w6, w7, w8, w9, w10 := wordOffset(3), wordOffset(4), wordOffset(5), wordOffset(6),
		wordOffset(7), wordOffset(8), wordOffset(9), wordOffset(10)

	setBitsU(buf, w3, 8, 17)     // IODE
	setBitsS(buf, w3+8, 16, 222) // C_rs

	setBitsS(buf, w4, 16, -99) // Delta_n
	const m0Raw = int32(-123456789)
	setBitsU(buf, w4+16, 8, uint32(uint32(m0Raw)>>24))
	setBitsU(buf, w5, 24, uint32(m0Raw)&0xFFFFFF)

	setBitsS(buf, w6, 16, 333) // C_uc
	const eRaw = uint32(987654321)
	setBitsU(buf, w6+16, 8, eRaw>>24)
	setBitsU(buf, w7, 24, eRaw&0xFFFFFF)

	setBitsS(buf, w8, 16, -444) // C_us
	const sqrtARaw = uint32(2714500000)
	setBitsU(buf, w8+16, 8, sqrtARaw>>24)
	setBitsU(buf, w9, 24, sqrtARaw&0xFFFFFF)

	setBitsU(buf, w10, 16, 41400) // t_oe

	var e Ephemeris
	require.NoError(t, e.Subframe(buf))

	assert.Equal(t, 17, e.IODE2)
	assert.InDelta(t, 222*math.Exp2(-5), e.Crs, 1e-9)
	assert.InDelta(t, -99*math.Exp2(-43)*math.Pi, e.DeltaN, 1e-18)
	assert.InDelta(t, float64(m0Raw)*math.Exp2(-31)*math.Pi, e.M0, 1e-9)
	assert.InDelta(t, 333*math.Exp2(-29), e.Cuc, 1e-9)
	assert.InDelta(t, float64(eRaw)*math.Exp2(-33), e.E, 1e-9)
	assert.InDelta(t, -444*math.Exp2(-29), e.Cus, 1e-9)
	assert.InDelta(t, float64(sqrtARaw)*math.Exp2(-19), e.SqrtA, 1e-6)
	assert.InDelta(t, 41400*math.Exp2(4), e.Toe, 1e-9)
}

func TestSubframe3DecodesOrbitOrientation(t *testing.T) {
	buf := make([]bool, 300)
	setHOW(buf, 1, 3)

	w3, w4, w5, w6, w7, w8, w9, w10 := wordOffset(3), wordOffset(4), wordOffset(5), wordOffset(6),
		wordOffset(7), wordOffset(8), wordOffset(9), wordOffset(10)

	setBitsS(buf, w3, 16, 55) // C_ic
	const omega0Raw = int32(555555555)
	setBitsU(buf, w3+16, 8, uint32(omega0Raw)>>24)
	setBitsU(buf, w4, 24, uint32(omega0Raw)&0xFFFFFF)

	setBitsS(buf, w5, 16, -66) // C_is
	const i0Raw = int32(111111111)
	setBitsU(buf, w5+16, 8, uint32(i0Raw)>>24)
	setBitsU(buf, w6, 24, uint32(i0Raw)&0xFFFFFF)

	setBitsS(buf, w7, 16, 77) // C_rc
	const omegaRaw = int32(-222222222)
	setBitsU(buf, w7+16, 8, uint32(omegaRaw)>>24)
	setBitsU(buf, w8, 24, uint32(omegaRaw)&0xFFFFFF)

	setBitsS(buf, w9, 24, -888) // OMEGA_dot

	setBitsU(buf, w10, 8, 17)   // IODE3
	setBitsS(buf, w10+8, 14, 9) // IDOT

	var e Ephemeris
	require.NoError(t, e.Subframe(buf))

	assert.Equal(t, 17, e.IODE3)
	assert.InDelta(t, 55*math.Exp2(-29), e.Cic, 1e-9)
	assert.InDelta(t, float64(omega0Raw)*math.Exp2(-31)*math.Pi, e.Omega0, 1e-9)
	assert.InDelta(t, -66*math.Exp2(-29), e.Cis, 1e-9)
	assert.InDelta(t, float64(i0Raw)*math.Exp2(-31)*math.Pi, e.I0, 1e-9)
	assert.InDelta(t, 77*math.Exp2(-5), e.Crc, 1e-9)
	assert.InDelta(t, float64(omegaRaw)*math.Exp2(-31)*math.Pi, e.Omega, 1e-9)
	assert.InDelta(t, -888*math.Exp2(-43)*math.Pi, e.OmegaDot, 1e-18)
	assert.InDelta(t, 9*math.Exp2(-43)*math.Pi, e.IDOT, 1e-18)
}

func TestSubframe4Page18DecodesIonoModel(t *testing.T) {
	buf := make([]bool, 300)
	setHOW(buf, 1, 4)

	w3, w4, w5 := wordOffset(3), wordOffset(4), wordOffset(5)
	setBitsU(buf, w3+2, 6, 56) // SV ID 56 identifies page 18

	setBitsS(buf, w3+8, 8, 10)
	setBitsS(buf, w3+16, 8, 20)
	setBitsS(buf, w4, 8, 30)
	setBitsS(buf, w4+8, 8, 40)
	setBitsS(buf, w4+16, 8, 50)
	setBitsS(buf, w5, 8, 60)
	setBitsS(buf, w5+8, 8, 70)
	setBitsS(buf, w5+16, 8, 80)

	var e Ephemeris
	require.NoError(t, e.Subframe(buf))

	alpha, beta, ok := e.Iono()
	require.True(t, ok)
	assert.InDelta(t, 10*math.Exp2(-30), alpha[0], 1e-12)
	assert.InDelta(t, 20*math.Exp2(-27), alpha[1], 1e-12)
	assert.InDelta(t, 30*math.Exp2(-24), alpha[2], 1e-12)
	assert.InDelta(t, 40*math.Exp2(-24), alpha[3], 1e-12)
	assert.InDelta(t, 50*math.Exp2(11), beta[0], 1e-3)
	assert.InDelta(t, 60*math.Exp2(14), beta[1], 1e-3)
	assert.InDelta(t, 70*math.Exp2(16), beta[2], 1e-3)
	assert.InDelta(t, 80*math.Exp2(16), beta[3], 1e-3)
}

func TestSubframe4IgnoresNonPage18Pages(t *testing.T) {
	buf := make([]bool, 300)
	setHOW(buf, 1, 4)
	setBitsU(buf, wordOffset(3)+2, 6, 12) // some other page

	var e Ephemeris
	require.NoError(t, e.Subframe(buf))

	_, _, ok := e.Iono()
	assert.False(t, ok)
}

func TestSubframeRejectsWrongLength(t *testing.T) {
	var e Ephemeris
	assert.Error(t, e.Subframe(make([]bool, 299)))
}

// realisticEphemeris returns an Ephemeris with GPS-like orbital
// elements (semi-major axis near 26560km, near-circular, ~55 degree
// inclination) so GetXYZ/GetClockCorrection exercise the Kepler solver
// under realistic conditions rather than all-zero degenerate inputs.
func realisticEphemeris() *Ephemeris {
	return &Ephemeris{
		have1: true, have2: true, have3: true,
		Toc: 100000, Toe: 100000,
		Af0: 1e-5, Af1: 1e-11, Af2: 0, Tgd: 1e-8,
		SqrtA: 5153.6, A: 5153.6 * 5153.6,
		E: 0.01, M0: 0.5, DeltaN: 0,
		Cuc: 0, Cus: 0, Crc: 0, Crs: 0, Cic: 0, Cis: 0,
		I0: 55 * math.Pi / 180, IDOT: 0,
		Omega0: 1.0, Omega: 0.3, OmegaDot: -8e-9,
	}
}

func TestGetXYZProducesGPSOrbitRadius(t *testing.T) {
	e := realisticEphemeris()
	require.True(t, e.Valid())

	x, y, z := e.GetXYZ(e.Toe + 1800)
	r := math.Sqrt(x*x + y*y + z*z)

	assert.InDelta(t, 26560e3, r, 300e3, "GPS MEO orbit radius should be ~26560km")
}

func TestGetClockCorrectionMatchesPolynomialNearToc(t *testing.T) {
	e := realisticEphemeris()

	got := e.GetClockCorrection(e.Toc)
	// At t == Toc the polynomial term is just Af0; the relativistic and
	// group-delay terms are small but nonzero, so allow for them.
	assert.InDelta(t, e.Af0, got, 1e-6)
}

func TestCorrectedTimeHandlesWeekRollover(t *testing.T) {
	// t just after the week rollover, ref just before it: 200s really
	// elapsed, even though the raw TOW difference is close to -604800.
	assert.InDelta(t, 200, correctedTime(100, 604700), 1e-9)
	// Same scenario, time-reversed.
	assert.InDelta(t, -200, correctedTime(604700, 100), 1e-9)
	assert.InDelta(t, 0, correctedTime(100, 100), 1e-9)
}
