// Package ephemeris decodes GPS L1 C/A NAV subframes 1-3 (clock and
// orbit parameters) and subframe 4 page 18 (broadcast ionospheric
// model) into the Kepler elements needed to compute a satellite's clock
// correction and ECEF position at a given time.
//
// Grounded on original_source/c/ephemeris.h's EPHEM class (field list
// and method set) and original_source/c/gps.h's physical constants; the
// bit-field layout and scale factors follow the standard IS-GPS-200
// subframe tables, cross-checked against pkg/gnssgo/rtcm/ephemeris.go's
// RTCM 1019 decoder, which carries the same scale factors for the
// fields the two formats share.
package ephemeris

import (
	"fmt"
	"math"
)

// Physical constants every satellite's orbit/clock model depends on,
// grounded on gps.h's MU/OMEGA_E/C/F defines.
const (
	MU           = 3.986005e14      // WGS-84 earth gravitational constant for GPS users, m^3/s^2
	OmegaEDot    = 7.2921151467e-5  // WGS-84 earth rotation rate, rad/s
	SpeedOfLight = 2.99792458e8     // m/s
	relF         = -4.442807633e-10 // -2*sqrt(MU)/c^2: relativistic clock correction factor
)

// Ephemeris holds one satellite's broadcast orbit and clock model,
// accumulated as its three defining subframes arrive in any order, plus
// the ionospheric correction parameters carried on subframe 4 page 18.
// Field grouping follows original_source/c/ephemeris.h's EPHEM class.
type Ephemeris struct {
	have1, have2, have3 bool

	// Subframe 1: clock model
	Week int
	IODC int
	Toc  float64
	Tgd  float64
	Af0  float64
	Af1  float64
	Af2  float64

	// Subframe 2: orbit size/shape/timing
	IODE2  int
	Toe    float64
	Crs    float64
	DeltaN float64
	M0     float64
	Cuc    float64
	E      float64
	Cus    float64
	SqrtA  float64
	A      float64

	// Subframe 3: orbit orientation
	IODE3    int
	Cic      float64
	Omega0   float64
	Cis      float64
	I0       float64
	Crc      float64
	Omega    float64
	OmegaDot float64
	IDOT     float64

	// Subframe 4 page 18: broadcast ionospheric model
	haveIono bool
	Alpha    [4]float64
	Beta     [4]float64

	// TOW is the time-of-week count (seconds) carried by the most
	// recently decoded subframe's HOW word, marking the start of the
	// subframe that follows it.
	TOW uint32
}

// Valid reports whether subframes 1, 2 and 3 have all been decoded at
// least once and agree on the same data set, matching EPHEM::Valid —
// before that, GetXYZ/GetClockCorrection have nothing trustworthy to
// compute from. IODE2/IODE3/IODC must match (IODC's low 8 bits mirror
// the IODE pair) or the three subframes were assembled from different
// uploads and do not describe one consistent orbit/clock model.
func (e *Ephemeris) Valid() bool {
	return e.have1 && e.have2 && e.have3 && e.IODE2 == e.IODE3 && e.IODE2 == e.IODC%256
}

// Subframe decodes one 300-bit (10-word, parity bits included) NAV
// subframe buf and folds its fields into e, dispatching on the
// subframe ID carried in word 2's HOW. Subframe 5 (almanac) is
// intentionally left undecoded — this receiver does not support
// almanac-assisted acquisition. Matches EPHEM::Subframe's per-ID
// dispatch to Subframe1/2/3/4.
func (e *Ephemeris) Subframe(buf []bool) error {
	if len(buf) != 300 {
		return fmt.Errorf("ephemeris: subframe must be 300 bits, got %d", len(buf))
	}

	e.TOW = bitsU(buf, wordOffset(2), 17) * 6
	id := bitsU(buf, wordOffset(2)+19, 3)

	switch id {
	case 1:
		e.subframe1(buf)
	case 2:
		e.subframe2(buf)
	case 3:
		e.subframe3(buf)
	case 4:
		e.subframe4(buf)
	case 5:
		// almanac: out of scope
	default:
		return fmt.Errorf("ephemeris: subframe ID %d out of range", id)
	}
	return nil
}

func (e *Ephemeris) subframe1(buf []bool) {
	w3, w7, w8, w9, w10 := wordOffset(3), wordOffset(7), wordOffset(8), wordOffset(9), wordOffset(10)

	e.Week = int(bitsU(buf, w3, 10))
	iodcMSB := bitsU(buf, w3+22, 2)

	e.Tgd = float64(bitsS(buf, w7+16, 8)) * math.Exp2(-31)

	iodcLSB := bitsU(buf, w8, 8)
	e.IODC = int(iodcMSB<<8 | iodcLSB)
	e.Toc = float64(bitsU(buf, w8+8, 16)) * math.Exp2(4)

	e.Af2 = float64(bitsS(buf, w9, 8)) * math.Exp2(-55)
	e.Af1 = float64(bitsS(buf, w9+8, 16)) * math.Exp2(-43)

	e.Af0 = float64(bitsS(buf, w10, 22)) * math.Exp2(-31)

	e.have1 = true
}

func (e *Ephemeris) subframe2(buf []bool) {
	w3, w4, w5, w6, w7, w8, w9, w10 := wordOffset(3), wordOffset(4), wordOffset(5), wordOffset(6),
		wordOffset(7), wordOffset(8), wordOffset(9), wordOffset(10)

	e.IODE2 = int(bitsU(buf, w3, 8))
	e.Crs = float64(bitsS(buf, w3+8, 16)) * math.Exp2(-5)

	e.DeltaN = float64(bitsS(buf, w4, 16)) * math.Exp2(-43) * math.Pi
	m0MSB := bitsU(buf, w4+16, 8)
	m0LSB := bitsU(buf, w5, 24)
	e.M0 = float64(combine32(m0MSB, m0LSB, 24)) * math.Exp2(-31) * math.Pi

	e.Cuc = float64(bitsS(buf, w6, 16)) * math.Exp2(-29)
	eMSB := bitsU(buf, w6+16, 8)
	eLSB := bitsU(buf, w7, 24)
	e.E = float64(combine32U(eMSB, eLSB, 24)) * math.Exp2(-33)

	e.Cus = float64(bitsS(buf, w8, 16)) * math.Exp2(-29)
	sqrtAMSB := bitsU(buf, w8+16, 8)
	sqrtALSB := bitsU(buf, w9, 24)
	e.SqrtA = float64(combine32U(sqrtAMSB, sqrtALSB, 24)) * math.Exp2(-19)
	e.A = e.SqrtA * e.SqrtA

	e.Toe = float64(bitsU(buf, w10, 16)) * math.Exp2(4)

	e.have2 = true
}

func (e *Ephemeris) subframe3(buf []bool) {
	w3, w4, w5, w6, w7, w8, w9, w10 := wordOffset(3), wordOffset(4), wordOffset(5), wordOffset(6),
		wordOffset(7), wordOffset(8), wordOffset(9), wordOffset(10)

	e.Cic = float64(bitsS(buf, w3, 16)) * math.Exp2(-29)
	omega0MSB := bitsU(buf, w3+16, 8)
	omega0LSB := bitsU(buf, w4, 24)
	e.Omega0 = float64(combine32(omega0MSB, omega0LSB, 24)) * math.Exp2(-31) * math.Pi

	e.Cis = float64(bitsS(buf, w5, 16)) * math.Exp2(-29)
	i0MSB := bitsU(buf, w5+16, 8)
	i0LSB := bitsU(buf, w6, 24)
	e.I0 = float64(combine32(i0MSB, i0LSB, 24)) * math.Exp2(-31) * math.Pi

	e.Crc = float64(bitsS(buf, w7, 16)) * math.Exp2(-5)
	omegaMSB := bitsU(buf, w7+16, 8)
	omegaLSB := bitsU(buf, w8, 24)
	e.Omega = float64(combine32(omegaMSB, omegaLSB, 24)) * math.Exp2(-31) * math.Pi

	e.OmegaDot = float64(bitsS(buf, w9, 24)) * math.Exp2(-43) * math.Pi

	e.IODE3 = int(bitsU(buf, w10, 8))
	e.IDOT = float64(bitsS(buf, w10+8, 14)) * math.Exp2(-43) * math.Pi

	e.have3 = true
}

// subframe4 loads the broadcast ionospheric model from subframe 4 page
// 18, identified by its SV ID field (56, per IS-GPS-200). Every other
// subframe-4 page (almanac pages, special messages) is ignored.
func (e *Ephemeris) subframe4(buf []bool) {
	w3, w4, w5 := wordOffset(3), wordOffset(4), wordOffset(5)

	svID := bitsU(buf, w3+2, 6)
	if svID != 56 {
		return
	}

	e.Alpha[0] = float64(bitsS(buf, w3+8, 8)) * math.Exp2(-30)
	e.Alpha[1] = float64(bitsS(buf, w3+16, 8)) * math.Exp2(-27)
	e.Alpha[2] = float64(bitsS(buf, w4, 8)) * math.Exp2(-24)
	e.Alpha[3] = float64(bitsS(buf, w4+8, 8)) * math.Exp2(-24)

	e.Beta[0] = float64(bitsS(buf, w4+16, 8)) * math.Exp2(11)
	e.Beta[1] = float64(bitsS(buf, w5, 8)) * math.Exp2(14)
	e.Beta[2] = float64(bitsS(buf, w5+8, 8)) * math.Exp2(16)
	e.Beta[3] = float64(bitsS(buf, w5+16, 8)) * math.Exp2(16)

	e.haveIono = true
}

// Iono returns the broadcast ionospheric correction parameters and
// whether page 18 has been seen yet.
func (e *Ephemeris) Iono() (alpha, beta [4]float64, ok bool) {
	return e.Alpha, e.Beta, e.haveIono
}
