// Package mixer downconverts 1-bit IF samples to complex baseband by
// XORing each sample bit against a 4-phase quadrature local oscillator,
// then mapping the XOR result through Bipolar to +/-1.
package mixer

// LUT is a 4-phase quadrature local-oscillator lookup table pair, indexed
// by the NCO's integer phase (0..3).
type LUT struct {
	sin, cos [4]int
	swapIQ   bool
}

// LUTOnline is the live SPI hardware sampling path's LUT: I is XORed
// against sin, Q against cos. Grounded on search.cpp's Sample().
var LUTOnline = LUT{
	sin: [4]int{1, 1, 0, 0},
	cos: [4]int{1, 0, 0, 1},
}

// LUTOffline is the offline file-replay path's LUT: the cos table differs
// from the online one and I/Q are swapped (I from cos, Q from sin).
// Grounded on search_offline.cpp's Sample(); this asymmetry between
// online and offline capture is preserved deliberately rather than
// "fixed", per an explicit Open Question resolution (see DESIGN.md).
var LUTOffline = LUT{
	sin:    [4]int{1, 1, 0, 0},
	cos:    [4]int{0, 1, 1, 0},
	swapIQ: true,
}

// Bipolar maps a binary sample/XOR result to a bipolar float: 0 -> +1,
// nonzero -> -1.
func Bipolar(bit int) float64 {
	if bit != 0 {
		return -1.0
	}
	return 1.0
}

// NCO is a 4-phase quadrature local oscillator driven at a fixed phase
// increment per sample, wrapping modulo 4.
type NCO struct {
	rate  float64
	phase float64
	lut   LUT
}

// NewNCO returns an NCO for the given carrier IF (fc) and sample rate
// (fs), using lut to downconvert. The NCO phase advances by 4*fc/fs per
// sample, matching the original receiver's lo_rate.
func NewNCO(fc, fs float64, lut LUT) *NCO {
	return &NCO{rate: 4 * fc / fs, lut: lut}
}

// Mix downconverts one 1-bit IF sample to its complex baseband I/Q pair
// and advances the NCO phase by one sample period.
func (n *NCO) Mix(bit int) (i, q float64) {
	phase := int(n.phase)

	sinVal := Bipolar(bit ^ n.lut.sin[phase])
	cosVal := Bipolar(bit ^ n.lut.cos[phase])

	n.phase += n.rate
	if n.phase >= 4 {
		n.phase -= 4
	}

	if n.lut.swapIQ {
		return cosVal, sinVal
	}
	return sinVal, cosVal
}

// Reset zeroes the phase accumulator, matching the FPGA's reset-on-trigger
// behaviour at the start of each acquisition window.
func (n *NCO) Reset() {
	n.phase = 0
}
