// Package cacode generates the GPS L1 C/A Gold code for a given satellite
// and provides the reverse lookup (SearchCode) used at solve time to turn
// a captured G1 register snapshot into a chip-phase offset.
package cacode

// Generator holds the two 10-bit G1/G2 linear feedback shift registers
// that produce one satellite's C/A chip sequence. Bit 1 is the LSB; bit
// 10 is the tap fed back into the output chip.
//
// Both registers are initialised to all-ones, per IS-GPS-200.
type Generator struct {
	g1, g2 [11]byte // index 0 unused, bits 1..10
	t1, t2 int      // G2 tap positions selecting this PRN
}

// NewGenerator returns a Generator for the given G2 tap pair, freshly
// reset to the all-ones initial state.
func NewGenerator(t1, t2 int) *Generator {
	g := &Generator{t1: t1, t2: t2}
	g.Reset()
	return g
}

// Reset reinitialises both shift registers to all ones.
func (g *Generator) Reset() {
	for i := 1; i <= 10; i++ {
		g.g1[i] = 1
		g.g2[i] = 1
	}
}

// Chip returns the current output chip: G1[10] XOR G2[T1] XOR G2[T2].
func (g *Generator) Chip() byte {
	return g.g1[10] ^ g.g2[g.t1] ^ g.g2[g.t2]
}

// Clock advances both shift registers by one chip period.
func (g *Generator) Clock() {
	g1new := g.g1[3] ^ g.g1[10]
	g2new := g.g2[2] ^ g.g2[3] ^ g.g2[6] ^ g.g2[8] ^ g.g2[9] ^ g.g2[10]

	for i := 10; i > 1; i-- {
		g.g1[i] = g.g1[i-1]
		g.g2[i] = g.g2[i-1]
	}
	g.g1[1] = g1new
	g.g2[1] = g2new
}

// GetG1 returns the current G1 register as an unsigned integer with bit 1
// as the LSB and bit 10 as the MSB, for use as the reverse code-phase key.
func (g *Generator) GetG1() uint16 {
	var ret uint16
	for bit := 0; bit < 10; bit++ {
		ret = ret<<1 | uint16(g.g1[10-bit])
	}
	return ret
}

// Sequence generates the full 1023-chip period starting from the reset
// state, leaving the generator clocked through one period. Each element
// is 0 or 1.
func Sequence(t1, t2 int) []byte {
	g := NewGenerator(t1, t2)
	out := make([]byte, 1023)
	for i := range out {
		out[i] = g.Chip()
		g.Clock()
	}
	return out
}

// Satellite names the G2 tap pair and the legacy NAVSTAR vehicle number
// for one PRN, taken verbatim from the original receiver's Sats[] table.
type Satellite struct {
	PRN     int
	NAVSTAR int
	T1, T2  int
}

// Satellites is the fixed PRN 1..32 -> (T1, T2) table for GPS L1 C/A.
var Satellites = [32]Satellite{
	{1, 63, 2, 6},
	{2, 56, 3, 7},
	{3, 37, 4, 8},
	{4, 35, 5, 9},
	{5, 64, 1, 9},
	{6, 36, 2, 10},
	{7, 62, 1, 8},
	{8, 44, 2, 9},
	{9, 33, 3, 10},
	{10, 38, 2, 3},
	{11, 46, 3, 4},
	{12, 59, 5, 6},
	{13, 43, 6, 7},
	{14, 49, 7, 8},
	{15, 60, 8, 9},
	{16, 51, 9, 10},
	{17, 57, 1, 4},
	{18, 50, 2, 5},
	{19, 54, 3, 6},
	{20, 47, 4, 7},
	{21, 52, 5, 8},
	{22, 53, 6, 9},
	{23, 55, 1, 3},
	{24, 23, 4, 6},
	{25, 24, 5, 7},
	{26, 26, 6, 8},
	{27, 27, 7, 9},
	{28, 48, 8, 10},
	{29, 61, 1, 6},
	{30, 39, 2, 7},
	{31, 58, 3, 8},
	{32, 22, 4, 9},
}

// ForPRN returns the Satellite entry for a 1-based PRN, or false if prn
// is out of range.
func ForPRN(prn int) (Satellite, bool) {
	if prn < 1 || prn > len(Satellites) {
		return Satellite{}, false
	}
	return Satellites[prn-1], true
}

// SearchCode walks a fresh generator for the given tap pair until its G1
// register matches g1, returning the chip count (0..1022). Used to
// recover the code phase from a hardware G1 snapshot at solve time.
func SearchCode(t1, t2 int, g1 uint16) int {
	g := NewGenerator(t1, t2)
	for chips := 0; ; chips++ {
		if g.GetG1() == g1 {
			return chips
		}
		g.Clock()
		if chips > 1023 {
			// Defensive bound: a period is exactly 1023 chips, so a
			// target that never matches is a caller error, not a
			// hardware glitch worth looping forever over.
			return chips
		}
	}
}
