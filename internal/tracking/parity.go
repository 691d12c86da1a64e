package tracking

// preambleUpright and preambleInverse are the 8-bit TLM preamble pattern
// as it appears in a correctly- and inverted-polarity NAV bit stream.
// Which one matches seeds the parity correction bits D29/D30 for the
// first word of the subframe, resolving the Costas loop's 180-degree
// phase ambiguity.
var (
	preambleUpright = [8]byte{1, 0, 0, 0, 1, 0, 1, 1}
	preambleInverse = [8]byte{0, 1, 1, 1, 0, 1, 0, 0}
)

// parity implements the IS-GPS-200 parity check and data-bit
// un-inversion for one 30-bit NAV word. word[0:24] are the data bits
// D1..D24 and word[24:30] are the received parity bits D25..D30.
// prevD29/prevD30 are D29/D30 of the preceding word in the subframe (or
// the preamble-derived seed for the subframe's first word).
//
// On return, word[0:24] holds the corrected (un-inverted) data bits, ok
// reports whether the received parity bits matched the computed ones,
// and nextD29/nextD30 are this word's own D29/D30 — the seed the next
// word in the subframe needs.
func parity(word []byte, prevD29, prevD30 byte) (ok bool, nextD29, nextD30 byte) {
	var d [31]byte // 1-indexed: d[1]..d[30] are D1..D30
	copy(d[1:], word[:30])
	for i := 1; i <= 24; i++ {
		d[i] ^= prevD30
	}

	var p [6]byte
	p[0] = prevD29 ^ d[1] ^ d[2] ^ d[3] ^ d[5] ^ d[6] ^ d[10] ^ d[11] ^ d[12] ^ d[13] ^ d[14] ^ d[17] ^ d[18] ^ d[20] ^ d[23]
	p[1] = prevD30 ^ d[2] ^ d[3] ^ d[4] ^ d[6] ^ d[7] ^ d[11] ^ d[12] ^ d[13] ^ d[14] ^ d[15] ^ d[18] ^ d[19] ^ d[21] ^ d[24]
	p[2] = prevD29 ^ d[1] ^ d[3] ^ d[4] ^ d[5] ^ d[7] ^ d[8] ^ d[12] ^ d[13] ^ d[14] ^ d[15] ^ d[16] ^ d[19] ^ d[20] ^ d[22]
	p[3] = prevD30 ^ d[2] ^ d[4] ^ d[5] ^ d[6] ^ d[8] ^ d[9] ^ d[13] ^ d[14] ^ d[15] ^ d[16] ^ d[17] ^ d[20] ^ d[21] ^ d[23]
	p[4] = prevD30 ^ d[1] ^ d[3] ^ d[5] ^ d[6] ^ d[7] ^ d[9] ^ d[10] ^ d[14] ^ d[15] ^ d[16] ^ d[17] ^ d[18] ^ d[21] ^ d[22] ^ d[24]
	p[5] = prevD29 ^ d[3] ^ d[5] ^ d[6] ^ d[8] ^ d[9] ^ d[10] ^ d[11] ^ d[13] ^ d[15] ^ d[19] ^ d[22] ^ d[23] ^ d[24]

	copy(word[:24], d[1:25])

	ok = true
	for i := 0; i < 6; i++ {
		if p[i] != d[25+i] {
			ok = false
			break
		}
	}
	return ok, p[4], p[5]
}

// ParityCheck looks for a subframe's preamble at the start of buf, then
// parity-checks and un-inverts its ten 30-bit words. On a clean
// subframe it forwards the corrected 300 bits to the channel's
// SubframeSink and clears one probation tick. On a parity mismatch
// partway through it sets probation back up to 2, since a
// noisy/unlocked channel can keep producing garbage subframes
// indefinitely; a missing preamble leaves probation unchanged.
//
// It returns the number of bits consumed from buf: 1 if no preamble was
// found, the bit offset just past the failing word on a parity miss,
// or 300 on success. Grounded on CHANNEL::ParityCheck.
func (c *Channel) ParityCheck(buf []byte) (consumed int, ok bool) {
	var d29, d30 byte
	switch {
	case bytesEqual8(buf[:8], preambleUpright):
		d29, d30 = 0, 0
	case bytesEqual8(buf[:8], preambleInverse):
		d29, d30 = 1, 1
	default:
		return 1, false
	}

	for i := 0; i < 300; i += 30 {
		word := buf[i : i+30]
		wordOK, nd29, nd30 := parity(word, d29, d30)
		if !wordOK {
			c.probation = 2
			return i + 30, false
		}
		d29, d30 = nd29, nd30
	}

	if c.sink != nil {
		var bits [300]byte
		copy(bits[:], buf[:300])
		c.sink.Subframe(c.sv, bits)
	}
	if c.probation != 0 {
		c.probation--
	}
	return 300, true
}

func bytesEqual8(a []byte, b [8]byte) bool {
	for i := 0; i < 8; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
