package tracking

import (
	"encoding/binary"
	"fmt"
)

// embeddedStateSize is the wire size of EmbeddedState: four uint16
// header fields, a maxBits/16-word NAV bit buffer, two four-word NCO
// accumulators, one two-word signed IQ pair and two two-word gain
// pairs, all little-endian, matching the UPLOAD struct's layout.
const embeddedStateSize = 2*4 + (maxBits/16)*2 + 4*2 + 4*2 + 2*2 + 2*2 + 2*2

func decodeEmbeddedState(buf []byte, out *EmbeddedState) error {
	if len(buf) < embeddedStateSize {
		return fmt.Errorf("tracking: embedded state short read: want %d bytes, got %d", embeddedStateSize, len(buf))
	}

	r := byteReader{buf: buf}
	out.NavMS = r.u16()
	out.NavBits = r.u16()
	out.NavGlitch = r.u16()
	out.NavPrev = r.u16()
	for i := range out.NavBuf {
		out.NavBuf[i] = r.u16()
	}
	for i := range out.CAFreq {
		out.CAFreq[i] = r.u16()
	}
	for i := range out.LOFreq {
		out.LOFreq[i] = r.u16()
	}
	for i := range out.IQ {
		out.IQ[i] = int16(r.u16())
	}
	for i := range out.CAGain {
		out.CAGain[i] = r.u16()
	}
	for i := range out.LOGain {
		out.LOGain[i] = r.u16()
	}
	return nil
}

// byteReader pulls little-endian uint16s off a byte slice in sequence,
// standing in for a binary.Read(bytes.Reader, ...) loop without the
// per-field reflection cost.
type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) u16() uint16 {
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}
