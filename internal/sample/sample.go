// Package sample defines the narrow abstraction the acquisition and
// tracking stages read raw 1-bit IF samples through, so they don't care
// whether the bytes came from the live SPI link or an offline capture
// file.
package sample

// Source supplies packed 1-bit IF samples, eight per byte, LSB first —
// the same framing the embedded sampler and an offline capture file both
// use.
type Source interface {
	// ReadPacket fills buf completely with the next len(buf) sample
	// bytes, blocking until they are available. It returns an error
	// (including io.EOF for a file source that has run out) if buf
	// cannot be filled.
	ReadPacket(buf []byte) error

	// Close releases the underlying transport or file handle.
	Close() error
}
