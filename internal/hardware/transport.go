package hardware

import "errors"

// ErrNotConnected reports a Transport operation attempted without an
// open link. SPIDriver, the package's Transport, is only built by
// OpenSPI with its port already open and does not return it.
var ErrNotConnected = errors.New("hardware: not connected")

// Transport is the command/response link to the sampler's live FPGA
// over SPI/serial, implemented by SPIDriver; FileDriver replays a
// capture only as a sample.Source. Set fires a command and reads back
// only its status byte; Get fires a command and reads back bytes; Hog
// does both atomically, without letting any other
// caller's request interleave — used once per snapshot cycle to read
// every channel's clock registers as a consistent whole.
type Transport interface {
	Set(cmd Command, wparam uint16, lparam uint32) error
	Get(cmd Command, wparam uint16, n int) ([]byte, error)
	Hog(cmd Command, n int) ([]byte, error)
	Close() error
}
