package hardware

import (
	"fmt"
	"io"
	"os"

	"github.com/bramburn/gpsreceiver/internal/sample"
)

var (
	_ sample.Source = (*SPIDriver)(nil)
	_ sample.Source = (*FileDriver)(nil)
)

// samplePacket is the SPI driver's read chunk size, matching the
// original receiver's PACKET constant.
const samplePacket = 512

// ReadPacket fills buf by issuing repeated CmdGetSamples requests,
// matching Sample()'s "spi_get(CmdGetSamples, &rx, PACKET)" loop.
func (d *SPIDriver) ReadPacket(buf []byte) error {
	for filled := 0; filled < len(buf); {
		want := samplePacket
		if remaining := len(buf) - filled; remaining < want {
			want = remaining
		}
		chunk, err := d.Get(CmdGetSamples, 0, want)
		if err != nil {
			return fmt.Errorf("read sample packet: %w", err)
		}
		filled += copy(buf[filled:], chunk)
	}
	return nil
}

// FileDriver replays a recorded 1-bit IF capture file as a sample.Source,
// standing in for the SPI link when no hardware is attached. Grounded on
// search_offline.cpp's Sample(), which reads PACKET-byte chunks straight
// from an fopen'd capture file instead of polling the embedded CPU.
type FileDriver struct {
	f *os.File
}

// OpenFile opens path as an offline capture source.
func OpenFile(path string) (*FileDriver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", path, err)
	}
	return &FileDriver{f: f}, nil
}

// ReadPacket fills buf from the capture file, matching search_offline.cpp's
// fread PACKET-at-a-time loop and its "short read is fatal" behaviour.
func (d *FileDriver) ReadPacket(buf []byte) error {
	_, err := io.ReadFull(d.f, buf)
	if err != nil {
		return fmt.Errorf("read capture packet: %w", err)
	}
	return nil
}

// Close releases the capture file handle.
func (d *FileDriver) Close() error {
	return d.f.Close()
}
