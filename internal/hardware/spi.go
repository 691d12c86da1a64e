package hardware

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// mosiLen is the wire size of one outbound command frame: cmd(2) +
// wparam(2) + lparam(4) + pad(1), matching SPI_MOSI's packed layout.
const mosiLen = 9

// serialPort is the narrow slice of go.bug.st/serial.Port that SPIDriver
// needs, named and scoped the way top708.SerialPort is — so tests can
// substitute a mock without depending on the real driver.
type serialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

// SPIDriver speaks the embedded sampler's command protocol over a real
// serial link, adapted from the bramburn-gnssgo TOP708 connect/retry
// pattern but framing the Homemade-GPS-Receiver SPI_MOSI/SPI_MISO
// messages instead of NMEA sentences.
type SPIDriver struct {
	port   serialPort
	ticket *ticketLock
	log    logrus.FieldLogger

	retryCount int
	retryDelay time.Duration
}

// OpenSPI opens portName at baudRate and returns a ready SPIDriver.
func OpenSPI(portName string, baudRate int, log logrus.FieldLogger) (*SPIDriver, error) {
	mode := &serial.Mode{BaudRate: baudRate, DataBits: 8, StopBits: serial.OneStopBit, Parity: serial.NoParity}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(500 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", portName, err)
	}

	if log == nil {
		log = logrus.StandardLogger()
	}

	return newSPIDriver(port, log), nil
}

func newSPIDriver(port serialPort, log logrus.FieldLogger) *SPIDriver {
	return &SPIDriver{
		port:       port,
		ticket:     newTicketLock(),
		log:        log,
		retryCount: 20,
		retryDelay: 10 * time.Millisecond,
	}
}

func encodeMOSI(cmd Command, wparam uint16, lparam uint32) []byte {
	buf := make([]byte, mosiLen)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(cmd))
	binary.LittleEndian.PutUint16(buf[2:4], wparam)
	binary.LittleEndian.PutUint32(buf[4:8], lparam)
	return buf
}

// scan writes one command frame and reads back a status byte plus n
// payload bytes, retrying while the embedded CPU reports BUSY — the
// "previous request not yet serviced" condition spi_scan polls for.
func (d *SPIDriver) scan(cmd Command, wparam uint16, lparam uint32, n int) ([]byte, error) {
	frame := encodeMOSI(cmd, wparam, lparam)
	resp := make([]byte, 1+n)

	for attempt := 0; attempt <= d.retryCount; attempt++ {
		if _, err := d.port.Write(frame); err != nil {
			return nil, fmt.Errorf("write %s: %w", cmd, err)
		}
		if _, err := readFull(d.port, resp); err != nil {
			return nil, fmt.Errorf("read %s: %w", cmd, err)
		}
		if resp[0] != statusBusy {
			return resp[1:], nil
		}
		d.log.WithField("cmd", cmd.String()).Debug("sampler busy, retrying")
		time.Sleep(d.retryDelay)
	}
	return nil, fmt.Errorf("%s: sampler busy after %d attempts", cmd, d.retryCount+1)
}

func readFull(port serialPort, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := port.Read(buf[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("short read: got %d of %d bytes", total, len(buf))
		}
		total += n
	}
	return total, nil
}

// Set fires a command and discards the reply, first-come-first-served
// with any concurrent Get/Hog caller.
func (d *SPIDriver) Set(cmd Command, wparam uint16, lparam uint32) error {
	d.ticket.Lock()
	defer d.ticket.Unlock()
	_, err := d.scan(cmd, wparam, lparam, 0)
	return err
}

// Get fires a command and returns its n-byte payload.
func (d *SPIDriver) Get(cmd Command, wparam uint16, n int) ([]byte, error) {
	d.ticket.Lock()
	defer d.ticket.Unlock()
	return d.scan(cmd, wparam, 0, n)
}

// Hog reads cmd's payload and follows it with a dummy GetJoy round trip
// before releasing the ticket lock, so nothing else on the link can
// interleave between the request and its response — used once per
// atomic cross-channel snapshot.
func (d *SPIDriver) Hog(cmd Command, n int) ([]byte, error) {
	d.ticket.Lock()
	defer d.ticket.Unlock()

	payload, err := d.scan(cmd, 0, 0, n)
	if err != nil {
		return nil, err
	}
	if _, err := d.scan(CmdGetJoy, 0, 0, 0); err != nil {
		return nil, fmt.Errorf("hog dummy round trip: %w", err)
	}
	return payload, nil
}

// Close releases the underlying serial port.
func (d *SPIDriver) Close() error {
	return d.port.Close()
}
