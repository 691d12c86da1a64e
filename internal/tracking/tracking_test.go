package tracking

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bramburn/gpsreceiver/internal/config"
	"github.com/bramburn/gpsreceiver/internal/hardware"
	"github.com/bramburn/gpsreceiver/internal/task"
)

// fakeTransport records every Set call and returns canned Get/Hog
// payloads, standing in for the SPI/file transports in tests that only
// care about channel logic.
type fakeTransport struct {
	sets  []setCall
	getFn func(cmd hardware.Command, wparam uint16, n int) ([]byte, error)
}

type setCall struct {
	cmd    hardware.Command
	wparam uint16
	lparam uint32
}

func (f *fakeTransport) Set(cmd hardware.Command, wparam uint16, lparam uint32) error {
	f.sets = append(f.sets, setCall{cmd, wparam, lparam})
	return nil
}

func (f *fakeTransport) Get(cmd hardware.Command, wparam uint16, n int) ([]byte, error) {
	if f.getFn != nil {
		return f.getFn(cmd, wparam, n)
	}
	return make([]byte, n), nil
}

func (f *fakeTransport) Hog(cmd hardware.Command, n int) ([]byte, error) {
	return make([]byte, n), nil
}

func (f *fakeTransport) Close() error { return nil }

// recordingSink captures every subframe ParityCheck forwards.
type recordingSink struct {
	sv   []int
	bits [][300]byte
}

func (r *recordingSink) Subframe(sv int, bits [300]byte) {
	r.sv = append(r.sv, sv)
	r.bits = append(r.bits, bits)
}

func newTestChannel(transport hardware.Transport, sink SubframeSink) *Channel {
	cfg := config.Default()
	return NewChannel(cfg, transport, 0, sink, logrus.StandardLogger())
}

// buildSubframe independently re-derives the IS-GPS-200 parity bits for
// ten words of "true" (pre-inversion) data, chaining D29/D30 exactly as
// the receiver's parity() does, so the resulting 300-bit buffer is
// guaranteed to parity-check clean. Word 0's first 8 data bits are
// overwritten with the upright preamble.
func buildSubframe(trueData [10][24]byte) []byte {
	trueData[0][0] = 1
	trueData[0][1] = 0
	trueData[0][2] = 0
	trueData[0][3] = 0
	trueData[0][4] = 1
	trueData[0][5] = 0
	trueData[0][6] = 1
	trueData[0][7] = 1

	buf := make([]byte, 300)
	var prevD29, prevD30 byte

	for w := 0; w < 10; w++ {
		var d [31]byte
		copy(d[1:25], trueData[w][:])

		var p [6]byte
		p[0] = prevD29 ^ d[1] ^ d[2] ^ d[3] ^ d[5] ^ d[6] ^ d[10] ^ d[11] ^ d[12] ^ d[13] ^ d[14] ^ d[17] ^ d[18] ^ d[20] ^ d[23]
		p[1] = prevD30 ^ d[2] ^ d[3] ^ d[4] ^ d[6] ^ d[7] ^ d[11] ^ d[12] ^ d[13] ^ d[14] ^ d[15] ^ d[18] ^ d[19] ^ d[21] ^ d[24]
		p[2] = prevD29 ^ d[1] ^ d[3] ^ d[4] ^ d[5] ^ d[7] ^ d[8] ^ d[12] ^ d[13] ^ d[14] ^ d[15] ^ d[16] ^ d[19] ^ d[20] ^ d[22]
		p[3] = prevD30 ^ d[2] ^ d[4] ^ d[5] ^ d[6] ^ d[8] ^ d[9] ^ d[13] ^ d[14] ^ d[15] ^ d[16] ^ d[17] ^ d[20] ^ d[21] ^ d[23]
		p[4] = prevD30 ^ d[1] ^ d[3] ^ d[5] ^ d[6] ^ d[7] ^ d[9] ^ d[10] ^ d[14] ^ d[15] ^ d[16] ^ d[17] ^ d[18] ^ d[21] ^ d[22] ^ d[24]
		p[5] = prevD29 ^ d[3] ^ d[5] ^ d[6] ^ d[8] ^ d[9] ^ d[10] ^ d[11] ^ d[13] ^ d[15] ^ d[19] ^ d[22] ^ d[23] ^ d[24]

		transmitted := make([]byte, 24)
		for i := 0; i < 24; i++ {
			transmitted[i] = trueData[w][i] ^ prevD30
		}

		copy(buf[w*30:w*30+24], transmitted)
		copy(buf[w*30+24:w*30+30], p[:])

		prevD29, prevD30 = p[4], p[5]
	}
	return buf
}

func TestParityCheckAcceptsCleanSubframe(t *testing.T) {
	var words [10][24]byte
	buf := buildSubframe(words)

	sink := &recordingSink{}
	c := newTestChannel(&fakeTransport{}, sink)
	c.sv = 4
	c.probation = 2

	consumed, ok := c.ParityCheck(buf)

	assert.True(t, ok)
	assert.Equal(t, 300, consumed)
	assert.Equal(t, 1, c.probation) // one clean subframe ticks probation down
	require.Len(t, sink.sv, 1)
	assert.Equal(t, 4, sink.sv[0])
	assert.Equal(t, buf[:300], sink.bits[0][:])
}

func TestParityCheckRejectsCorruptedWord(t *testing.T) {
	var words [10][24]byte
	buf := buildSubframe(words)
	buf[10] ^= 1 // flip a data bit inside word 0, after the 8-bit preamble

	c := newTestChannel(&fakeTransport{}, &recordingSink{})

	consumed, ok := c.ParityCheck(buf)

	assert.False(t, ok)
	assert.Equal(t, 30, consumed)
	assert.Equal(t, 2, c.probation)
}

func TestParityCheckRejectsMissingPreamble(t *testing.T) {
	buf := make([]byte, 300)

	c := newTestChannel(&fakeTransport{}, &recordingSink{})
	consumed, ok := c.ParityCheck(buf)

	assert.False(t, ok)
	assert.Equal(t, 1, consumed)
}

func TestParityCheckAcceptsInvertedPreamble(t *testing.T) {
	var words [10][24]byte
	buf := buildSubframe(words)
	for i := 0; i < 300; i++ {
		buf[i] ^= 1 // whole-subframe polarity inversion
	}

	c := newTestChannel(&fakeTransport{}, &recordingSink{})
	consumed, ok := c.ParityCheck(buf)

	assert.True(t, ok)
	assert.Equal(t, 300, consumed)
}

func TestCheckPowerHysteresis(t *testing.T) {
	c := newTestChannel(&fakeTransport{}, nil)

	// Fill the whole power ring with a strong signal; mean should climb
	// above HYST_HI and the gain should drop to -1 (half loop gain).
	for i := 0; i < pwrLen; i++ {
		c.ul.IQ = [2]int16{2000, 0}
		require.NoError(t, c.CheckPower())
	}
	assert.Equal(t, -1, c.GetGainAdj())

	// Now fill it with silence; mean should fall below HYST_LO and the
	// gain should return to its default.
	for i := 0; i < pwrLen; i++ {
		c.ul.IQ = [2]int16{0, 0}
		require.NoError(t, c.CheckPower())
	}
	assert.Equal(t, 0, c.GetGainAdj())
}

func TestNCO32ScalesLinearlyWithFrequency(t *testing.T) {
	cfg := config.Default()
	single := nco32(cfg.CPS, cfg.FS)
	double := nco32(2*cfg.CPS, cfg.FS)
	// Both rates are far from the 32-bit wraparound point, so doubling
	// the target frequency must double the NCO step.
	assert.InDelta(t, float64(single)*2, float64(double), float64(single)*0.001)
}

func TestGetFreqZeroAccumulatorIsZeroHertz(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, 0.0, getFreq([4]uint16{0, 0, 0, 0}, cfg.FS))
}

func TestGetFreqTopWordDominates(t *testing.T) {
	cfg := config.Default()
	topOnly := getFreq([4]uint16{1, 0, 0, 0}, cfg.FS)
	bottomOnly := getFreq([4]uint16{0, 0, 0, 1}, cfg.FS)
	assert.Greater(t, topOnly, bottomOnly)
}

func TestRemoteBitsWrapsModuloMaxBits(t *testing.T) {
	c := newTestChannel(&fakeTransport{}, nil)
	c.rdPos = maxBits - 4

	got := c.RemoteBits(uint16(2)) // wrapped past the top of the buffer
	assert.Equal(t, 6, got)
}

// packWords groups bits into 16-bit uint16 words, MSB first,
// the inverse of Tracking's "word <<= 1; bit = (word>>16)&1" extraction.
func packWords(bits []byte) []uint16 {
	words := make([]uint16, (len(bits)+15)/16)
	for i, b := range bits {
		if b != 0 {
			words[i/16] |= 1 << uint(15-i%16)
		}
	}
	return words
}

// encodeEmbeddedState is decodeEmbeddedState run in reverse, so a test's
// getFn can hand Tracking() a canned CmdGetChan payload.
func encodeEmbeddedState(ul *EmbeddedState) []byte {
	buf := make([]byte, embeddedStateSize)
	pos := 0
	put := func(v uint16) {
		binary.LittleEndian.PutUint16(buf[pos:], v)
		pos += 2
	}
	put(ul.NavMS)
	put(ul.NavBits)
	put(ul.NavGlitch)
	put(ul.NavPrev)
	for _, w := range ul.NavBuf {
		put(w)
	}
	for _, w := range ul.CAFreq {
		put(w)
	}
	for _, w := range ul.LOFreq {
		put(w)
	}
	for _, w := range ul.IQ {
		put(uint16(w))
	}
	for _, w := range ul.CAGain {
		put(w)
	}
	for _, w := range ul.LOGain {
		put(w)
	}
	return buf
}

// TestTrackingDrainsNavBitsThroughPollLoop exercises Channel.Tracking's
// bit-drain loop end to end (not ParityCheck called directly on a
// pre-built buffer): a fake CmdGetChan response feeds the embedded
// NavBuf circular buffer a few words at a time, the way the real
// hardware's buffer fills between polls, and the test asserts the
// resulting sink call carries the 300 bits the fake encoded, with each
// word's data bits un-inverted the way ParityCheck corrects them.
func TestTrackingDrainsNavBitsThroughPollLoop(t *testing.T) {
	var rawWords [10][24]byte
	subframe := buildSubframe(rawWords)

	bits := make([]byte, 304) // pad to a whole number of 16-bit words
	copy(bits, subframe)
	words := packWords(bits)

	sink := &recordingSink{}
	var ch *Channel
	producedBits := 0

	transport := &fakeTransport{
		getFn: func(cmd hardware.Command, wparam uint16, n int) ([]byte, error) {
			remaining := len(words) - producedBits/16
			toDeliver := remaining
			if toDeliver > 3 {
				toDeliver = 3 // RemoteBits caps out below 4 full words per poll
			}

			var navBuf [maxBits / 16]uint16
			base := ch.rdPos / 16
			for k := 0; k < toDeliver; k++ {
				navBuf[(base+k)%(maxBits/16)] = words[producedBits/16+k]
			}
			producedBits += toDeliver * 16

			return encodeEmbeddedState(&EmbeddedState{
				NavBits: uint16(producedBits),
				NavBuf:  navBuf,
			}), nil
		},
	}

	cfg := config.Default()
	cfg.TrackingPollInterval = time.Millisecond
	cfg.TrackingTimeoutPolls = 9

	ch = NewChannel(cfg, transport, 0, sink, logrus.StandardLogger())

	sched := task.NewScheduler()
	done := make(chan struct{})
	sched.Go("tracking", func(ctx context.Context, tk *task.Task) {
		ch.Tracking(ctx, tk)
		close(done)
		sched.Stop()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go sched.Run(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Tracking never returned")
	}

	require.Len(t, sink.bits, 1, "drain loop must decode exactly one clean subframe from the polled words")

	// ParityCheck forwards each word's data bits XORed with the previous
	// word's received D30, and the parity bits as received.
	want := append([]byte(nil), subframe...)
	for w := 1; w < 10; w++ {
		for i := 0; i < 24; i++ {
			want[w*30+i] ^= subframe[w*30-1]
		}
	}
	assert.Equal(t, want, sink.bits[0][:])
}

func TestGetSnapshotRespectsProbation(t *testing.T) {
	c := newTestChannel(&fakeTransport{}, nil)
	c.sv = 7
	c.probation = 1

	_, _, _, ok := c.GetSnapshot(0)
	assert.False(t, ok, "channel on probation must not be used by the solver")

	c.probation = 0
	sv, _, _, ok := c.GetSnapshot(0)
	assert.True(t, ok)
	assert.Equal(t, 7, sv)
}
