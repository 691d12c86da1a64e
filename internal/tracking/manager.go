package tracking

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bramburn/gpsreceiver/internal/config"
	"github.com/bramburn/gpsreceiver/internal/hardware"
	"github.com/bramburn/gpsreceiver/internal/task"
)

// Manager owns the fixed pool of hardware tracking channels and the
// busy-channel mask the embedded CPU uses to know which channels'
// PI controllers should be running, mirroring the original's file-scope
// Chans[]/BusyFlags pair and the ChanReset/ChanStart/ChanSnapshot
// functions that operated on them.
type Manager struct {
	cfg       *config.Config
	transport hardware.Transport
	log       logrus.FieldLogger

	channels []*Channel

	mu        sync.Mutex
	busyFlags uint32

	searchEnable func(sv int)
}

// NewManager builds a Manager with cfg.NumChans channels, all initially
// idle. sink receives every channel's clean subframes; searchEnable is
// called when a channel loses lock, telling the acquisition search that
// sv is available to reacquire.
func NewManager(cfg *config.Config, transport hardware.Transport, sink SubframeSink, searchEnable func(sv int), log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Manager{
		cfg:          cfg,
		transport:    transport,
		log:          log,
		searchEnable: searchEnable,
	}
	m.channels = make([]*Channel, cfg.NumChans)
	for i := range m.channels {
		ch := NewChannel(cfg, transport, i, sink, log)
		ch.bindManager(
			func() error { return m.clearBusy(ch.index) },
			func(sv int) {
				if m.searchEnable != nil {
					m.searchEnable(sv)
				}
			},
		)
		m.channels[i] = ch
	}
	return m
}

// Channels returns the managed channel pool, in hardware index order.
func (m *Manager) Channels() []*Channel { return m.channels }

func (m *Manager) isBusy(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busyFlags&(1<<uint(index)) != 0
}

// setBusy sets or clears index's bit in the shared PI-controller enable
// mask and pushes the new mask to the embedded CPU in one SPI command,
// matching the "spi_set(CmdSetMask, BusyFlags|=1<<ch)" pattern in
// CHANNEL::Start and CHANNEL::SignalLost.
func (m *Manager) setBusy(index int, busy bool) error {
	m.mu.Lock()
	if busy {
		m.busyFlags |= 1 << uint(index)
	} else {
		m.busyFlags &^= 1 << uint(index)
	}
	mask := m.busyFlags
	m.mu.Unlock()

	return m.transport.Set(hardware.CmdSetMask, 0, mask)
}

func (m *Manager) clearBusy(index int) error {
	return m.setBusy(index, false)
}

// Reset finds the first idle channel, resets its loop state and returns
// its index, matching ChanReset. It returns an error if every channel
// is already tracking a satellite.
func (m *Manager) Reset() (int, error) {
	for _, ch := range m.channels {
		if m.isBusy(ch.index) {
			continue
		}
		if err := ch.Reset(); err != nil {
			return -1, err
		}
		return ch.index, nil
	}
	return -1, fmt.Errorf("tracking: all %d channels busy", len(m.channels))
}

// Start programs channel index to begin pulling in on an acquisition
// hit and marks it busy, matching ChanStart followed by CHANNEL::Start's
// trailing CmdSetMask enable.
func (m *Manager) Start(ctx context.Context, t *task.Task, index, sv int, sampleAge float64, taps, loShift, caShift int) error {
	ch := m.channels[index]
	if err := ch.Start(ctx, t, sv, sampleAge, taps, loShift, caShift); err != nil {
		return err
	}
	return m.setBusy(index, true)
}

// Snapshot reports channel index's SV/bit-count/power for the solver,
// unless the channel is idle or on probation, matching ChanSnapshot.
func (m *Manager) Snapshot(index int, wrPos uint16) (sv int, bits int, pwr float64, ok bool) {
	if !m.isBusy(index) {
		return 0, 0, 0, false
	}
	return m.channels[index].GetSnapshot(wrPos)
}

// Run registers one task per channel on s, each of which runs that
// channel's Service lifecycle whenever the channel is busy and yields
// otherwise, matching ChanTask's "if busy Service(); NextTask()" loop.
// Run itself only wires the tasks; s.Run starts them.
func (m *Manager) Run(s *task.Scheduler) {
	for _, ch := range m.channels {
		ch := ch
		s.Go(fmt.Sprintf("chan%d", ch.index), func(ctx context.Context, t *task.Task) {
			for {
				if m.isBusy(ch.index) {
					ch.Service(ctx, t)
				}
				t.Yield(ctx)
				if ctx.Err() != nil {
					return
				}
			}
		})
	}
}
