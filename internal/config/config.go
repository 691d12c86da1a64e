// Package config holds the default receiver constants and the overrides
// the offline capture tool is allowed to apply at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config collects the frequencies, rates and array sizes every other
// package depends on. The zero value is not useful; construct one with
// Default() and apply Options as needed.
type Config struct {
	FS float64 // Sample rate, Hz
	FC float64 // Carrier IF, Hz
	L1 float64 // L1 carrier frequency, Hz
	CPS float64 // C/A chip rate, chips/s
	BPS float64 // NAV data rate, bits/s

	FFTLen int // Acquisition FFT length (samples)

	NumChans int // Hardware tracking channels
	NumSats  int // PRNs in the satellite table
	MaxBits  int // Per-channel NAV bit circular buffer length
	PwrLen   int // Signal-power ring buffer length

	MaxDopplerHz  float64 // Acquisition search half-width, Hz
	AcquireSNRMin float64 // Minimum peak/mean power ratio to declare acquisition

	StartSettle          time.Duration // Start(): wait before unmasking PI controllers
	AcquisitionSettle    time.Duration // Acquisition(): time given the Costas loop to pull in
	TrackingPollInterval time.Duration // Tracking(): poll period for embedded channel state
	TrackingTimeoutPolls int           // Tracking(): consecutive clean-subframe-free polls before giving up

	GlitchGuard time.Duration // Collect(): settle time bracketing the atomic clock snapshot
	SolveRetry  time.Duration // receiver: delay between solve attempts

	SVTaps [][2]int `yaml:"sv_taps,omitempty"` // optional PRN->(T1,T2) override
}

// Default returns the receiver's default configuration: FS=10MHz,
// FC=2.6MHz, L1=1575.42MHz, CPS=1.023MHz, BPS=50, FFT_LEN=40000,
// NUM_CHANS=12, NUM_SATS=32, MAX_BITS=64, PWR_LEN=8, max Doppler=5kHz.
func Default() *Config {
	return &Config{
		FS:           10e6,
		FC:           2.6e6,
		L1:           1575.42e6,
		CPS:          1.023e6,
		BPS:          50,
		FFTLen:       40000,
		NumChans:     12,
		NumSats:      32,
		MaxBits:      64,
		PwrLen:       8,
		MaxDopplerHz:  5000,
		AcquireSNRMin: 25,

		StartSettle:          3 * time.Millisecond,
		AcquisitionSettle:    5 * time.Second,
		TrackingPollInterval: 250 * time.Millisecond,
		TrackingTimeoutPolls: 80,

		GlitchGuard: 500 * time.Millisecond,
		SolveRetry:  4 * time.Second,
	}
}

// Option mutates a Config in place; used by the offline CLI to apply
// capture-specific overrides (FC, FS, max Doppler) without touching the
// defaults used by every other caller.
type Option func(*Config)

// WithSampleRate overrides FS.
func WithSampleRate(fs float64) Option {
	return func(c *Config) { c.FS = fs }
}

// WithCarrierIF overrides FC.
func WithCarrierIF(fc float64) Option {
	return func(c *Config) { c.FC = fc }
}

// WithMaxDoppler overrides the acquisition search half-width.
func WithMaxDoppler(hz float64) Option {
	return func(c *Config) { c.MaxDopplerHz = hz }
}

// Apply runs each Option against the config in order.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// LoadYAML reads constant overrides from a YAML file on top of Default().
// Missing fields in the file are left at their default values.
func LoadYAML(path string) (*Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return c, nil
}

// SamplesPerMS returns the number of samples in one code period (one ms),
// used by the acquisition SNR window and the tracking bit-timing math.
func (c *Config) SamplesPerMS() int {
	return int(c.FS / 1000)
}
