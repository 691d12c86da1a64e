// Command gpsreceiver replays a recorded 1-bit IF capture file through
// the acquisition engine and streams a per-window detection summary to
// stdout, standing in for the live-hardware receiver when no SPI board
// is attached.
//
// Grounded on original_source/c/test_search_offline.cpp's main (capture
// filename/FC/FS argument contract and its "gps.samples..." default
// capture) and search_offline.cpp's SearchTask (the per-window
// SVs/SNRs/lo_shift/ca_shift/32-wide-SNR-matrix report), reporting
// through logrus instead of printf per the teacher's logging
// convention.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/bramburn/gpsreceiver/internal/acquisition"
	"github.com/bramburn/gpsreceiver/internal/config"
	"github.com/bramburn/gpsreceiver/internal/hardware"
	"github.com/bramburn/gpsreceiver/internal/mixer"
)

// defaultCapture matches test_search_offline.cpp's "make sure this file
// can be found" fallback; here it's just the default positional value
// rather than a hard requirement, since the Go CLI always takes an
// explicit path.
const defaultCapture = "gps.samples.1bit.I.fs5456.if4092.bin"

func main() {
	log := logrus.StandardLogger()

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [capture.bin FC FS max_fo]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	capture, cfg, err := parseArgs(flag.Args())
	if err != nil {
		log.WithError(err).Fatal("bad arguments")
	}

	src, err := hardware.OpenFile(capture)
	if err != nil {
		log.WithError(err).Fatal("open capture file")
	}
	defer src.Close()

	acq, err := acquisition.NewEngine(cfg)
	if err != nil {
		log.WithError(err).Fatal("build acquisition engine")
	}
	nco := mixer.NewNCO(cfg.FC, cfg.FS, mixer.LUTOffline)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	log.WithFields(logrus.Fields{"capture": capture, "fc": cfg.FC, "fs": cfg.FS, "max_fo": cfg.MaxDopplerHz}).
		Info("gpsreceiver: starting offline acquisition sweep")

	for window := 0; ; window++ {
		select {
		case <-stop:
			log.Info("gpsreceiver: interrupted")
			return
		default:
		}

		samples, err := readWindow(src, nco, cfg.FFTLen)
		if err != nil {
			log.WithError(err).Info("gpsreceiver: capture exhausted")
			return
		}

		results, err := acq.Search(context.Background(), nil, samples)
		if err != nil {
			log.WithError(err).Fatal("acquisition search failed")
		}

		report(log, cfg, window, results)
	}
}

// parseArgs accepts either no arguments (defaults per the Default
// config, replaying defaultCapture) or exactly four positional
// arguments: capture path, carrier IF, sample rate, max Doppler offset,
// all in Hz.
func parseArgs(args []string) (capture string, cfg *config.Config, err error) {
	cfg = config.Default()

	switch len(args) {
	case 0:
		return defaultCapture, cfg, nil
	case 4:
		fc, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return "", nil, fmt.Errorf("parse FC: %w", err)
		}
		fs, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return "", nil, fmt.Errorf("parse FS: %w", err)
		}
		maxFo, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			return "", nil, fmt.Errorf("parse max_fo: %w", err)
		}
		cfg.Apply(config.WithCarrierIF(fc), config.WithSampleRate(fs), config.WithMaxDoppler(maxFo))
		return args[0], cfg, nil
	default:
		return "", nil, fmt.Errorf("want 0 or 4 positional arguments (capture.bin FC FS max_fo), got %d", len(args))
	}
}

// readWindow pulls one FFTLen window of packed 1-bit IF samples from src
// and downconverts it to complex baseband, resetting nco's phase first
// so every window starts from the same reference the FPGA's
// trigger-reset gives live hardware.
func readWindow(src *hardware.FileDriver, nco *mixer.NCO, n int) ([]complex128, error) {
	buf := make([]byte, (n+7)/8)
	if err := src.ReadPacket(buf); err != nil {
		return nil, fmt.Errorf("read sample window: %w", err)
	}

	nco.Reset()
	samples := make([]complex128, n)
	for i := 0; i < n; i++ {
		bit := int((buf[i/8] >> uint(i%8)) & 1)
		iv, qv := nco.Mix(bit)
		samples[i] = complex(iv, qv)
	}
	return samples, nil
}

// report logs one window's detections (SV, SNR, Doppler bin, code
// phase) plus the full per-satellite SNR matrix, matching
// SearchTask's "sv_store/snr_store/lo_store/ca_store" summary lines.
func report(log logrus.FieldLogger, cfg *config.Config, window int, results []acquisition.Result) {
	hits := make([]logrus.Fields, 0, len(results))
	snrs := make([]float64, len(results))

	for i, res := range results {
		snrs[i] = res.SNR
		if !acquisition.Acquired(cfg, res) {
			continue
		}
		hits = append(hits, logrus.Fields{
			"sv":         i + 1,
			"snr":        res.SNR,
			"dopplerBin": res.DopplerBin,
			"dopplerHz":  res.DopplerHz,
			"codeSample": res.CodeSample,
		})
	}

	log.WithFields(logrus.Fields{"window": window, "hits": hits, "snrs": snrs}).Info("acquisition window")
}
