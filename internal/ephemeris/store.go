package ephemeris

import "github.com/sirupsen/logrus"

// Store holds one Ephemeris per PRN and accepts decoded subframes from
// every tracking channel, implementing tracking.SubframeSink without
// importing internal/tracking — the dependency points the other way,
// matching the original's file-scope "extern EPHEM Ephemeris[]" array
// that every channel's ParityCheck indexed by sv.
type Store struct {
	sats [32]Ephemeris
	log  logrus.FieldLogger
}

// NewStore returns an empty Store, one Ephemeris slot per Satellites[]
// index.
func NewStore(log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{log: log}
}

// Subframe decodes bits as one satellite's NAV subframe and folds it
// into that satellite's Ephemeris, matching
// "Ephemeris[sv].Subframe(buf)" in CHANNEL::ParityCheck.
func (s *Store) Subframe(sv int, bits [300]byte) {
	if sv < 0 || sv >= len(s.sats) {
		s.log.WithField("sv", sv).Warn("ephemeris: subframe for out-of-range SV dropped")
		return
	}

	buf := make([]bool, 300)
	for i, b := range bits {
		buf[i] = b != 0
	}

	if err := s.sats[sv].Subframe(buf); err != nil {
		s.log.WithError(err).WithField("sv", sv+1).Warn("ephemeris: subframe decode failed")
	}
}

// Get returns sv's accumulated Ephemeris and whether it is Valid():
// subframes 1-3 decoded with matching issue-of-data values.
func (s *Store) Get(sv int) (*Ephemeris, bool) {
	if sv < 0 || sv >= len(s.sats) {
		return nil, false
	}
	e := &s.sats[sv]
	return e, e.Valid()
}
