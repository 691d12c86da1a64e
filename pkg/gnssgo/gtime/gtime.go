// Package gtime converts between GPS week/time-of-week, the form a
// navigation solve reports, and standard library calendar time.
package gtime

import (
	"time"
)

// Gtime represents a GNSS time
type Gtime struct {
	Time int64   // Time (s) expressed by standard time_t
	Sec  float64 // Fraction of second (s)
}

// Constants for time conversion
const (
	SECONDS_IN_WEEK = 604800.0
	SECONDS_IN_DAY  = 86400.0
	GPS_EPOCH       = 315964800 // GPS time reference epoch (1980/1/6 00:00:00 UTC)
)

// GpsT2Time reconstructs a Gtime from a GPS week number and a
// time-of-week in seconds, the pair a navigation solve reports instead
// of a calendar timestamp.
func GpsT2Time(week int, tow float64) Gtime {
	whole := int64(tow)
	return Gtime{
		Time: GPS_EPOCH + int64(week)*int64(SECONDS_IN_WEEK) + whole,
		Sec:  tow - float64(whole),
	}
}

// ToTime converts a Gtime to a standard library UTC time.Time.
func (t Gtime) ToTime() time.Time {
	return time.Unix(t.Time, int64(t.Sec*1e9)).UTC()
}
