package nmea

import (
	"fmt"
	"time"
)

// FormatGGA builds a $GPGGA sentence: a UTC timestamp, a position in
// decimal degrees, a fix quality and satellite count, and a horizontal
// dilution of precision. Geoid separation and DGPS age/station fields
// are left blank, matching a receiver with no geoid model and no
// differential corrections.
func FormatGGA(t time.Time, latDeg, lonDeg, altM float64, quality, numSats int, hdop float64) string {
	latStr, latDir := FormatLatLon(latDeg, true)
	lonStr, lonDir := FormatLatLon(lonDeg, false)

	fields := []string{
		t.UTC().Format("150405.00"),
		latStr, latDir,
		lonStr, lonDir,
		fmt.Sprintf("%d", quality),
		fmt.Sprintf("%02d", numSats),
		fmt.Sprintf("%.1f", hdop),
		fmt.Sprintf("%.1f", altM), "M",
		"", "M",
		"", "",
	}
	return GenerateNMEASentence("GPGGA", fields)
}
