// Package nmea formats GNSS fixes as NMEA 0183 sentences.
package nmea

import (
	"fmt"
)

// CalculateNMEAChecksum calculates the checksum for an NMEA sentence
func CalculateNMEAChecksum(data string) string {
	var checksum uint8
	for i := 0; i < len(data); i++ {
		checksum ^= data[i]
	}
	return fmt.Sprintf("%02X", checksum)
}
