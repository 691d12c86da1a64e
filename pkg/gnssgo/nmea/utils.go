package nmea

import (
	"fmt"
	"math"
	"strings"
)

// FormatLatLon formats a decimal degree coordinate to NMEA format
func FormatLatLon(value float64, isLat bool) (string, string) {
	// Determine direction
	var direction string
	if isLat {
		if value >= 0 {
			direction = "N"
		} else {
			direction = "S"
			value = -value
		}
	} else {
		if value >= 0 {
			direction = "E"
		} else {
			direction = "W"
			value = -value
		}
	}

	// Convert to NMEA format (DDMM.MMMM or DDDMM.MMMM)
	degrees := math.Floor(value)
	minutes := (value - degrees) * 60.0

	// Format the string
	var result string
	if isLat {
		result = fmt.Sprintf("%02.0f%09.6f", degrees, minutes)
	} else {
		result = fmt.Sprintf("%03.0f%09.6f", degrees, minutes)
	}

	return result, direction
}

// GenerateNMEASentence generates an NMEA sentence with proper checksum
func GenerateNMEASentence(sentenceType string, fields []string) string {
	// Create the sentence without checksum
	parts := []string{"$" + sentenceType}
	parts = append(parts, fields...)
	sentence := strings.Join(parts, ",")

	// Calculate checksum
	checksum := CalculateNMEAChecksum(sentence[1:])

	// Add checksum
	return sentence + "*" + checksum
}
