package naming

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

// GenerateBBoxString creates a human-readable bbox string for filenames
func GenerateBBoxString(b orb.Bound) string {
	return fmt.Sprintf("%s-%s_%s-%s",
		SanitizeCoordinate(b.Min[1], true),
		SanitizeCoordinate(b.Max[1], true),
		SanitizeCoordinate(b.Min[0], false),
		SanitizeCoordinate(b.Max[0], false))
}

// SanitizeCoordinate formats a coordinate for use in filenames (removes minus sign, uses N/S/E/W)
// Replaces decimal point with 'p' for Windows compatibility
func SanitizeCoordinate(coord float64, isLat bool) string {
	dir := "E"
	if isLat {
		if coord < 0 {
			dir = "S"
		} else {
			dir = "N"
		}
	} else {
		if coord < 0 {
			dir = "W"
		} else {
			dir = "E"
		}
	}
	// Format and replace decimal point with 'p'
	coordStr := fmt.Sprintf("%.4f", math.Abs(coord))
	coordStr = strings.Replace(coordStr, ".", "p", 1)
	return coordStr + dir
}
