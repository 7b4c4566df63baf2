package firms

import (
	"time"

	"github.com/paulmach/orb"

	"fire-timelapse/internal/common"
)

// DayNight flags whether a detection was acquired on a day or night pass
type DayNight string

const (
	Day   DayNight = "D"
	Night DayNight = "N"
)

// Detection is one MODIS active-fire pixel, validated at parse time
type Detection struct {
	Latitude   float64
	Longitude  float64
	AcqDate    time.Time // calendar day, UTC
	AcqTime    string    // HHMM, UTC
	Brightness float64   // Kelvin, channel 21/22
	Confidence int       // 0..100
	FRP        float64   // fire radiative power, MW, non-negative
	DayNight   DayNight
	Satellite  string // Terra or Aqua
}

// Point returns the detection location as lon/lat
func (d Detection) Point() orb.Point {
	return orb.Point{d.Longitude, d.Latitude}
}

// DetectionKey identifies a detection for dedupe and set containment
type DetectionKey struct {
	Latitude   float64
	Longitude  float64
	AcqDate    string
	AcqTime    string
	Brightness float64
	Confidence int
	FRP        float64
	DayNight   DayNight
	Satellite  string
}

// Key returns the identity of d; two rows with the same key are duplicates
func (d Detection) Key() DetectionKey {
	return DetectionKey{
		Latitude:   d.Latitude,
		Longitude:  d.Longitude,
		AcqDate:    common.FormatISO8601(d.AcqDate),
		AcqTime:    d.AcqTime,
		Brightness: d.Brightness,
		Confidence: d.Confidence,
		FRP:        d.FRP,
		DayNight:   d.DayNight,
		Satellite:  d.Satellite,
	}
}
