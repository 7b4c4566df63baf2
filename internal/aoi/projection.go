package aoi

import (
	"math"

	"github.com/paulmach/orb"
)

// EarthRadius is the spherical radius used for metric projections, in metres.
// It matches orb/geo so projected and great-circle distances agree.
const EarthRadius = orb.EarthRadius

// Equidistant is a spherical azimuthal equidistant projection. Distances and
// azimuths from Center are true, so a buffer drawn in projected metres has the
// same ground width at any latitude.
type Equidistant struct {
	Center orb.Point // lon, lat in degrees
	sinLat float64
	cosLat float64
}

// NewEquidistant creates a projection centred on c
func NewEquidistant(c orb.Point) *Equidistant {
	lat := c.Lat() * math.Pi / 180
	return &Equidistant{Center: c, sinLat: math.Sin(lat), cosLat: math.Cos(lat)}
}

// Forward maps lon/lat degrees to projected metres
func (e *Equidistant) Forward(p orb.Point) orb.Point {
	lat := p.Lat() * math.Pi / 180
	dLon := (p.Lon() - e.Center.Lon()) * math.Pi / 180

	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	cosC := e.sinLat*sinLat + e.cosLat*cosLat*math.Cos(dLon)
	cosC = math.Max(-1, math.Min(1, cosC))
	c := math.Acos(cosC)

	k := 1.0
	if c > 1e-12 {
		k = c / math.Sin(c)
	}
	x := EarthRadius * k * cosLat * math.Sin(dLon)
	y := EarthRadius * k * (e.cosLat*sinLat - e.sinLat*cosLat*math.Cos(dLon))
	return orb.Point{x, y}
}

// Inverse maps projected metres back to lon/lat degrees
func (e *Equidistant) Inverse(p orb.Point) orb.Point {
	x, y := p[0], p[1]
	rho := math.Hypot(x, y)
	if rho < 1e-9 {
		return e.Center
	}
	c := rho / EarthRadius
	sinC, cosC := math.Sin(c), math.Cos(c)

	lat := math.Asin(math.Max(-1, math.Min(1, cosC*e.sinLat+y*sinC*e.cosLat/rho)))
	lon := e.Center.Lon()*math.Pi/180 + math.Atan2(x*sinC, rho*e.cosLat*cosC-y*e.sinLat*sinC)

	return orb.Point{normalizeLon(lon * 180 / math.Pi), lat * 180 / math.Pi}
}

// ForwardProjection adapts Forward to orb's projection signature
func (e *Equidistant) ForwardProjection() orb.Projection {
	return e.Forward
}

func normalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
