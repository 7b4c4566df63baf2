package aoi

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
)

// circleSteps is the number of samples used around each vertex when
// tracing the outer edge of the buffer
const circleSteps = 72

// Buffered is an AOI grown by a fixed ground distance. Membership and extent
// are evaluated in an equidistant projection centred on the AOI, so the
// buffer is metrically correct regardless of latitude.
type Buffered struct {
	geometry  orb.MultiPolygon // WGS84
	projected orb.MultiPolygon // metres, equidistant
	proj      *Equidistant
	distance  float64 // metres
	bound     orb.Bound
}

// NewBuffered grows geometry by distance metres around its centroid
func NewBuffered(geometry orb.MultiPolygon, distance float64) *Buffered {
	center, _ := planar.CentroidArea(geometry)
	proj := NewEquidistant(center)

	b := &Buffered{
		geometry:  geometry,
		projected: project.MultiPolygon(geometry.Clone(), proj.Forward),
		proj:      proj,
		distance:  math.Max(0, distance),
	}
	b.bound = b.traceBound()
	return b
}

// Distance returns the buffer width in metres
func (b *Buffered) Distance() float64 { return b.distance }

// Projection returns the equidistant projection the buffer was computed in
func (b *Buffered) Projection() *Equidistant { return b.proj }

// Contains reports whether p (lon/lat) lies inside the AOI or within the
// buffer distance of its boundary
func (b *Buffered) Contains(p orb.Point) bool {
	q := b.proj.Forward(p)
	if planar.MultiPolygonContains(b.projected, q) {
		return true
	}
	return b.boundaryDistance(q) <= b.distance
}

// Bound returns the WGS84 envelope of the buffered region
func (b *Buffered) Bound() orb.Bound { return b.bound }

// boundaryDistance is the planar distance from q to the nearest ring edge
func (b *Buffered) boundaryDistance(q orb.Point) float64 {
	best := math.Inf(1)
	for _, poly := range b.projected {
		for _, ring := range poly {
			for i := 0; i+1 < len(ring); i++ {
				if d := planar.DistanceFromSegment(ring[i], ring[i+1], q); d < best {
					best = d
				}
			}
		}
	}
	return best
}

// traceBound samples the outer edge of the buffer in projected space
// (a circle at every vertex plus each edge shifted outward along its
// normal) and takes the envelope of the inverse-projected samples.
func (b *Buffered) traceBound() orb.Bound {
	bound := b.geometry.Bound()
	if b.distance == 0 {
		return bound
	}

	extend := func(q orb.Point) {
		bound = bound.Extend(b.proj.Inverse(q))
	}

	for _, poly := range b.projected {
		for _, ring := range poly {
			for i, v := range ring {
				for s := 0; s < circleSteps; s++ {
					a := 2 * math.Pi * float64(s) / circleSteps
					extend(orb.Point{v[0] + b.distance*math.Cos(a), v[1] + b.distance*math.Sin(a)})
				}
				if i+1 >= len(ring) {
					continue
				}
				w := ring[i+1]
				dx, dy := w[0]-v[0], w[1]-v[1]
				length := math.Hypot(dx, dy)
				if length == 0 {
					continue
				}
				nx, ny := -dy/length*b.distance, dx/length*b.distance
				steps := min(int(math.Ceil(length/(b.distance/4)))+1, 256)
				for s := 0; s <= steps; s++ {
					t := float64(s) / float64(steps)
					px, py := v[0]+dx*t, v[1]+dy*t
					extend(orb.Point{px + nx, py + ny})
					extend(orb.Point{px - nx, py - ny})
				}
			}
		}
	}

	bound.Min[0] = math.Max(bound.Min[0], -180)
	bound.Max[0] = math.Min(bound.Max[0], 180)
	bound.Min[1] = math.Max(bound.Min[1], -90)
	bound.Max[1] = math.Min(bound.Max[1], 90)
	return bound
}
