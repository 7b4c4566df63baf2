package render

import (
	"errors"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// BandwidthAdjust scales Scott's rule; small values keep hotspots tight
	BandwidthAdjust = 0.15
	// DensityLevels is the number of iso-proportion contour levels
	DensityLevels = 10
	// DensityThresh is the lowest proportion of mass left unfilled
	DensityThresh = 0.05
	// MinKDEPoints is the fewest detections a density surface is drawn for
	MinKDEPoints = 3
)

// ErrDegenerate reports points with no spread along an axis
var ErrDegenerate = errors.New("degenerate point set")

// Density is a kernel density surface sampled on a regular grid over an
// extent. Values are normalised so the maximum is 1.
type Density struct {
	Extent orb.Bound
	NX, NY int
	Values []float64 // row-major, row 0 at the top (north)
	Levels []float64 // ascending
}

// EstimateDensity computes a weighted Gaussian KDE of pts on an nx x ny
// grid. weights may be nil for unit weights. The bandwidth follows Scott's
// rule on the effective sample size, scaled by BandwidthAdjust, with a
// diagonal covariance.
func EstimateDensity(pts []orb.Point, weights []float64, extent orb.Bound, nx, ny int) (*Density, error) {
	if len(pts) < MinKDEPoints {
		return nil, ErrDegenerate
	}
	if weights == nil {
		weights = make([]float64, len(pts))
		for i := range weights {
			weights[i] = 1
		}
	}

	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, p := range pts {
		xs[i], ys[i] = p[0], p[1]
	}

	sumW := floats.Sum(weights)
	if sumW <= 0 {
		return nil, ErrDegenerate
	}
	sumW2 := floats.Dot(weights, weights)
	neff := sumW * sumW / sumW2
	factor := math.Pow(neff, -1.0/6.0) * BandwidthAdjust // d = 2

	sx := weightedStdDev(xs, weights) * factor
	sy := weightedStdDev(ys, weights) * factor
	if !(sx > 0) || !(sy > 0) {
		return nil, ErrDegenerate
	}

	d := &Density{Extent: extent, NX: nx, NY: ny, Values: make([]float64, nx*ny)}
	dx := (extent.Max[0] - extent.Min[0]) / float64(nx)
	dy := (extent.Max[1] - extent.Min[1]) / float64(ny)

	// The diagonal kernel is separable: accumulate the outer product of the
	// x and y profiles within four sigma of each point.
	kx := make([]float64, nx)
	ky := make([]float64, ny)
	for i := range pts {
		w := weights[i]
		if w <= 0 {
			continue
		}
		i0, i1 := gridSpan(xs[i]-4*sx, xs[i]+4*sx, extent.Min[0], dx, nx)
		j0, j1 := gridSpan(extent.Max[1]-(ys[i]+4*sy), extent.Max[1]-(ys[i]-4*sy), 0, dy, ny)
		if i0 > i1 || j0 > j1 {
			continue
		}
		for c := i0; c <= i1; c++ {
			u := (extent.Min[0] + (float64(c)+0.5)*dx - xs[i]) / sx
			kx[c] = math.Exp(-0.5 * u * u)
		}
		for r := j0; r <= j1; r++ {
			v := (extent.Max[1] - (float64(r)+0.5)*dy - ys[i]) / sy
			ky[r] = w * math.Exp(-0.5*v*v)
		}
		for r := j0; r <= j1; r++ {
			row := d.Values[r*nx : (r+1)*nx]
			for c := i0; c <= i1; c++ {
				row[c] += kx[c] * ky[r]
			}
		}
	}

	maxV := floats.Max(d.Values)
	if !(maxV > 0) || math.IsInf(maxV, 0) {
		return nil, ErrDegenerate
	}
	// Peak cell must come out at exactly 1
	for i := range d.Values {
		d.Values[i] /= maxV
	}
	d.Levels = IsoProportionLevels(d.Values, DensityLevels, DensityThresh)
	return d, nil
}

// weightedStdDev matches the unbiased reliability-weighted estimator
func weightedStdDev(x, w []float64) float64 {
	_, variance := stat.PopMeanVariance(x, w)
	v1 := floats.Sum(w)
	v2 := floats.Dot(w, w)
	if v1*v1-v2 <= 0 {
		return 0
	}
	return math.Sqrt(variance * v1 * v1 / (v1*v1 - v2))
}

// gridSpan converts [lo, hi] in world units to clamped cell indices
func gridSpan(lo, hi, origin, step float64, n int) (int, int) {
	a := int(math.Floor((lo - origin) / step))
	b := int(math.Ceil((hi - origin) / step))
	return max(a, 0), min(b, n-1)
}

// IsoProportionLevels returns n ascending levels such that the region above
// level k holds the proportion thresh + k*(1-thresh)/(n-1) of the total
// mass, counted from the top. The last level is the maximum.
func IsoProportionLevels(values []float64, n int, thresh float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	total := floats.Sum(sorted)
	cum := make([]float64, len(sorted))
	floats.CumSum(cum, sorted)
	floats.Scale(1/total, cum)

	levels := make([]float64, n)
	for k := 0; k < n; k++ {
		isoprop := thresh
		if n > 1 {
			isoprop = thresh + float64(k)*(1-thresh)/float64(n-1)
		}
		idx := sort.SearchFloat64s(cum, 1-isoprop)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		levels[k] = sorted[idx]
	}
	sort.Float64s(levels)
	return levels
}

// Band returns the filled band index of v: -1 below the lowest level, else
// 0..len(Levels)-2, the last band including everything above it
func (d *Density) Band(v float64) int {
	if len(d.Levels) < 2 || v < d.Levels[0] {
		return -1
	}
	for k := len(d.Levels) - 2; k >= 0; k-- {
		if v >= d.Levels[k] {
			return k
		}
	}
	return -1
}

// At samples the surface at a world coordinate with bilinear interpolation
func (d *Density) At(x, y float64) float64 {
	fx := (x-d.Extent.Min[0])/(d.Extent.Max[0]-d.Extent.Min[0])*float64(d.NX) - 0.5
	fy := (d.Extent.Max[1]-y)/(d.Extent.Max[1]-d.Extent.Min[1])*float64(d.NY) - 0.5
	fx = math.Max(0, math.Min(float64(d.NX-1), fx))
	fy = math.Max(0, math.Min(float64(d.NY-1), fy))

	c0, r0 := int(fx), int(fy)
	c1, r1 := min(c0+1, d.NX-1), min(r0+1, d.NY-1)
	tx, ty := fx-float64(c0), fy-float64(r0)

	v00 := d.Values[r0*d.NX+c0]
	v01 := d.Values[r0*d.NX+c1]
	v10 := d.Values[r1*d.NX+c0]
	v11 := d.Values[r1*d.NX+c1]
	top := v00 + (v01-v00)*tx
	bottom := v10 + (v11-v10)*tx
	return top + (bottom-top)*ty
}
