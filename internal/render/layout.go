package render

import (
	"math"

	"github.com/paulmach/orb"

	"fire-timelapse/internal/aoi"
	"fire-timelapse/internal/basemap"
	"fire-timelapse/internal/config"
)

const (
	// Padding is added around the buffered bound on each side
	Padding = 0.08

	minWidth     = 64
	minAspect    = 0.5 // map height / width
	maxAspect    = 1.5
	timelineFrac = 0.22
	minTimeline  = 100
)

// Layout fixes the pixel geometry shared by every frame of a run
type Layout struct {
	Extent         orb.Bound // Web Mercator, same aspect as the map area
	Width          int
	Height         int
	MapHeight      int
	TimelineHeight int // zero for daily granularity
}

// NewLayout derives the frame geometry from the AOI's buffered bound. All
// dimensions are even so the frames can be encoded as yuv420p.
func NewLayout(area *aoi.AreaOfInterest, width int, g config.Granularity) Layout {
	width = even(max(width, minWidth))

	ext := basemap.BoundToWebMercator(area.BufferedBound())
	w := ext.Max[0] - ext.Min[0]
	h := ext.Max[1] - ext.Min[1]
	if w <= 0 {
		w = 1000
	}
	if h <= 0 {
		h = 1000
	}
	cx, cy := (ext.Min[0]+ext.Max[0])/2, (ext.Min[1]+ext.Max[1])/2
	w *= 1 + 2*Padding
	h *= 1 + 2*Padding

	switch aspect := h / w; {
	case aspect < minAspect:
		h = w * minAspect
	case aspect > maxAspect:
		w = h / maxAspect
	}

	mapH := even(int(math.Round(float64(width) * h / w)))
	// widen the taller side so a pixel is square in metres
	if hw := w * float64(mapH) / float64(width); hw >= h {
		h = hw
	} else {
		w = h * float64(width) / float64(mapH)
	}

	l := Layout{
		Extent: orb.Bound{
			Min: orb.Point{cx - w/2, cy - h/2},
			Max: orb.Point{cx + w/2, cy + h/2},
		},
		Width:     width,
		MapHeight: mapH,
	}
	if g == config.Monthly {
		l.TimelineHeight = even(max(int(math.Round(float64(width)*timelineFrac)), minTimeline))
	}
	l.Height = l.MapHeight + l.TimelineHeight
	return l
}

// ToPixel maps a Web Mercator point into map-area pixel coordinates
func (l Layout) ToPixel(p orb.Point) (float64, float64) {
	x := (p[0] - l.Extent.Min[0]) / (l.Extent.Max[0] - l.Extent.Min[0]) * float64(l.Width)
	y := (l.Extent.Max[1] - p[1]) / (l.Extent.Max[1] - l.Extent.Min[1]) * float64(l.MapHeight)
	return x, y
}

// ToWorld maps a map-area pixel centre back to Web Mercator
func (l Layout) ToWorld(px, py int) (float64, float64) {
	x := l.Extent.Min[0] + (float64(px)+0.5)/float64(l.Width)*(l.Extent.Max[0]-l.Extent.Min[0])
	y := l.Extent.Max[1] - (float64(py)+0.5)/float64(l.MapHeight)*(l.Extent.Max[1]-l.Extent.Min[1])
	return x, y
}

func even(n int) int {
	if n < 2 {
		return 2
	}
	return n &^ 1
}
