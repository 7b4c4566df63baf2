package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fogleman/gg"
	"github.com/paulmach/orb"
	"github.com/samber/lo"

	"fire-timelapse/internal/aoi"
	"fire-timelapse/internal/basemap"
	"fire-timelapse/internal/common"
	"fire-timelapse/internal/config"
	"fire-timelapse/internal/dataset"
	"fire-timelapse/internal/firms"
)

const (
	densityAlpha = 0.4
	pointAlpha   = 0.6
	gridCells    = 200 // KDE grid columns
)

var (
	background   = hexColor("#2b2b2b")
	outlineColor = hexColor("#e0e0e0")
	pointColor   = hexColor("#ff0000")
	statsFill    = hexColor("#3d3d3d")
	statsEdge    = hexColor("#e74c3c")
	textColor    = color.RGBA{255, 255, 255, 255}
)

// Frame is one rendered period image
type Frame struct {
	Period   dataset.Period
	Path     string
	Fallback bool  // composition failed and a labelled blank frame was written
	Err      error // the *common.RenderError behind a fallback frame
}

// Options configures a Renderer
type Options struct {
	Granularity config.Granularity
	Metric      config.Metric // count or frp
	FramesDir   string
	Basemap     image.Image // map-area sized, nil for none
	Attribution string
}

// Renderer draws one PNG per period. Fonts, outline and basemap are set up
// once per run.
type Renderer struct {
	area    *aoi.AreaOfInterest
	layout  Layout
	opts    Options
	periods []dataset.Period
	faces   *faces
	cmap    Colormap
	pt      float64       // one typographic point in pixels
	rings   [][]orb.Point // AOI rings in pixel space

	compose func(dc *gg.Context, i int) error
}

// NewRenderer prepares a renderer for periods
func NewRenderer(area *aoi.AreaOfInterest, layout Layout, periods []dataset.Period, opts Options) (*Renderer, error) {
	if opts.Metric == config.MetricBoth || opts.Metric == "" {
		return nil, fmt.Errorf("renderer needs a single metric, got %q", opts.Metric)
	}
	pt := float64(layout.Width) / 960 * 100 / 72
	fs, err := loadFaces(pt)
	if err != nil {
		return nil, err
	}

	r := &Renderer{
		area:    area,
		layout:  layout,
		opts:    opts,
		periods: periods,
		faces:   fs,
		cmap:    FireColormap(),
		pt:      pt,
	}
	for _, poly := range area.Geometry {
		for _, ring := range poly {
			px := make([]orb.Point, len(ring))
			for i, p := range ring {
				x, y := layout.ToPixel(basemap.ToWebMercator(p))
				px[i] = orb.Point{x, y}
			}
			r.rings = append(r.rings, px)
		}
	}
	r.compose = r.composeFrame
	return r, nil
}

// Close releases the font faces
func (r *Renderer) Close() error {
	return r.faces.Close()
}

// FramePath returns frame_YYYY-MM.png or frame_YYYYMMDD.png in the frames dir
func (r *Renderer) FramePath(p dataset.Period) string {
	name := "frame_" + p.Start.Format(common.MonthLabel) + ".png"
	if r.opts.Granularity == config.Daily {
		name = "frame_" + p.Start.Format(common.CompactDate) + ".png"
	}
	return filepath.Join(r.opts.FramesDir, name)
}

// RenderAll renders every period in order
func (r *Renderer) RenderAll(ctx context.Context, onProgress func(done, total int)) ([]Frame, error) {
	if err := os.MkdirAll(r.opts.FramesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frames directory: %w", err)
	}

	frames := make([]Frame, 0, len(r.periods))
	for i := range r.periods {
		if err := ctx.Err(); err != nil {
			return frames, err
		}
		f, err := r.RenderPeriod(i)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
		if onProgress != nil {
			onProgress(i+1, len(r.periods))
		}
	}
	return frames, nil
}

// RenderPeriod draws period i. A composition failure is recovered into a
// fallback frame; only failing to write the file is returned as an error.
func (r *Renderer) RenderPeriod(i int) (Frame, error) {
	p := r.periods[i]
	frame := Frame{Period: p, Path: r.FramePath(p)}

	dc := gg.NewContext(r.layout.Width, r.layout.Height)
	if err := r.safeCompose(dc, i); err != nil {
		rerr := &common.RenderError{Period: p.Label, Err: err}
		log.Printf("[Render] %v; writing fallback frame", rerr)
		dc = gg.NewContext(r.layout.Width, r.layout.Height)
		r.drawFallback(dc, p)
		frame.Fallback = true
		frame.Err = rerr
	}

	if err := dc.SavePNG(frame.Path); err != nil {
		return Frame{}, fmt.Errorf("failed to write frame %s: %w", frame.Path, err)
	}
	return frame, nil
}

func (r *Renderer) safeCompose(dc *gg.Context, i int) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while drawing: %v", rec)
		}
	}()
	return r.compose(dc, i)
}

func (r *Renderer) composeFrame(dc *gg.Context, i int) error {
	p := r.periods[i]

	dc.SetColor(background)
	dc.Clear()
	if r.opts.Basemap != nil {
		dc.DrawImage(r.opts.Basemap, 0, 0)
	}

	pts := lo.Map(p.Context, func(d firms.Detection, _ int) orb.Point {
		return basemap.ToWebMercator(d.Point())
	})
	var weights []float64
	if r.opts.Metric == config.MetricFRP {
		weights = lo.Map(p.Context, func(d firms.Detection, _ int) float64 { return d.FRP })
	}

	sparse := true
	if len(pts) >= MinKDEPoints {
		ny := max(2, gridCells*r.layout.MapHeight/r.layout.Width)
		density, err := EstimateDensity(pts, weights, r.layout.Extent, gridCells, ny)
		switch {
		case errors.Is(err, ErrDegenerate):
			log.Printf("[Render] %s: no spread in %d point(s), drawing scatter only", p.Label, len(pts))
		case err != nil:
			return err
		default:
			if err := r.drawDensity(dc, density); err != nil {
				return err
			}
			sparse = false
		}
	}

	r.drawPoints(dc, p.Context, pts, sparse)
	r.drawOutline(dc)
	r.drawStats(dc, p)
	if r.opts.Granularity == config.Daily {
		r.drawTitle(dc, p.Start.Format("2 January 2006"))
	}
	r.drawAttribution(dc)
	if r.layout.TimelineHeight > 0 {
		r.drawTimeline(dc, i)
	}
	return nil
}

func (r *Renderer) drawDensity(dc *gg.Context, d *Density) error {
	bands := len(d.Levels) - 1
	if bands < 1 {
		return nil
	}
	palette := make([]color.RGBA, bands)
	for k := range palette {
		t := 0.0
		if bands > 1 {
			t = float64(k) / float64(bands-1)
		}
		palette[k] = r.cmap.RGBA(t, densityAlpha)
	}

	overlay := image.NewRGBA(image.Rect(0, 0, r.layout.Width, r.layout.MapHeight))
	for py := 0; py < r.layout.MapHeight; py++ {
		for px := 0; px < r.layout.Width; px++ {
			x, y := r.layout.ToWorld(px, py)
			v := d.At(x, y)
			if math.IsNaN(v) {
				return fmt.Errorf("density is not finite at pixel %d,%d", px, py)
			}
			if band := d.Band(v); band >= 0 {
				overlay.SetRGBA(px, py, palette[band])
			}
		}
	}
	dc.DrawImage(overlay, 0, 0)
	return nil
}

// pointSize returns the marker area in square points, matplotlib style
func (r *Renderer) pointSize(d firms.Detection, maxFRP float64, sparse bool) float64 {
	base, floor, span := 15.0, 5.0, 45.0
	if sparse {
		base, floor, span = 50, 20, 130
	}
	if r.opts.Metric != config.MetricFRP {
		return base
	}
	if maxFRP <= 0 {
		return floor
	}
	return floor + d.FRP/maxFRP*span
}

func (r *Renderer) drawPoints(dc *gg.Context, dets []firms.Detection, pts []orb.Point, sparse bool) {
	maxFRP := 0.0
	for _, d := range dets {
		maxFRP = math.Max(maxFRP, d.FRP)
	}
	dc.SetColor(withAlpha(pointColor, pointAlpha))
	for i, d := range dets {
		x, y := r.layout.ToPixel(pts[i])
		radius := math.Sqrt(r.pointSize(d, maxFRP, sparse)) / 2 * r.pt
		dc.DrawCircle(x, y, radius)
		dc.Fill()
	}
}

func (r *Renderer) drawOutline(dc *gg.Context) {
	dc.SetColor(outlineColor)
	dc.SetLineWidth(2.5 * r.pt)
	dc.SetLineJoin(gg.LineJoinRound)
	for _, ring := range r.rings {
		dc.NewSubPath()
		for i, p := range ring {
			if i == 0 {
				dc.MoveTo(p[0], p[1])
				continue
			}
			dc.LineTo(p[0], p[1])
		}
		dc.ClosePath()
	}
	dc.Stroke()
}

// StatsText is the text of the statistics box for a period
func StatsText(p dataset.Period, g config.Granularity, m config.Metric) string {
	var value string
	if m == config.MetricFRP {
		value = FormatThousands(int64(math.Round(p.TotalFRP))) + " MW"
		if g == config.Monthly {
			value += " Fire Radiative Power"
		}
	} else {
		value = FormatThousands(int64(p.Count)) + " Detections"
	}
	if g == config.Monthly {
		return common.FormatMonthTitle(p.Start) + "\n" + value
	}
	return value
}

func (r *Renderer) drawStats(dc *gg.Context, p dataset.Period) {
	lines := strings.Split(StatsText(p, r.opts.Granularity, r.opts.Metric), "\n")
	dc.SetFontFace(r.faces.stats)

	lineH := dc.FontHeight() * 1.4
	textW := 0.0
	for _, l := range lines {
		w, _ := dc.MeasureString(l)
		textW = math.Max(textW, w)
	}
	pad := 8 * r.pt
	x := 0.05 * float64(r.layout.Width)
	y := 0.05 * float64(r.layout.MapHeight)
	w := textW + 2*pad
	h := lineH*float64(len(lines)) + 2*pad - (lineH - dc.FontHeight())

	dc.DrawRoundedRectangle(x, y, w, h, 5*r.pt)
	dc.SetColor(withAlpha(statsFill, 0.9))
	dc.FillPreserve()
	dc.SetColor(statsEdge)
	dc.SetLineWidth(2.5 * r.pt)
	dc.Stroke()

	dc.SetColor(textColor)
	for i, l := range lines {
		dc.DrawStringAnchored(l, x+pad, y+pad+float64(i)*lineH, 0, 1)
	}
}

func (r *Renderer) drawTitle(dc *gg.Context, title string) {
	dc.SetFontFace(r.faces.title)
	dc.SetColor(textColor)
	dc.DrawStringAnchored(title, float64(r.layout.Width)/2, 0.03*float64(r.layout.MapHeight), 0.5, 1)
}

func (r *Renderer) drawAttribution(dc *gg.Context) {
	if r.opts.Attribution == "" {
		return
	}
	dc.SetFontFace(r.faces.small)
	dc.SetColor(color.RGBA{200, 200, 200, 200})
	margin := 4 * r.pt
	dc.DrawStringAnchored(r.opts.Attribution,
		float64(r.layout.Width)-margin, float64(r.layout.MapHeight)-margin, 1, 0)
}

// drawFallback writes a labelled blank frame for a period that failed
func (r *Renderer) drawFallback(dc *gg.Context, p dataset.Period) {
	dc.SetColor(background)
	dc.Clear()

	func() {
		defer func() { _ = recover() }()
		r.drawOutline(dc)
	}()

	label := common.FormatMonthTitle(p.Start)
	if r.opts.Granularity == config.Daily {
		label = common.FormatISO8601(p.Start)
	}
	stat := strings.Split(StatsText(p, r.opts.Granularity, r.opts.Metric), "\n")
	cx, cy := float64(r.layout.Width)/2, float64(r.layout.Height)/2

	dc.SetColor(textColor)
	dc.SetFontFace(r.faces.title)
	dc.DrawStringAnchored(label, cx, cy-dc.FontHeight(), 0.5, 0.5)
	dc.SetFontFace(r.faces.stats)
	dc.DrawStringAnchored(stat[len(stat)-1], cx, cy+dc.FontHeight(), 0.5, 0.5)
	dc.SetFontFace(r.faces.small)
	dc.DrawStringAnchored("frame could not be rendered", cx, cy+3*dc.FontHeight(), 0.5, 0.5)
}

// FormatThousands renders n with comma separators
func FormatThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
