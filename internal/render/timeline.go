package render

import (
	"math"

	"github.com/fogleman/gg"

	"fire-timelapse/internal/common"
	"fire-timelapse/internal/config"
)

var (
	barCurrent = hexColor("#e74c3c")
	barOther   = hexColor("#95a5a6")
	barEdge    = hexColor("#34495e")
	gridColor  = hexColor("#666666")
)

// TickStep returns how many months apart timeline labels are drawn
func TickStep(months int) int {
	switch {
	case months <= 12:
		return 1
	case months <= 24:
		return 2
	case months <= 36:
		return 3
	default:
		return 6
	}
}

// drawTimeline draws the per-period bar chart under the map with period
// current highlighted
func (r *Renderer) drawTimeline(dc *gg.Context, current int) {
	top := float64(r.layout.MapHeight)
	width := float64(r.layout.Width)
	height := float64(r.layout.TimelineHeight)

	dc.SetColor(background)
	dc.DrawRectangle(0, top, width, height)
	dc.Fill()

	left := 0.08 * width
	right := width - 0.03*width
	plotTop := top + 0.12*height
	plotBottom := top + height - 0.36*height
	plotH := plotBottom - plotTop
	n := len(r.periods)
	if n == 0 || plotH <= 0 {
		return
	}

	maxV := 0.0
	for _, p := range r.periods {
		maxV = math.Max(maxV, p.Value(r.opts.Metric))
	}
	if maxV <= 0 {
		maxV = 1
	}

	// horizontal grid with value labels
	dc.SetFontFace(r.faces.small)
	dc.SetLineWidth(0.5 * r.pt)
	for k := 0; k <= 4; k++ {
		v := maxV * float64(k) / 4
		y := plotBottom - plotH*float64(k)/4
		dc.SetColor(withAlpha(gridColor, 0.6))
		dc.DrawLine(left, y, right, y)
		dc.Stroke()
		dc.SetColor(textColor)
		dc.DrawStringAnchored(FormatThousands(int64(math.Round(v))), left-4*r.pt, y, 1, 0.5)
	}

	slot := (right - left) / float64(n)
	barW := slot * 0.8

	// highlight span behind the current period
	dc.SetColor(withAlpha(barCurrent, 0.15))
	dc.DrawRectangle(left+slot*float64(current), plotTop, slot, plotH)
	dc.Fill()

	for i, p := range r.periods {
		v := p.Value(r.opts.Metric)
		h := plotH * v / maxV
		x := left + slot*float64(i) + (slot-barW)/2
		dc.DrawRectangle(x, plotBottom-h, barW, h)
		if i == current {
			dc.SetColor(barCurrent)
		} else {
			dc.SetColor(barOther)
		}
		dc.FillPreserve()
		dc.SetColor(barEdge)
		dc.SetLineWidth(0.5 * r.pt)
		dc.Stroke()
	}

	// axis label
	label := "Detections"
	if r.opts.Metric == config.MetricFRP {
		label = "FRP (MW)"
	}
	dc.SetColor(textColor)
	dc.Push()
	dc.RotateAbout(gg.Radians(-90), 0.015*width, (plotTop+plotBottom)/2)
	dc.DrawStringAnchored(label, 0.015*width, (plotTop+plotBottom)/2, 0.5, 1)
	dc.Pop()

	// month ticks, rotated 45 degrees
	step := TickStep(n)
	dc.SetFontFace(r.faces.small)
	for i := 0; i < n; i += step {
		cx := left + slot*(float64(i)+0.5)
		ty := plotBottom + 4*r.pt
		dc.Push()
		dc.RotateAbout(gg.Radians(-45), cx, ty)
		dc.DrawStringAnchored(common.FormatTimelineTick(r.periods[i].Start), cx, ty, 1, 1)
		dc.Pop()
	}
}
