package render

import (
	"image/color"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
)

// Stop is one anchor of a colormap: a colour at position Pos in [0, 1]
type Stop struct {
	Pos   float64
	Color colorful.Color
}

// Colormap interpolates linearly in RGB between sorted stops
type Colormap []Stop

// FireColormap is the dark-blue to white-hot gradient used for density bands
func FireColormap() Colormap {
	return mustColormap(map[float64]string{
		0.0: "#182B4C",
		0.2: "#0E2585",
		0.3: "#0B239B",
		0.4: "#201BA4",
		0.5: "#2F1B89",
		0.6: "#551771",
		0.7: "#9E0E3F",
		0.8: "#D71510",
		0.9: "#FFCE63",
		1.0: "#FFF7E1",
	})
}

func mustColormap(stops map[float64]string) Colormap {
	cm := make(Colormap, 0, len(stops))
	for pos, hex := range stops {
		c, err := colorful.Hex(hex)
		if err != nil {
			panic(err)
		}
		cm = append(cm, Stop{Pos: pos, Color: c})
	}
	sort.Slice(cm, func(i, j int) bool { return cm[i].Pos < cm[j].Pos })
	return cm
}

// At returns the colour at t, clamped to [0, 1]
func (cm Colormap) At(t float64) colorful.Color {
	if len(cm) == 0 {
		return colorful.Color{}
	}
	if t <= cm[0].Pos {
		return cm[0].Color
	}
	for i := 1; i < len(cm); i++ {
		if t <= cm[i].Pos {
			lo, hi := cm[i-1], cm[i]
			return lo.Color.BlendRgb(hi.Color, (t-lo.Pos)/(hi.Pos-lo.Pos))
		}
	}
	return cm[len(cm)-1].Color
}

// RGBA returns the colour at t with the given opacity, premultiplied
func (cm Colormap) RGBA(t, alpha float64) color.RGBA {
	r, g, b := cm.At(t).Clamped().RGB255()
	a := alpha * 255
	return color.RGBA{
		R: uint8(float64(r) * alpha),
		G: uint8(float64(g) * alpha),
		B: uint8(float64(b) * alpha),
		A: uint8(a),
	}
}

// hexColor parses a #rrggbb constant into an opaque colour
func hexColor(hex string) color.RGBA {
	c, err := colorful.Hex(hex)
	if err != nil {
		panic(err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// withAlpha returns c at opacity alpha, premultiplied
func withAlpha(c color.RGBA, alpha float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c.R) * alpha),
		G: uint8(float64(c.G) * alpha),
		B: uint8(float64(c.B) * alpha),
		A: uint8(alpha * 255),
	}
}
