package render

import (
	"fmt"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// faces holds the font faces a renderer draws with
type faces struct {
	stats  font.Face // monospace, stats box
	title  font.Face
	small  font.Face // ticks and attribution
	labels font.Face
}

func loadFace(ttf []byte, size float64) (font.Face, error) {
	f, err := opentype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create font face: %w", err)
	}
	return face, nil
}

// loadFaces sizes every face relative to the frame width
func loadFaces(scale float64) (*faces, error) {
	var fs faces
	var err error
	if fs.stats, err = loadFace(gomono.TTF, 15*scale); err != nil {
		return nil, err
	}
	if fs.title, err = loadFace(goregular.TTF, 18*scale); err != nil {
		return nil, err
	}
	if fs.small, err = loadFace(goregular.TTF, 9*scale); err != nil {
		return nil, err
	}
	if fs.labels, err = loadFace(goregular.TTF, 11*scale); err != nil {
		return nil, err
	}
	return &fs, nil
}

func (fs *faces) Close() error {
	for _, f := range []font.Face{fs.stats, fs.title, fs.small, fs.labels} {
		if f != nil {
			f.Close()
		}
	}
	return nil
}
