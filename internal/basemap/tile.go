package basemap

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

const (
	MaxLevel = 19
	TileSize = 256
	// Web Mercator constants
	Equator    = 40075016.685578 // Earth's equator in meters
	EpsgNumber = 3857
	MaxLat     = 85.05112878
)

// Tile is one XYZ tile; Y counts rows from the top (north)
type Tile struct {
	Z int
	X int
	Y int
}

func (t Tile) String() string { return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y) }

// TileBounds represents the min/max row and column bounds of a tile set
type TileBounds struct {
	Z      int
	MinCol int
	MaxCol int
	MinRow int
	MaxRow int
}

// Cols returns the number of columns in the bounds
func (tb TileBounds) Cols() int {
	return tb.MaxCol - tb.MinCol + 1
}

// Rows returns the number of rows in the bounds
func (tb TileBounds) Rows() int {
	return tb.MaxRow - tb.MinRow + 1
}

// Tiles lists every tile in the bounds, row by row from the top
func (tb TileBounds) Tiles() []Tile {
	tiles := make([]Tile, 0, tb.Cols()*tb.Rows())
	for row := tb.MinRow; row <= tb.MaxRow; row++ {
		for col := tb.MinCol; col <= tb.MaxCol; col++ {
			tiles = append(tiles, Tile{Z: tb.Z, X: col, Y: row})
		}
	}
	return tiles
}

// Origin returns the Web Mercator coordinate of the top-left corner of the bounds
func (tb TileBounds) Origin() orb.Point {
	x, y := TileToWebMercator(tb.MinCol, tb.MinRow, tb.Z)
	return orb.Point{x, y}
}

// ToWebMercator converts a WGS84 lon/lat point to Web Mercator metres,
// clamping latitude to the projection's limit
func ToWebMercator(p orb.Point) orb.Point {
	p[1] = math.Max(-MaxLat, math.Min(MaxLat, p[1]))
	return project.WGS84.ToMercator(p)
}

// ToWgs84 converts Web Mercator metres back to lon/lat
func ToWgs84(p orb.Point) orb.Point {
	return project.Mercator.ToWGS84(p)
}

// BoundToWebMercator projects a lon/lat bound corner by corner
func BoundToWebMercator(b orb.Bound) orb.Bound {
	return orb.Bound{Min: ToWebMercator(b.Min), Max: ToWebMercator(b.Max)}
}

// TileToWebMercator converts tile column/row at a zoom level to Web Mercator coordinates
// Returns the top-left corner of the tile
func TileToWebMercator(col, row, zoom int) (x, y float64) {
	n := float64(int(1) << zoom)
	x = (float64(col)/n - 0.5) * Equator
	y = (0.5 - float64(row)/n) * Equator
	return x, y
}

// TilesInBounds returns the tile range covering a Web Mercator bound at level
func TilesInBounds(b orb.Bound, level int) TileBounds {
	size := 1 << level

	minCol := int(math.Floor((0.5 + b.Min[0]/Equator) * float64(size)))
	maxCol := int(math.Floor((0.5 + b.Max[0]/Equator) * float64(size)))
	maxRow := int(math.Floor((0.5 - b.Min[1]/Equator) * float64(size))) // south = larger row
	minRow := int(math.Floor((0.5 - b.Max[1]/Equator) * float64(size))) // north = smaller row

	// Clamp to valid range
	return TileBounds{
		Z:      level,
		MinCol: clamp(minCol, 0, size-1),
		MaxCol: clamp(maxCol, 0, size-1),
		MinRow: clamp(minRow, 0, size-1),
		MaxRow: clamp(maxRow, 0, size-1),
	}
}

// ResolutionAtZoom returns meters per pixel at given zoom level
func ResolutionAtZoom(zoom int) float64 {
	// At zoom 0, the entire world (Equator meters) fits in 256 pixels
	return Equator / float64(int(TileSize)<<zoom)
}

// ZoomForExtent picks the lowest zoom whose resolution is at least as fine
// as widthMeters spread over pixels, capped at maxZoom
func ZoomForExtent(widthMeters float64, pixels, maxZoom int) int {
	if pixels <= 0 || widthMeters <= 0 {
		return 0
	}
	target := widthMeters / float64(pixels)
	for z := 0; z < maxZoom; z++ {
		if ResolutionAtZoom(z) <= target {
			return z
		}
	}
	return maxZoom
}

func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
