package basemap

import (
	"strconv"
	"strings"

	"fire-timelapse/internal/config"
)

// Provider is an XYZ tile service
type Provider struct {
	Name        string
	URLTemplate string // with {z}, {x} and {y} placeholders
	Attribution string
	MaxZoom     int
}

var providers = map[config.Basemap]Provider{
	config.BasemapSatellite: {
		Name:        "Esri World Imagery",
		URLTemplate: "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}",
		Attribution: "Tiles (C) Esri, Maxar, Earthstar Geographics",
		MaxZoom:     18,
	},
	config.BasemapOSM: {
		Name:        "OpenStreetMap",
		URLTemplate: "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
		Attribution: "(C) OpenStreetMap contributors",
		MaxZoom:     19,
	},
	config.BasemapTerrain: {
		Name:        "OpenTopoMap",
		URLTemplate: "https://a.tile.opentopomap.org/{z}/{x}/{y}.png",
		Attribution: "(C) OpenStreetMap contributors, SRTM | (C) OpenTopoMap (CC-BY-SA)",
		MaxZoom:     17,
	},
}

// ProviderFor returns the tile provider of a basemap style; false for none
func ProviderFor(b config.Basemap) (Provider, bool) {
	p, ok := providers[b]
	return p, ok
}

// TileURL fills the template for one tile
func (p Provider) TileURL(t Tile) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(t.Z),
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
	).Replace(p.URLTemplate)
}
