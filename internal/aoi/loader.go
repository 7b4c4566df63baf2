package aoi

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"

	"fire-timelapse/internal/common"
)

// DefaultBufferKm is the default ground distance the search area is grown by
const DefaultBufferKm = 25.0

// AreaOfInterest is the boundary a run is evaluated against. Immutable after Load.
type AreaOfInterest struct {
	Name     string
	Geometry orb.MultiPolygon // WGS84 lon/lat
	Buffer   *Buffered
}

// Bound returns the WGS84 envelope of the exact AOI
func (a *AreaOfInterest) Bound() orb.Bound {
	return a.Geometry.Bound()
}

// BufferedBound returns the WGS84 envelope of the buffered search area; this
// is the bounding box sent to FIRMS
func (a *AreaOfInterest) BufferedBound() orb.Bound {
	return a.Buffer.Bound()
}

// Contains reports whether p lies strictly inside the AOI polygon (holes excluded)
func (a *AreaOfInterest) Contains(p orb.Point) bool {
	return planar.MultiPolygonContains(a.Geometry, p)
}

// crsKind classifies the legacy GeoJSON "crs" member
type crsKind int

const (
	crsWGS84 crsKind = iota
	crsWebMercator
)

var epsgPattern = regexp.MustCompile(`(?i)EPSG:{1,2}(\d+)`)

type rawDocument struct {
	Type string `json:"type"`
	CRS  *struct {
		Type       string `json:"type"`
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs"`
}

// Load reads a GeoJSON boundary file and builds the AOI with a buffer of
// bufferKm kilometres. The first Polygon or MultiPolygon feature is used.
func Load(path string, bufferKm float64) (*AreaOfInterest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.NewInputError(err, "cannot read boundary file %s", path)
	}
	return Parse(data, stemName(path), bufferKm)
}

// Parse builds an AOI from GeoJSON bytes. fallbackName is used when the
// feature carries no name property.
func Parse(data []byte, fallbackName string, bufferKm float64) (*AreaOfInterest, error) {
	var doc rawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, common.NewInputError(err, "boundary file is not valid JSON")
	}

	kind, err := classifyCRS(doc)
	if err != nil {
		return nil, err
	}

	geometry, props, err := firstPolygon(doc.Type, data)
	if err != nil {
		return nil, err
	}

	if kind == crsWebMercator {
		log.Printf("[AOI] Reprojecting boundary from EPSG:3857 to WGS84")
		geometry = project.MultiPolygon(geometry, project.Mercator.ToWGS84)
	}

	if err := validateWGS84(geometry); err != nil {
		return nil, err
	}

	name := fallbackName
	for _, key := range []string{"name", "NAME", "Name"} {
		if v, ok := props[key].(string); ok && strings.TrimSpace(v) != "" {
			name = strings.TrimSpace(v)
			break
		}
	}

	buffered := NewBuffered(geometry, bufferKm*1000)
	log.Printf("[AOI] Loaded %q: %d polygon(s), bbox %v, buffered bbox %v",
		name, len(geometry), geometry.Bound(), buffered.Bound())

	return &AreaOfInterest{
		Name:     name,
		Geometry: geometry,
		Buffer:   buffered,
	}, nil
}

// classifyCRS resolves the legacy "crs" member. RFC 7946 files have none
// and are WGS84.
func classifyCRS(doc rawDocument) (crsKind, error) {
	if doc.CRS == nil || doc.CRS.Properties.Name == "" {
		return crsWGS84, nil
	}
	name := doc.CRS.Properties.Name
	if strings.Contains(strings.ToUpper(name), "CRS84") {
		return crsWGS84, nil
	}
	m := epsgPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, common.NewInputError(nil, "unrecognised coordinate reference system %q", name)
	}
	switch m[1] {
	case "4326":
		return crsWGS84, nil
	case "3857", "900913", "3785", "102100":
		return crsWebMercator, nil
	default:
		return 0, common.NewInputError(nil, "cannot reproject boundary from EPSG:%s to WGS84", m[1])
	}
}

// firstPolygon extracts the first polygonal geometry and its properties
func firstPolygon(docType string, data []byte) (orb.MultiPolygon, map[string]any, error) {
	switch docType {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, nil, common.NewInputError(err, "invalid GeoJSON feature collection")
		}
		for _, f := range fc.Features {
			if mp, ok := asMultiPolygon(f.Geometry); ok {
				return mp, f.Properties, nil
			}
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, nil, common.NewInputError(err, "invalid GeoJSON feature")
		}
		if mp, ok := asMultiPolygon(f.Geometry); ok {
			return mp, f.Properties, nil
		}
	case "Polygon", "MultiPolygon", "GeometryCollection":
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, nil, common.NewInputError(err, "invalid GeoJSON geometry")
		}
		if mp, ok := asMultiPolygon(g.Geometry()); ok {
			return mp, nil, nil
		}
	case "":
		return nil, nil, common.NewInputError(nil, "boundary file has no GeoJSON type")
	}
	return nil, nil, common.NewInputError(nil, "boundary file contains no Polygon or MultiPolygon geometry")
}

func asMultiPolygon(g orb.Geometry) (orb.MultiPolygon, bool) {
	switch v := g.(type) {
	case orb.Polygon:
		if len(v) > 0 && len(v[0]) >= 4 {
			return orb.MultiPolygon{v.Clone()}, true
		}
	case orb.MultiPolygon:
		var out orb.MultiPolygon
		for _, p := range v {
			if len(p) > 0 && len(p[0]) >= 4 {
				out = append(out, p.Clone())
			}
		}
		if len(out) > 0 {
			return out, true
		}
	case orb.Collection:
		for _, member := range v {
			if mp, ok := asMultiPolygon(member); ok {
				return mp, true
			}
		}
	}
	return nil, false
}

func validateWGS84(mp orb.MultiPolygon) error {
	b := mp.Bound()
	if b.Min[0] < -180 || b.Max[0] > 180 || b.Min[1] < -90 || b.Max[1] > 90 {
		return common.NewInputError(nil, "boundary coordinates %v are outside the WGS84 range; declare the source CRS", b)
	}
	for _, p := range b.ToRing() {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) {
			return common.NewInputError(nil, "boundary contains invalid coordinates")
		}
	}
	if planar.Area(mp) == 0 {
		return common.NewInputError(nil, "boundary polygon has zero area")
	}
	return nil
}

func stemName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Describe renders a one-line summary used by dry runs
func (a *AreaOfInterest) Describe() string {
	b := a.BufferedBound()
	return fmt.Sprintf("%s (buffer %.0f km, bbox %.4f,%.4f,%.4f,%.4f)",
		a.Name, a.Buffer.Distance()/1000, b.Min[0], b.Min[1], b.Max[0], b.Max[1])
}
