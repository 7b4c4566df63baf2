package dataset

import (
	"log"

	"github.com/samber/lo"

	"fire-timelapse/internal/aoi"
	"fire-timelapse/internal/firms"
)

// Dataset holds every fetched detection and the two spatial views of them.
// Clipped is a subset of Buffered, which is a subset of All.
type Dataset struct {
	All      []firms.Detection // deduplicated union of every chunk
	Buffered []firms.Detection // inside the buffered search area
	Clipped  []firms.Detection // inside the AOI polygon itself
	Dropped  int               // rows in the bbox but outside the buffer
	Dupes    int
}

// Build concatenates chunk results in order, removes exact duplicates and
// computes both views. Empty input yields empty, valid views.
func Build(results []firms.ChunkResult, area *aoi.AreaOfInterest) *Dataset {
	var raw []firms.Detection
	for _, r := range results {
		raw = append(raw, r.Detections...)
	}

	all := lo.UniqBy(raw, firms.Detection.Key)
	ds := &Dataset{
		All:   all,
		Dupes: len(raw) - len(all),
	}
	if ds.Dupes > 0 {
		log.Printf("[Dataset] Removed %d duplicate detection(s)", ds.Dupes)
	}

	for _, d := range all {
		p := d.Point()
		if !area.Buffer.Contains(p) {
			ds.Dropped++
			continue
		}
		ds.Buffered = append(ds.Buffered, d)
		if area.Contains(p) {
			ds.Clipped = append(ds.Clipped, d)
		}
	}
	if ds.Dropped > 0 {
		log.Printf("[Dataset] Warning: dropped %d detection(s) outside the %.0f km buffer of %q",
			ds.Dropped, area.Buffer.Distance()/1000, area.Name)
	}

	log.Printf("[Dataset] %d detection(s): %d in buffered area, %d inside AOI",
		len(ds.All), len(ds.Buffered), len(ds.Clipped))
	return ds
}

// View selects which detections feed period statistics
type View int

const (
	ViewClipped View = iota
	ViewBuffered
)

func (v View) String() string {
	if v == ViewBuffered {
		return "buffered"
	}
	return "clipped"
}

// Detections returns the detections of the chosen view
func (ds *Dataset) Detections(v View) []firms.Detection {
	if v == ViewBuffered {
		return ds.Buffered
	}
	return ds.Clipped
}

// TotalFRP sums fire radiative power over detections
func TotalFRP(detections []firms.Detection) float64 {
	return lo.SumBy(detections, func(d firms.Detection) float64 { return d.FRP })
}
