package dataset

import (
	"time"

	"github.com/samber/lo"

	"fire-timelapse/internal/common"
	"fire-timelapse/internal/config"
	"fire-timelapse/internal/firms"
)

// Period is one calendar unit of the timelapse. Detections and the
// aggregates come from the statistics view; Context is the buffered view
// drawn on the map.
type Period struct {
	Label      string // YYYY-MM or YYYY-MM-DD
	Start      time.Time
	End        time.Time // inclusive, clamped to the run range
	Detections []firms.Detection
	Context    []firms.Detection
	Count      int
	TotalFRP   float64
}

// Value returns the period statistic for metric (count or FRP in MW)
func (p Period) Value(m config.Metric) float64 {
	if m == config.MetricFRP {
		return p.TotalFRP
	}
	return float64(p.Count)
}

// Bucket splits the dataset into consecutive periods covering r. Every
// calendar unit in r produces exactly one Period, in order, even when empty.
func Bucket(ds *Dataset, r common.DateRange, g config.Granularity, stats View) []Period {
	label := labeler(g)
	byStats := lo.GroupBy(ds.Detections(stats), func(d firms.Detection) string { return label(d.AcqDate) })
	byContext := lo.GroupBy(ds.Buffered, func(d firms.Detection) string { return label(d.AcqDate) })

	var periods []Period
	for start := r.Start; !start.After(r.End); {
		next := advance(start, g)
		end := next.AddDate(0, 0, -1)
		if end.After(r.End) {
			end = r.End
		}

		key := label(start)
		dets := byStats[key]
		periods = append(periods, Period{
			Label:      key,
			Start:      start,
			End:        end,
			Detections: dets,
			Context:    byContext[key],
			Count:      len(dets),
			TotalFRP:   TotalFRP(dets),
		})
		start = next
	}
	return periods
}

// advance returns the first day of the unit after the one containing t
func advance(t time.Time, g config.Granularity) time.Time {
	if g == config.Daily {
		return t.AddDate(0, 0, 1)
	}
	return common.MonthStart(t).AddDate(0, 1, 0)
}

func labeler(g config.Granularity) func(time.Time) string {
	if g == config.Daily {
		return common.FormatISO8601
	}
	return func(t time.Time) string { return t.Format(common.MonthLabel) }
}

// Peak returns the period with the largest statistic; ties go to the earliest
func Peak(periods []Period, m config.Metric) (Period, bool) {
	if len(periods) == 0 {
		return Period{}, false
	}
	return lo.MaxBy(periods, func(a, b Period) bool { return a.Value(m) > b.Value(m) }), true
}

// Totals sums count and FRP over periods
func Totals(periods []Period) (count int, frp float64) {
	for _, p := range periods {
		count += p.Count
		frp += p.TotalFRP
	}
	return count, frp
}
