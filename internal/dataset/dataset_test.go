package dataset

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fire-timelapse/internal/aoi"
	"fire-timelapse/internal/common"
	"fire-timelapse/internal/config"
	"fire-timelapse/internal/firms"
)

// a 1x1 degree square with a 0.2 degree hole in the middle
const squareWithHole = `{
  "type": "Feature",
  "properties": {"name": "Square"},
  "geometry": {
    "type": "Polygon",
    "coordinates": [
      [[-121,38],[-120,38],[-120,39],[-121,39],[-121,38]],
      [[-120.6,38.4],[-120.4,38.4],[-120.4,38.6],[-120.6,38.6],[-120.6,38.4]]
    ]
  }
}`

func testArea(t *testing.T) *aoi.AreaOfInterest {
	t.Helper()
	area, err := aoi.Parse([]byte(squareWithHole), "square", 25)
	require.NoError(t, err)
	return area
}

func det(lon, lat float64, date string, frp float64) firms.Detection {
	d, _ := common.ParseISO8601(date)
	return firms.Detection{
		Latitude: lat, Longitude: lon, AcqDate: d, AcqTime: "1200",
		Brightness: 320, Confidence: 80, FRP: frp, DayNight: firms.Day, Satellite: "Terra",
	}
}

func TestBuildViews(t *testing.T) {
	area := testArea(t)
	inside := det(-120.8, 38.2, "2023-08-01", 10)
	inHole := det(-120.5, 38.5, "2023-08-02", 20)
	nearEdge := det(-119.9, 38.5, "2023-08-03", 5) // ~9 km east of the edge
	farAway := det(-118.5, 38.5, "2023-08-03", 5)  // ~130 km east

	ds := Build([]firms.ChunkResult{
		{Detections: []firms.Detection{inside, inHole}},
		{Detections: []firms.Detection{nearEdge, farAway, inside}},
	}, area)

	assert.Len(t, ds.All, 4)
	assert.Equal(t, 1, ds.Dupes)
	assert.Equal(t, 1, ds.Dropped)
	assert.ElementsMatch(t, []firms.Detection{inside, inHole, nearEdge}, ds.Buffered)
	assert.Equal(t, []firms.Detection{inside}, ds.Clipped, "holes are excluded from the clipped view")
}

func TestBuildEmpty(t *testing.T) {
	ds := Build(nil, testArea(t))
	assert.Empty(t, ds.All)
	assert.Empty(t, ds.Buffered)
	assert.Empty(t, ds.Clipped)
	assert.Zero(t, ds.Dropped)
}

func TestClippedSubsetOfBuffered(t *testing.T) {
	area := testArea(t)
	rng := rand.New(rand.NewSource(7))
	var dets []firms.Detection
	for i := 0; i < 2000; i++ {
		dets = append(dets, det(-121.6+rng.Float64()*2.2, 37.4+rng.Float64()*2.2, "2023-08-01", rng.Float64()*50))
	}
	ds := Build([]firms.ChunkResult{{Detections: dets}}, area)

	buffered := make(map[firms.DetectionKey]bool, len(ds.Buffered))
	for _, d := range ds.Buffered {
		buffered[d.Key()] = true
	}
	for _, d := range ds.Clipped {
		assert.True(t, buffered[d.Key()])
	}
	assert.Equal(t, len(ds.All), len(ds.Buffered)+ds.Dropped)
	assert.NotEmpty(t, ds.Clipped)
	assert.Less(t, len(ds.Clipped), len(ds.Buffered))
}

func TestBucketMonthlyContinuity(t *testing.T) {
	area := testArea(t)
	ds := Build([]firms.ChunkResult{{Detections: []firms.Detection{
		det(-120.8, 38.2, "2023-06-20", 10),
		det(-120.8, 38.3, "2023-06-21", 15),
		det(-120.7, 38.8, "2023-08-05", 7.5),
		det(-119.9, 38.5, "2023-08-06", 100), // buffer only
	}}}, area)

	r, err := common.ParseDateRange("2023-06-15", "2023-09-10")
	require.NoError(t, err)
	periods := Bucket(ds, r, config.Monthly, ViewClipped)

	require.Len(t, periods, 4)
	labels := []string{periods[0].Label, periods[1].Label, periods[2].Label, periods[3].Label}
	assert.Equal(t, []string{"2023-06", "2023-07", "2023-08", "2023-09"}, labels)

	assert.Equal(t, "2023-06-15", common.FormatISO8601(periods[0].Start), "first period clamped to range start")
	assert.Equal(t, "2023-06-30", common.FormatISO8601(periods[0].End))
	assert.Equal(t, "2023-09-10", common.FormatISO8601(periods[3].End), "last period clamped to range end")

	assert.Equal(t, 2, periods[0].Count)
	assert.InDelta(t, 25.0, periods[0].TotalFRP, 1e-9)
	assert.Zero(t, periods[1].Count)
	assert.Empty(t, periods[1].Detections)
	assert.Equal(t, 1, periods[2].Count)
	assert.Len(t, periods[2].Context, 2, "context includes buffered detections")
	assert.Equal(t, 7.5, periods[2].Value(config.MetricFRP))

	count, frp := Totals(periods)
	assert.Equal(t, len(ds.Clipped), count)
	assert.InDelta(t, TotalFRP(ds.Clipped), frp, 1e-9)

	peak, ok := Peak(periods, config.MetricCount)
	require.True(t, ok)
	assert.Equal(t, "2023-06", peak.Label)
}

func TestBucketDailyAndBufferedStats(t *testing.T) {
	area := testArea(t)
	ds := Build([]firms.ChunkResult{{Detections: []firms.Detection{
		det(-120.8, 38.2, "2023-12-31", 1),
		det(-119.9, 38.5, "2024-01-01", 2),
	}}}, area)

	r, err := common.ParseDateRange("2023-12-30", "2024-01-02")
	require.NoError(t, err)
	periods := Bucket(ds, r, config.Daily, ViewBuffered)

	require.Len(t, periods, 4)
	for i, p := range periods {
		assert.Equal(t, r.Start.AddDate(0, 0, i), p.Start)
		assert.Equal(t, p.Start, p.End)
		assert.Equal(t, common.FormatISO8601(p.Start), p.Label)
	}
	assert.Equal(t, []int{0, 1, 1, 0}, []int{periods[0].Count, periods[1].Count, periods[2].Count, periods[3].Count})
}

func TestBucketPropertyEveryDayCovered(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	ds := &Dataset{}
	base := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 200; i++ {
		start := base.AddDate(0, 0, rng.Intn(1500))
		end := start.AddDate(0, 0, rng.Intn(800))
		r, err := common.NewDateRange(start, end)
		require.NoError(t, err)

		for _, g := range []config.Granularity{config.Monthly, config.Daily} {
			periods := Bucket(ds, r, g, ViewClipped)
			require.NotEmpty(t, periods)
			assert.Equal(t, r.Start, periods[0].Start)
			assert.Equal(t, r.End, periods[len(periods)-1].End)
			for j := 1; j < len(periods); j++ {
				assert.Equal(t, periods[j-1].End.AddDate(0, 0, 1), periods[j].Start)
			}
		}
	}
}
