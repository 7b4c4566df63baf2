package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fire-timelapse/internal/common"
	"fire-timelapse/internal/config"
	"fire-timelapse/internal/dataset"
)

func summary(t *testing.T) Summary {
	t.Helper()
	r, err := common.ParseDateRange("2023-01-01", "2023-03-31")
	require.NoError(t, err)
	month := func(m int) time.Time { return time.Date(2023, time.Month(m), 1, 0, 0, 0, 0, time.UTC) }
	return Summary{
		AOIName:     "Dixie Fire",
		Range:       r,
		Granularity: config.Monthly,
		Periods: []dataset.Period{
			{Label: "2023-01", Start: month(1), Count: 4, TotalFRP: 120.5},
			{Label: "2023-02", Start: month(2)},
			{Label: "2023-03", Start: month(3), Count: 1, TotalFRP: 8},
		},
		Gaps: 1,
	}
}

func TestSummaryText(t *testing.T) {
	s := summary(t)
	assert.Equal(t, "Dixie Fire: 2023-01-01 to 2023-03-31", s.Title())
	assert.Equal(t, "5 detections, 128.5 MW total FRP, 3 monthly period(s), 1 coverage gap(s)", s.subtitle())
}

func TestWriteChart(t *testing.T) {
	dir := t.TempDir()
	path, err := Write(filepath.Join(dir, "videos"), summary(t))
	require.NoError(t, err)
	assert.Equal(t, "OUTPUT_2023-01-01_2023-03-31_Dixie_Fire_summary.html", filepath.Base(path))

	html, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(html), "2023-02")
	assert.Contains(t, string(html), "Dixie Fire")

	leftovers, _ := filepath.Glob(filepath.Join(dir, "videos", "*.partial.*"))
	assert.Empty(t, leftovers)
}
