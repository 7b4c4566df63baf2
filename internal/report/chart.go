package report

import (
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/samber/lo"

	"fire-timelapse/internal/common"
	"fire-timelapse/internal/config"
	"fire-timelapse/internal/dataset"
	"fire-timelapse/internal/utils/naming"
)

// Summary describes the run a chart is drawn for
type Summary struct {
	AOIName     string
	Range       common.DateRange
	Granularity config.Granularity
	Periods     []dataset.Period
	Gaps        int
}

// Title is the chart heading, e.g. "Dixie Fire: 2021-07-01 to 2021-10-31"
func (s Summary) Title() string {
	return fmt.Sprintf("%s: %s to %s", s.AOIName,
		common.FormatISO8601(s.Range.Start), common.FormatISO8601(s.Range.End))
}

func (s Summary) subtitle() string {
	count, frp := dataset.Totals(s.Periods)
	sub := fmt.Sprintf("%d detections, %.1f MW total FRP, %d %s period(s)",
		count, frp, len(s.Periods), s.Granularity)
	if s.Gaps > 0 {
		sub += fmt.Sprintf(", %d coverage gap(s)", s.Gaps)
	}
	return sub
}

// BuildChart returns a bar chart of detections per period with total FRP
// overlaid as a line on a second axis
func BuildChart(s Summary) *charts.Bar {
	labels := lo.Map(s.Periods, func(p dataset.Period, _ int) string { return p.Label })
	counts := lo.Map(s.Periods, func(p dataset.Period, _ int) opts.BarData {
		return opts.BarData{Value: p.Count}
	})
	frp := lo.Map(s.Periods, func(p dataset.Period, _ int) opts.LineData {
		return opts.LineData{Value: math.Round(p.TotalFRP*10) / 10}
	})

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: s.Title(),
			Width:     "1000px",
			Height:    "500px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    s.Title(),
			Subtitle: s.subtitle(),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "5%"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Detections"}),
	)
	bar.ExtendYAxis(opts.YAxis{Name: "FRP (MW)"})
	bar.SetXAxis(labels).AddSeries("Detections", counts)

	line := charts.NewLine()
	line.SetXAxis(labels).AddSeries("FRP (MW)", frp,
		charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1}),
	)
	bar.Overlap(line)
	return bar
}

// Write renders the summary chart as a standalone HTML file in dir and
// returns its path
func Write(dir string, s Summary) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(dir, naming.GenerateReportFilename(s.Range.Start, s.Range.End, s.AOIName))
	partial := naming.PartialPath(path)

	f, err := os.Create(partial)
	if err != nil {
		return "", fmt.Errorf("failed to create HTML file: %w", err)
	}
	if err := BuildChart(s).Render(f); err != nil {
		f.Close()
		os.Remove(partial)
		return "", fmt.Errorf("failed to render chart: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(partial)
		return "", err
	}
	if err := os.Rename(partial, path); err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("failed to finalise report: %w", err)
	}

	log.Printf("[Report] Summary chart generated: %s", path)
	return path, nil
}
