package sink

import (
	"context"
	"fmt"
	"log"
	"os"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"fire-timelapse/internal/config"
	"fire-timelapse/internal/dataset"
)

// Measurement is the InfluxDB measurement period aggregates are written to
const Measurement = "fire_period"

// InfluxConfig holds InfluxDB connection settings
type InfluxConfig struct {
	URL    string
	Org    string
	Token  string
	Bucket string
}

// InfluxConfigFromEnv reads INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG and
// INFLUXDB_BUCKET. The export is enabled only when URL and token are set.
func InfluxConfigFromEnv(getenv func(string) string) (InfluxConfig, bool) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := InfluxConfig{
		URL:    getenv("INFLUXDB_URL"),
		Org:    getenv("INFLUXDB_ORG"),
		Token:  getenv("INFLUXDB_TOKEN"),
		Bucket: getenv("INFLUXDB_BUCKET"),
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "fire-timelapse"
	}
	return cfg, cfg.URL != "" && cfg.Token != ""
}

// PointWriter is the blocking write side of an InfluxDB client
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Influx exports period aggregates as time series points
type Influx struct {
	client influxdb2.Client // nil when built around a bare writer
	writer PointWriter
}

// NewInflux initializes the InfluxDB v2 client and verifies connectivity
func NewInflux(ctx context.Context, cfg InfluxConfig) (*Influx, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != domain.HealthCheckStatusPass {
		client.Close()
		return nil, fmt.Errorf("InfluxDB at %s is not healthy (%s)", cfg.URL, health.Status)
	}

	log.Printf("[Sink] Connected to InfluxDB at %s (bucket %s)", cfg.URL, cfg.Bucket)
	return &Influx{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// PeriodPoints converts periods into one point each, stamped at the period
// start and tagged with the AOI, granularity and statistics view
func PeriodPoints(aoiName string, g config.Granularity, view dataset.View, periods []dataset.Period) []*write.Point {
	points := make([]*write.Point, 0, len(periods))
	for _, p := range periods {
		points = append(points, write.NewPoint(
			Measurement,
			map[string]string{
				"aoi":         aoiName,
				"granularity": string(g),
				"view":        view.String(),
				"period":      p.Label,
			},
			map[string]interface{}{
				"detections": p.Count,
				"frp_mw":     p.TotalFRP,
			},
			p.Start,
		))
	}
	return points
}

// WritePeriods writes one point per period in a single blocking request
func (s *Influx) WritePeriods(ctx context.Context, aoiName string, g config.Granularity, view dataset.View, periods []dataset.Period) error {
	if len(periods) == 0 {
		return nil
	}
	points := PeriodPoints(aoiName, g, view, periods)
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write %d period point(s): %w", len(points), err)
	}
	log.Printf("[Sink] Wrote %d period point(s) to InfluxDB", len(points))
	return nil
}

// Close closes the InfluxDB client
func (s *Influx) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
