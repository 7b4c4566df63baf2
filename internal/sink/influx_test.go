package sink

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fire-timelapse/internal/config"
	"fire-timelapse/internal/dataset"
)

type recordingWriter struct {
	points []*write.Point
	err    error
}

func (w *recordingWriter) WritePoint(_ context.Context, point ...*write.Point) error {
	w.points = append(w.points, point...)
	return w.err
}

func periods() []dataset.Period {
	return []dataset.Period{
		{Label: "2023-07", Start: time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC), Count: 3, TotalFRP: 42.5},
		{Label: "2023-08", Start: time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC)},
	}
}

func TestInfluxConfigFromEnv(t *testing.T) {
	env := map[string]string{"INFLUXDB_URL": "http://localhost:8086", "INFLUXDB_TOKEN": "t", "INFLUXDB_ORG": "fire"}
	cfg, ok := InfluxConfigFromEnv(func(k string) string { return env[k] })
	assert.True(t, ok)
	assert.Equal(t, "fire-timelapse", cfg.Bucket)
	assert.Equal(t, "fire", cfg.Org)

	_, ok = InfluxConfigFromEnv(func(string) string { return "" })
	assert.False(t, ok)
}

func TestWritePeriods(t *testing.T) {
	w := &recordingWriter{}
	s := &Influx{writer: w}

	require.NoError(t, s.WritePeriods(context.Background(), "Dixie", config.Monthly, dataset.ViewClipped, periods()))
	require.Len(t, w.points, 2)

	p := w.points[0]
	assert.Equal(t, Measurement, p.Name())
	assert.True(t, p.Time().Equal(time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)))

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"aoi": "Dixie", "granularity": "monthly", "view": "clipped", "period": "2023-07"}, tags)

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.EqualValues(t, 3, fields["detections"])
	assert.Equal(t, 42.5, fields["frp_mw"])

	s.Close()
}

func TestWritePeriodsErrors(t *testing.T) {
	w := &recordingWriter{err: errors.New("unauthorized")}
	s := &Influx{writer: w}

	assert.ErrorContains(t, s.WritePeriods(context.Background(), "Dixie", config.Daily, dataset.ViewBuffered, periods()), "unauthorized")
	assert.NoError(t, s.WritePeriods(context.Background(), "Dixie", config.Daily, dataset.ViewBuffered, nil))
}

func TestNewInfluxUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewInflux(context.Background(), InfluxConfig{URL: url, Token: "t", Org: "o", Bucket: "b"})
	assert.Error(t, err)
}
