package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"fire-timelapse/internal/common"
)

// Granularity selects the calendar unit of one period / one frame
type Granularity string

const (
	Monthly Granularity = "monthly"
	Daily   Granularity = "daily"
)

// Basemap selects the web-map tiles drawn under each frame
type Basemap string

const (
	BasemapNone      Basemap = "none"
	BasemapOSM       Basemap = "osm"
	BasemapSatellite Basemap = "satellite"
	BasemapTerrain   Basemap = "terrain"
)

// Metric selects what the heatmap and statistics are weighted by
type Metric string

const (
	MetricCount Metric = "count"
	MetricFRP   Metric = "frp"
	MetricBoth  Metric = "both" // one count video plus one FRP video
)

// VideoFormat selects the container written by the video compiler
type VideoFormat string

const (
	FormatMP4 VideoFormat = "mp4"
	FormatAVI VideoFormat = "avi"
	FormatGIF VideoFormat = "gif"
)

// GapPolicy decides what a chunk that exhausted its retries does to the run
type GapPolicy string

const (
	GapContinue GapPolicy = "continue"
	GapAbort    GapPolicy = "abort"
)

// CacheBackend selects where raw FIRMS responses are cached
type CacheBackend string

const (
	CacheDisk  CacheBackend = "disk"
	CacheRedis CacheBackend = "redis"
)

func (g Granularity) Valid() bool { return g == Monthly || g == Daily }
func (b Basemap) Valid() bool { return oneOf(b, BasemapNone, BasemapOSM, BasemapSatellite, BasemapTerrain) }
func (m Metric) Valid() bool { return oneOf(m, MetricCount, MetricFRP, MetricBoth) }
func (f VideoFormat) Valid() bool { return oneOf(f, FormatMP4, FormatAVI, FormatGIF) }
func (p GapPolicy) Valid() bool { return p == GapContinue || p == GapAbort }
func (c CacheBackend) Valid() bool { return c == CacheDisk || c == CacheRedis }

// The Set/String/Type methods let each enum be bound directly as a CLI flag.

func (g *Granularity) Set(s string) error { return setEnum(g, s, "interval") }
func (g *Granularity) String() string { return string(*g) }
func (g *Granularity) Type() string { return "monthly|daily" }
func (b *Basemap) Set(s string) error { return setEnum(b, s, "basemap") }
func (b *Basemap) String() string { return string(*b) }
func (b *Basemap) Type() string { return "satellite|osm|terrain|none" }
func (m *Metric) Set(s string) error { return setEnum(m, s, "metric") }
func (m *Metric) String() string { return string(*m) }
func (m *Metric) Type() string { return "count|frp|both" }
func (f *VideoFormat) Set(s string) error { return setEnum(f, s, "format") }
func (f *VideoFormat) String() string { return string(*f) }
func (f *VideoFormat) Type() string { return "mp4|avi|gif" }
func (p *GapPolicy) Set(s string) error { return setEnum(p, s, "gap-policy") }
func (p *GapPolicy) String() string { return string(*p) }
func (p *GapPolicy) Type() string { return "continue|abort" }
func (c *CacheBackend) Set(s string) error { return setEnum(c, s, "cache-backend") }
func (c *CacheBackend) String() string { return string(*c) }
func (c *CacheBackend) Type() string { return "disk|redis" }

type enum interface {
	~string
	Valid() bool
}

func oneOf[T comparable](v T, options ...T) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func setEnum[T enum](dst *T, s, name string) error {
	v := T(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return fmt.Errorf("invalid %s %q", name, s)
	}
	*dst = v
	return nil
}

// Settings is the closed run configuration. It is built from defaults, an
// optional JSON file and CLI flags, validated once, then read-only.
type Settings struct {
	// Output
	OutputPath string      `json:"outputPath"` // file or directory; empty uses OutputDir
	OutputDir  string      `json:"outputDir"`
	FramesDir  string      `json:"framesDir"`
	KeepFrames bool        `json:"keepFrames"`
	Format     VideoFormat `json:"format"`
	FPS        int         `json:"fps"`
	HoldLast   int         `json:"holdLast"` // extra ticks the final frame is shown
	Report     bool        `json:"report"`   // write the HTML summary chart

	// Rendering
	Basemap     Basemap     `json:"basemap"`
	Granularity Granularity `json:"interval"`
	Width       int         `json:"width"`
	Metric      Metric      `json:"metric"`

	// Area
	BufferKm float64 `json:"bufferKm"`

	// Fetching
	FIRMSBaseURL    string    `json:"firmsBaseURL"`
	RequestDelayMS  int       `json:"requestDelayMs"`
	MaxAttempts     int       `json:"maxAttempts"`
	BackoffBaseMS   int       `json:"backoffBaseMs"`
	TimeoutSeconds  int       `json:"timeoutSeconds"`
	MaxLookbackDays int       `json:"maxLookbackDays"` // provider cap on one request; 0 means none
	GapPolicy       GapPolicy `json:"gapPolicy"`
	FailOnEmpty     bool      `json:"failOnEmpty"`

	// Cache settings
	UseCache       bool         `json:"cache"`
	CacheBackend   CacheBackend `json:"cacheBackend"`
	CacheDir       string       `json:"cacheDir"`
	CacheMaxSizeMB int          `json:"cacheMaxSizeMB"`
	CacheTTLDays   int          `json:"cacheTTLDays"`
	RedisAddr      string       `json:"redisAddr"`

	DryRun  bool `json:"-"`
	Verbose bool `json:"-"`
}

// DefaultSettings returns default run settings
func DefaultSettings() *Settings {
	return &Settings{
		OutputDir:      "outputs/videos",
		FramesDir:      "outputs/frames",
		Format:         FormatMP4,
		FPS:            3,
		HoldLast:       3,
		Report:         true,
		Basemap:        BasemapSatellite,
		Granularity:    Monthly,
		Width:          960,
		Metric:         MetricCount,
		BufferKm:       25,
		FIRMSBaseURL:   "https://firms.modaps.eosdis.nasa.gov/api/area/csv",
		RequestDelayMS: 300,
		MaxAttempts:    3,
		BackoffBaseMS:  1000,
		TimeoutSeconds: 30,
		GapPolicy:      GapContinue,
		CacheBackend:   CacheDisk,
		CacheMaxSizeMB: 250,
		CacheTTLDays:   30,
		RedisAddr:      "localhost:6379",
	}
}

// LoadSettings reads a JSON settings file on top of the defaults. Fields
// absent from the file keep their default value. An empty path returns the
// defaults unchanged.
func LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &common.ConfigError{Kind: common.ConfigMissing, Source: path, Msg: "failed to read settings file", Err: err}
	}

	if err := json.Unmarshal(data, settings); err != nil {
		return nil, &common.ConfigError{Kind: common.ConfigMalformed, Source: path, Msg: "failed to parse settings", Err: err}
	}

	// Merge with defaults for zeroed fields
	defaults := DefaultSettings()
	if settings.OutputDir == "" {
		settings.OutputDir = defaults.OutputDir
	}
	if settings.FramesDir == "" {
		settings.FramesDir = defaults.FramesDir
	}
	if settings.FIRMSBaseURL == "" {
		settings.FIRMSBaseURL = defaults.FIRMSBaseURL
	}
	if settings.CacheMaxSizeMB == 0 {
		settings.CacheMaxSizeMB = defaults.CacheMaxSizeMB
	}
	if settings.CacheTTLDays == 0 {
		settings.CacheTTLDays = defaults.CacheTTLDays
	}
	if settings.RedisAddr == "" {
		settings.RedisAddr = defaults.RedisAddr
	}

	return settings, nil
}

// Validate checks every field once. It returns a ConfigError of kind invalid
// naming the first offending field.
func (s *Settings) Validate() error {
	invalid := func(format string, args ...any) error {
		return &common.ConfigError{Kind: common.ConfigInvalid, Msg: fmt.Sprintf(format, args...)}
	}

	switch {
	case !s.Granularity.Valid():
		return invalid("interval must be monthly or daily, got %q", s.Granularity)
	case !s.Basemap.Valid():
		return invalid("basemap must be satellite, osm, terrain or none, got %q", s.Basemap)
	case !s.Metric.Valid():
		return invalid("metric must be count, frp or both, got %q", s.Metric)
	case !s.Format.Valid():
		return invalid("format must be mp4, avi or gif, got %q", s.Format)
	case !s.GapPolicy.Valid():
		return invalid("gap policy must be continue or abort, got %q", s.GapPolicy)
	case !s.CacheBackend.Valid():
		return invalid("cache backend must be disk or redis, got %q", s.CacheBackend)
	case s.FPS < 1 || s.FPS > 60:
		return invalid("fps must be between 1 and 60, got %d", s.FPS)
	case s.HoldLast < 0:
		return invalid("hold-last must not be negative, got %d", s.HoldLast)
	case s.Width < 64 || s.Width > 7680:
		return invalid("width must be between 64 and 7680 pixels, got %d", s.Width)
	case s.BufferKm < 0:
		return invalid("buffer must not be negative, got %g km", s.BufferKm)
	case s.RequestDelayMS < 0:
		return invalid("request delay must not be negative, got %dms", s.RequestDelayMS)
	case s.MaxAttempts < 1:
		return invalid("max attempts must be at least 1, got %d", s.MaxAttempts)
	case s.BackoffBaseMS < 0:
		return invalid("backoff base must not be negative, got %dms", s.BackoffBaseMS)
	case s.TimeoutSeconds < 1:
		return invalid("timeout must be at least 1 second, got %d", s.TimeoutSeconds)
	case s.MaxLookbackDays < 0:
		return invalid("max lookback must not be negative, got %d", s.MaxLookbackDays)
	case s.CacheMaxSizeMB < 1:
		return invalid("cache size must be at least 1 MB, got %d", s.CacheMaxSizeMB)
	}
	return nil
}

// RequestDelay returns the minimum gap between two FIRMS calls
func (s *Settings) RequestDelay() time.Duration {
	return time.Duration(s.RequestDelayMS) * time.Millisecond
}

// BackoffBase returns the unit of the exponential retry backoff
func (s *Settings) BackoffBase() time.Duration {
	return time.Duration(s.BackoffBaseMS) * time.Millisecond
}

// Timeout returns the per-request network timeout
func (s *Settings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Metrics expands MetricBoth into the individual metrics it renders
func (s *Settings) Metrics() []Metric {
	if s.Metric == MetricBoth {
		return []Metric{MetricCount, MetricFRP}
	}
	return []Metric{s.Metric}
}
