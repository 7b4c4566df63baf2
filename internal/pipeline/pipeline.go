package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"

	"fire-timelapse/internal/aoi"
	"fire-timelapse/internal/basemap"
	"fire-timelapse/internal/cache"
	"fire-timelapse/internal/chunk"
	"fire-timelapse/internal/common"
	"fire-timelapse/internal/config"
	"fire-timelapse/internal/dataset"
	"fire-timelapse/internal/firms"
	"fire-timelapse/internal/ratelimit"
	"fire-timelapse/internal/render"
	"fire-timelapse/internal/report"
	"fire-timelapse/internal/sink"
	"fire-timelapse/internal/telemetry"
	"fire-timelapse/internal/utils/naming"
	"fire-timelapse/internal/video"
)

// maxListedGaps caps the failed chunk ranges printed in the summary
const maxListedGaps = 10

// Options is everything one run needs besides the settings
type Options struct {
	Settings     *config.Settings
	BoundaryPath string
	StartDate    string
	EndDate      string
	Credentials  config.CredentialSources

	// Stdout receives user-facing progress and the summary; nil discards
	Stdout io.Writer
	// Getenv looks up INFLUXDB_*; nil uses os.Getenv
	Getenv  func(string) string
	Now     func() time.Time
	Encoder video.Encoder // nil builds an Exporter from the settings
	Tracker *telemetry.Tracker
	// Sink opens the InfluxDB export; nil reads INFLUXDB_* via Getenv
	Sink func(ctx context.Context) (*sink.Influx, error)
}

// Result describes a finished run
type Result struct {
	Area      *aoi.AreaOfInterest
	Range     common.DateRange
	Chunks    []chunk.Chunk
	Dataset   *dataset.Dataset
	Periods   []dataset.Period
	Gaps      []*common.FetchError
	Empty     *common.EmptyResultError // set when the statistics view has no detections
	Frames    int
	Fallbacks []*common.RenderError
	Videos    []string
	Report    string
	Fetch     firms.Stats
	Basemap   basemap.Stats
	Timings   []Timing
	DryRun    bool
}

// Timing is the wall time of one stage
type Timing struct {
	Stage    string
	Duration time.Duration
}

type runner struct {
	opts     Options
	s        *config.Settings
	out      io.Writer
	getenv   func(string) string
	now      func() time.Time
	res      *Result
	firmsDB  cache.Store
	tilesDB  cache.Store
	closers  []func() error
	stageNum int
}

const stages = 4

// Run executes one timelapse: load, plan, fetch, aggregate, bucket, render
// and encode, strictly in that order. Input and configuration problems are
// reported before any network call.
func Run(ctx context.Context, opts Options) (*Result, error) {
	r := &runner{
		opts:   opts,
		s:      opts.Settings,
		out:    opts.Stdout,
		getenv: opts.Getenv,
		now:    opts.Now,
		res:    &Result{},
	}
	if r.s == nil {
		r.s = config.DefaultSettings()
	}
	if r.out == nil {
		r.out = io.Discard
	}
	if r.getenv == nil {
		r.getenv = os.Getenv
	}
	if r.now == nil {
		r.now = time.Now
	}
	defer r.close()

	err := r.run(ctx)
	r.track(err)
	return r.res, err
}

func (r *runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

func (r *runner) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			log.Printf("[Pipeline] Close failed: %v", err)
		}
	}
}

// stage runs fn as the next numbered stage and records its duration
func (r *runner) stage(name string, fn func() error) error {
	r.stageNum++
	r.printf("[%d/%d] %s...", r.stageNum, stages, name)
	started := time.Now()
	err := fn()
	r.res.Timings = append(r.res.Timings, Timing{Stage: name, Duration: time.Since(started)})
	return err
}

func (r *runner) run(ctx context.Context) error {
	if err := r.s.Validate(); err != nil {
		return err
	}
	rng, err := common.ParseDateRange(r.opts.StartDate, r.opts.EndDate)
	if err != nil {
		return err
	}
	r.res.Range = rng

	area, err := aoi.Load(r.opts.BoundaryPath, r.s.BufferKm)
	if err != nil {
		return err
	}
	r.res.Area = area

	planner := chunk.NewPlanner(r.s.MaxLookbackDays)
	r.res.Chunks = planner.Collect(rng)

	if r.s.DryRun {
		r.res.DryRun = true
		r.printPlan()
		return nil
	}

	mapKey, source, err := config.ResolveMapKey(r.opts.Credentials)
	if err != nil {
		return err
	}
	log.Printf("[Config] Using MAP_KEY %s from %s", config.RedactKey(mapKey), source)

	if lag := common.DaysBetween(rng.End, common.TruncateDay(r.now())); lag < common.ProcessingDelayDays {
		r.printf("Warning: end date %s is within %d days of today; %s science-grade data may be incomplete",
			common.FormatISO8601(rng.End), common.ProcessingDelayDays, common.SourceMODISSP)
	}

	r.printf("Area: %s", area.Describe())
	r.printf("Range: %s (%d day(s), %d request(s))", rng, rng.Days(), len(r.res.Chunks))

	r.openCaches(ctx)

	var fetched firms.Fetched
	if err := r.stage("Fetching "+common.DisplayNameFIRMS+" detections", func() error {
		fetched, err = r.fetch(ctx, mapKey, planner, area)
		return err
	}); err != nil {
		return err
	}

	var periods []dataset.Period
	if err := r.stage("Processing detections", func() error {
		ds := dataset.Build(fetched.Results, area)
		r.res.Dataset = ds
		periods = dataset.Bucket(ds, rng, r.s.Granularity, dataset.ViewClipped)
		r.res.Periods = periods

		if count, _ := dataset.Totals(periods); count == 0 {
			r.res.Empty = &common.EmptyResultError{Range: rng}
			if r.s.FailOnEmpty {
				return r.res.Empty
			}
			r.printf("%v; rendering empty frames", r.res.Empty)
		}
		r.printf("  %d detection(s) inside %s, %d in the buffered area, %d %s period(s)",
			len(ds.Clipped), area.Name, len(ds.Buffered), len(periods), r.s.Granularity)
		return nil
	}); err != nil {
		return err
	}

	layout := render.NewLayout(area, r.s.Width, r.s.Granularity)
	var framesByMetric [][]video.Frame
	if err := r.stage("Rendering frames", func() error {
		bm, attribution := r.basemap(ctx, layout)
		for _, m := range r.s.Metrics() {
			frames, err := r.render(ctx, area, layout, periods, m, bm, attribution)
			if err != nil {
				return err
			}
			framesByMetric = append(framesByMetric, frames)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := r.stage("Encoding video", func() error {
		for i, m := range r.s.Metrics() {
			path, err := r.encode(ctx, rng, area, m, framesByMetric[i])
			if err != nil {
				return err
			}
			r.res.Videos = append(r.res.Videos, path)
			r.printf("  Video: %s", path)
		}
		return nil
	}); err != nil {
		return err
	}

	r.export(ctx, rng, area, periods)
	r.printSummary()
	return nil
}

func (r *runner) cacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.Backend = string(r.s.CacheBackend)
	cfg.Dir = r.s.CacheDir
	cfg.MaxSizeMB = r.s.CacheMaxSizeMB
	cfg.TTLDays = r.s.CacheTTLDays
	cfg.RedisAddr = r.s.RedisAddr
	return cfg
}

// openCaches sets up the FIRMS and tile stores. A store that cannot be
// opened only disables caching for the run.
func (r *runner) openCaches(ctx context.Context) {
	r.firmsDB, r.tilesDB = cache.Nop{}, cache.Nop{}
	if !r.s.UseCache {
		return
	}
	cfg := r.cacheConfig()

	if store, err := cache.Open(ctx, cfg, common.ProviderFIRMS, ".csv"); err != nil {
		r.printf("Warning: FIRMS cache disabled: %v", err)
	} else {
		r.firmsDB = store
		r.closers = append(r.closers, store.Close)
	}

	if store, err := cache.Open(ctx, cfg, common.ProviderBasemap, ".tile"); err != nil {
		log.Printf("[Cache] Tile cache disabled: %v", err)
	} else {
		r.tilesDB = store
		r.closers = append(r.closers, store.Close)
	}
}

func (r *runner) fetch(ctx context.Context, mapKey string, planner chunk.Planner, area *aoi.AreaOfInterest) (firms.Fetched, error) {
	strategy := ratelimit.NewRetryStrategy(r.s.BackoffBase(), r.s.MaxAttempts)
	limits := ratelimit.NewHandler(strategy)
	limits.SetOnRateLimit(func(e ratelimit.RateLimitEvent) {
		r.printf("  Rate limited by %s (HTTP %d), backing off", common.DisplayNameFIRMS, e.StatusCode)
	})

	client := firms.NewClient(firms.Options{
		BaseURL:  r.s.FIRMSBaseURL,
		MapKey:   mapKey,
		Timeout:  r.s.Timeout(),
		Pacer:    ratelimit.NewPacer(r.s.RequestDelay()),
		Strategy: strategy,
		Limits:   limits,
		Store:    r.firmsDB,
	})

	total := len(r.res.Chunks)
	done := 0
	fetched, err := client.FetchAll(ctx, planner.Plan(r.res.Range), area.BufferedBound(),
		r.s.GapPolicy == config.GapAbort,
		func(ch chunk.Chunk, err error) {
			done++
			status := "ok"
			if err != nil {
				status = "failed"
			}
			r.printf("  [%d/%d] %s %s", done, total, ch, status)
		})
	r.res.Fetch = client.Stats()
	r.res.Gaps = fetched.Gaps
	if err != nil {
		return fetched, fmt.Errorf("fetch aborted: %w", err)
	}
	return fetched, nil
}

// basemap fetches the map background once per run. Failures fall back to
// the plain dark background.
func (r *runner) basemap(ctx context.Context, layout render.Layout) (image.Image, string) {
	provider, ok := basemap.ProviderFor(r.s.Basemap)
	if !ok {
		return nil, ""
	}
	client, err := basemap.NewClient(r.tilesDB, r.s.Timeout())
	if err != nil {
		r.printf("Warning: basemap disabled: %v", err)
		return nil, ""
	}
	img, err := client.Render(ctx, provider, layout.Extent, layout.Width, layout.MapHeight)
	r.res.Basemap = client.Stats()
	if err != nil {
		r.printf("Warning: basemap unavailable, using plain background: %v", err)
		return nil, ""
	}
	return img, provider.Attribution
}

func (r *runner) framesDir(m config.Metric) string {
	rng := r.res.Range
	return filepath.Join(r.s.FramesDir,
		naming.GenerateFramesDirName(rng.Start, rng.End, r.res.Area.Name, string(m)))
}

func (r *runner) render(ctx context.Context, area *aoi.AreaOfInterest, layout render.Layout, periods []dataset.Period, m config.Metric, bm image.Image, attribution string) ([]video.Frame, error) {
	renderer, err := render.NewRenderer(area, layout, periods, render.Options{
		Granularity: r.s.Granularity,
		Metric:      m,
		FramesDir:   r.framesDir(m),
		Basemap:     bm,
		Attribution: attribution,
	})
	if err != nil {
		return nil, err
	}
	defer renderer.Close()

	frames, err := renderer.RenderAll(ctx, func(done, total int) {
		if done == total || done%10 == 0 {
			r.printf("  %s: %d/%d frame(s)", m, done, total)
		}
	})
	if err != nil {
		return nil, err
	}

	out := make([]video.Frame, 0, len(frames))
	for _, f := range frames {
		if f.Fallback {
			var rerr *common.RenderError
			if errors.As(f.Err, &rerr) {
				r.res.Fallbacks = append(r.res.Fallbacks, rerr)
			}
		}
		out = append(out, video.Frame{Path: f.Path, Date: f.Period.Start})
	}
	r.res.Frames += len(frames)
	return out, nil
}

// outputDir resolves --output: a path with an extension names a file whose
// directory is used, anything else is the directory itself
func (r *runner) outputDir() string {
	if p := r.s.OutputPath; p != "" {
		if filepath.Ext(p) != "" {
			return filepath.Dir(p)
		}
		return p
	}
	return r.s.OutputDir
}

func metricSuffix(m config.Metric) string {
	if m == config.MetricFRP {
		return "_frp"
	}
	return ""
}

func (r *runner) encode(ctx context.Context, rng common.DateRange, area *aoi.AreaOfInterest, m config.Metric, frames []video.Frame) (string, error) {
	name := naming.GenerateVideoFilename(rng.Start, rng.End, area.Name, metricSuffix(m), string(r.s.Format))
	manager := video.NewManager(video.Config{
		Format:      r.s.Format,
		FPS:         r.s.FPS,
		HoldLast:    r.s.HoldLast,
		Encoder:     r.opts.Encoder,
		LogCallback: func(msg string) { log.Printf("[VideoExport] %s", msg) },
	})

	path, err := manager.Compile(ctx, frames, filepath.Join(r.outputDir(), name))
	if err != nil {
		return "", err
	}

	if !r.s.KeepFrames {
		if err := os.RemoveAll(r.framesDir(m)); err != nil {
			log.Printf("[Pipeline] Failed to remove frames: %v", err)
		}
	} else {
		r.printf("  Frames kept in %s", r.framesDir(m))
	}
	return path, nil
}

// export writes the optional side outputs. None of them can fail the run.
func (r *runner) export(ctx context.Context, rng common.DateRange, area *aoi.AreaOfInterest, periods []dataset.Period) {
	if r.s.Report {
		path, err := report.Write(r.outputDir(), report.Summary{
			AOIName:     area.Name,
			Range:       rng,
			Granularity: r.s.Granularity,
			Periods:     periods,
			Gaps:        len(r.res.Gaps),
		})
		if err != nil {
			r.printf("Warning: summary chart not written: %v", err)
		} else {
			r.res.Report = path
			r.printf("  Report: %s", path)
		}
	}

	open := r.opts.Sink
	if open == nil {
		cfg, ok := sink.InfluxConfigFromEnv(r.getenv)
		if !ok {
			return
		}
		open = func(ctx context.Context) (*sink.Influx, error) { return sink.NewInflux(ctx, cfg) }
	}
	influx, err := open(ctx)
	if err != nil {
		r.printf("Warning: InfluxDB export skipped: %v", err)
		return
	}
	defer influx.Close()
	if err := influx.WritePeriods(ctx, area.Name, r.s.Granularity, dataset.ViewClipped, periods); err != nil {
		r.printf("Warning: InfluxDB export failed: %v", err)
	}
}

func (r *runner) track(err error) {
	if r.opts.Tracker == nil || r.res.DryRun {
		return
	}
	props := map[string]interface{}{
		"granularity": string(r.s.Granularity),
		"metric":      string(r.s.Metric),
		"format":      string(r.s.Format),
		"basemap":     string(r.s.Basemap),
		"chunks":      len(r.res.Chunks),
		"gaps":        len(r.res.Gaps),
		"frames":      r.res.Frames,
		"api_calls":   r.res.Fetch.APICalls,
		"cache_hits":  r.res.Fetch.CacheHits,
	}
	if err != nil {
		props["exit_code"] = common.ExitCode(err)
		r.opts.Tracker.Track(telemetry.EventRunFailed, props)
		return
	}
	r.opts.Tracker.Track(telemetry.EventRunCompleted, props)
}

func (r *runner) printPlan() {
	area := r.res.Area
	r.printf("Dry run: nothing will be fetched")
	r.printf("Area: %s", area.Describe())
	r.printf("Area tag: %s", naming.GenerateBBoxString(area.BufferedBound()))
	r.printf("Range: %s (%d day(s))", r.res.Range, r.res.Range.Days())
	r.printf("Requests: %d", len(r.res.Chunks))
	for i, ch := range r.res.Chunks {
		r.printf("  %3d. %s (%d day(s))", i+1, ch, ch.Days)
	}
}

func (r *runner) printSummary() {
	res := r.res
	count, frp := dataset.Totals(res.Periods)
	r.printf("")
	r.printf("Summary")
	r.printf("  Detections: %s (%.1f MW total FRP)", render.FormatThousands(int64(count)), frp)
	if res.Dataset != nil {
		r.printf("  Buffered area: %d, dropped outside buffer: %d, duplicates removed: %d",
			len(res.Dataset.Buffered), res.Dataset.Dropped, res.Dataset.Dupes)
	}
	if peak, ok := dataset.Peak(res.Periods, config.MetricCount); ok && peak.Count > 0 {
		r.printf("  Peak period: %s (%d detection(s))", peak.Label, peak.Count)
	}
	r.printf("  API calls: %d, cache hits: %d, retries: %d, rejected rows: %d",
		res.Fetch.APICalls, res.Fetch.CacheHits, res.Fetch.Retries, res.Fetch.Rejected)
	if res.Basemap.Requested > 0 {
		r.printf("  Basemap tiles: %d requested, %d downloaded, %d from memory, %d from disk, %d failed",
			res.Basemap.Requested, res.Basemap.Fetched, res.Basemap.MemoryHits, res.Basemap.DiskHits, res.Basemap.Failed)
	}
	r.printf("  Frames: %d (%d fallback)", res.Frames, len(res.Fallbacks))

	if len(res.Gaps) > 0 {
		r.printf("  Coverage gaps: %d chunk(s) failed", len(res.Gaps))
		for _, g := range lo.Slice(res.Gaps, 0, maxListedGaps) {
			r.printf("    - %s +%dd", common.FormatISO8601(g.Start), g.Days)
		}
		if len(res.Gaps) > maxListedGaps {
			r.printf("    ... and %d more", len(res.Gaps)-maxListedGaps)
		}
	}
	for _, fb := range res.Fallbacks {
		r.printf("  Fallback frame: %v", fb)
	}
	if res.Empty != nil {
		r.printf("  Note: %v", res.Empty)
	}

	timings := lo.Map(res.Timings, func(t Timing, i int) string {
		return fmt.Sprintf("[%d/%d] %s %s", i+1, stages, strings.ToLower(firstWord(t.Stage)), t.Duration.Round(time.Millisecond))
	})
	r.printf("  Timings: %s", strings.Join(timings, ", "))
}

func firstWord(s string) string {
	w, _, _ := strings.Cut(s, " ")
	return w
}
