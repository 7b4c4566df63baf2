package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"fire-timelapse/internal/cache"
	"fire-timelapse/internal/common"
	"fire-timelapse/internal/config"
	"fire-timelapse/internal/pipeline"
	"fire-timelapse/internal/telemetry"
)

// RedisAddrEnv overrides the Redis address of the cache backend
const RedisAddrEnv = "FIRMS_CACHE_REDIS_ADDR"

// msDuration exposes an integer millisecond setting as a duration flag
type msDuration struct{ ms *int }

func (d msDuration) String() string {
	return (time.Duration(*d.ms) * time.Millisecond).String()
}

func (d msDuration) Set(s string) error {
	if n, err := strconv.Atoi(s); err == nil {
		*d.ms = n
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d.ms = int(v / time.Millisecond)
	return nil
}

func (d msDuration) Type() string { return "duration" }

// bindFlags registers every run flag on fs, writing into s
func bindFlags(fs *pflag.FlagSet, s *config.Settings) {
	fs.StringVarP(&s.OutputPath, "output", "o", s.OutputPath, "output file or directory (default "+s.OutputDir+")")
	fs.IntVar(&s.FPS, "fps", s.FPS, "frames per second")
	fs.IntVar(&s.HoldLast, "hold-last", s.HoldLast, "extra ticks the final frame stays on screen")
	fs.Var(&s.Format, "format", "video format")
	fs.BoolVar(&s.KeepFrames, "keep-frames", s.KeepFrames, "keep the rendered PNG frames")
	fs.BoolVar(&s.Report, "report", s.Report, "write an HTML summary chart next to the video")

	fs.Var(&s.Basemap, "basemap", "map background")
	fs.Var(&s.Granularity, "interval", "one frame per month or per day")
	fs.Var(&s.Metric, "metric", "weight the heatmap by detection count or fire radiative power")
	fs.IntVar(&s.Width, "width", s.Width, "frame width in pixels")
	fs.Float64Var(&s.BufferKm, "buffer-km", s.BufferKm, "search buffer around the boundary in km")

	fs.Var(msDuration{&s.RequestDelayMS}, "request-delay", "minimum delay between FIRMS requests")
	fs.IntVar(&s.MaxAttempts, "max-attempts", s.MaxAttempts, "attempts per FIRMS request")
	fs.Var(&s.GapPolicy, "gap-policy", "what a chunk that keeps failing does to the run")
	fs.BoolVar(&s.FailOnEmpty, "fail-on-empty", s.FailOnEmpty, "exit with an error when no detections are found")

	fs.BoolVar(&s.UseCache, "cache", s.UseCache, "cache FIRMS responses and basemap tiles")
	fs.StringVar(&s.CacheDir, "cache-dir", s.CacheDir, "cache directory (default "+cache.GetCacheDir()+")")
	fs.Var(&s.CacheBackend, "cache-backend", "cache storage")

	fs.BoolVar(&s.DryRun, "dry-run", false, "print the request plan and exit")
	fs.BoolVar(&s.Verbose, "verbose", false, "print debug logs")
}

// NewRootCommand builds the fire-timelapse command
func NewRootCommand(stdout io.Writer) *cobra.Command {
	flagged := config.DefaultSettings()
	var settingsPath string

	cmd := &cobra.Command{
		Use:   "fire-timelapse <boundary.geojson> <start YYYY-MM-DD> <end YYYY-MM-DD>",
		Short: "Render a NASA FIRMS fire detection timelapse for an area",
		Long: "Fetches MODIS active fire detections from NASA FIRMS for a GeoJSON boundary and\n" +
			"date range and renders them as a monthly or daily heatmap timelapse video.\n\n" +
			"The FIRMS MAP_KEY is read from .env, the FIRMS_MAP_KEY environment variable\n" +
			"or config.json, in that order.",
		Version:       telemetry.AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 3 {
				return common.NewInputError(nil, "expected <boundary-file> <start-date> <end-date>, got %d argument(s)", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := resolveSettings(cmd.Flags(), settingsPath)
			if err != nil {
				return err
			}
			setupLogging(s.Verbose)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			tracker := telemetry.New(os.Getenv, cache.GetCacheDir())
			defer tracker.Close()

			wd, _ := os.Getwd()
			_, err = pipeline.Run(ctx, pipeline.Options{
				Settings:     s,
				BoundaryPath: args[0],
				StartDate:    args[1],
				EndDate:      args[2],
				Credentials:  config.DefaultCredentialSources(wd),
				Stdout:       cmd.OutOrStdout(),
				Tracker:      tracker,
			})
			return err
		},
	}

	cmd.SetOut(stdout)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return common.NewInputError(err, "invalid flag")
	})
	bindFlags(cmd.Flags(), flagged)
	cmd.Flags().StringVar(&settingsPath, "settings", "", "JSON settings file applied before flags")
	return cmd
}

// resolveSettings layers defaults, the optional settings file and the flags
// the user actually set, in that order
func resolveSettings(flags *pflag.FlagSet, settingsPath string) (*config.Settings, error) {
	s, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, err
	}
	if addr := os.Getenv(RedisAddrEnv); addr != "" {
		s.RedisAddr = addr
	}

	layered := pflag.NewFlagSet("settings", pflag.ContinueOnError)
	bindFlags(layered, s)
	var setErr error
	flags.Visit(func(f *pflag.Flag) {
		if layered.Lookup(f.Name) == nil || setErr != nil {
			return
		}
		setErr = layered.Set(f.Name, f.Value.String())
	})
	if setErr != nil {
		return nil, common.NewInputError(setErr, "invalid flag")
	}
	return s, nil
}

func setupLogging(verbose bool) {
	if !verbose {
		log.SetOutput(io.Discard)
		return
	}
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)
}

// Execute runs the command line and returns the process exit code
func Execute() int {
	// Extra variables (INFLUXDB_*, POSTHOG_*) may live in .env as well
	_ = godotenv.Load()

	cmd := NewRootCommand(os.Stdout)
	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return common.ExitCode(err)
}
