package video

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"time"

	"fire-timelapse/internal/config"
)

// DefaultHoldLast is how many extra ticks the final frame stays on screen
const DefaultHoldLast = 3

// Frame is one rendered period image on disk
type Frame struct {
	Path string
	Date time.Time // start of the period
}

// ProgressCallback is called during video export to report progress
type ProgressCallback func(current, total int, percent int, status string)

// LogCallback is called to emit log messages
type LogCallback func(message string)

// Encoder turns an ordered frame list into a video and returns its path
type Encoder interface {
	ExportVideo(ctx context.Context, frames []string, outputPath string) (string, error)
}

// Config holds configuration for the video Manager
type Config struct {
	Format           config.VideoFormat
	FPS              int
	HoldLast         int
	Quality          int
	ProgressCallback ProgressCallback
	LogCallback      LogCallback
	Encoder          Encoder // nil builds an Exporter from the fields above
}

// Manager orders frames and drives the encoder
type Manager struct {
	holdLast         int
	encoder          Encoder
	progressCallback ProgressCallback
	logCallback      LogCallback
}

// NewManager creates a new video export manager
func NewManager(cfg Config) *Manager {
	enc := cfg.Encoder
	if enc == nil {
		opts := DefaultExportOptions()
		if cfg.FPS > 0 {
			opts.FrameRate = cfg.FPS
		}
		if cfg.Format != "" {
			opts.OutputFormat = cfg.Format
		}
		if cfg.Quality > 0 {
			opts.Quality = cfg.Quality
		}
		enc = NewExporter(opts)
	}
	return &Manager{
		holdLast:         max(cfg.HoldLast, 0),
		encoder:          enc,
		progressCallback: cfg.ProgressCallback,
		logCallback:      cfg.LogCallback,
	}
}

// emitLog sends a log message via callback if available
func (m *Manager) emitLog(message string) {
	if m.logCallback != nil {
		m.logCallback(message)
	} else {
		log.Println(message)
	}
}

// emitProgress sends progress update via callback if available
func (m *Manager) emitProgress(current, total, percent int, status string) {
	if m.progressCallback != nil {
		m.progressCallback(current, total, percent, status)
	}
}

// Sequence sorts frames chronologically and repeats the last one holdLast
// more times
func Sequence(frames []Frame, holdLast int) []string {
	sorted := slices.Clone(frames)
	slices.SortStableFunc(sorted, func(a, b Frame) int { return a.Date.Compare(b.Date) })

	paths := make([]string, 0, len(sorted)+holdLast)
	for _, f := range sorted {
		paths = append(paths, f.Path)
	}
	if len(paths) > 0 {
		last := paths[len(paths)-1]
		for i := 0; i < holdLast; i++ {
			paths = append(paths, last)
		}
	}
	return paths
}

// Compile encodes frames into outputPath and returns the written file
func (m *Manager) Compile(ctx context.Context, frames []Frame, outputPath string) (string, error) {
	if len(frames) == 0 {
		return "", fmt.Errorf("no frames to compile")
	}
	for _, f := range frames {
		if _, err := os.Stat(f.Path); err != nil {
			return "", fmt.Errorf("frame missing: %w", err)
		}
	}

	seq := Sequence(frames, m.holdLast)
	log.Printf("[VideoExport] Compiling %d frame(s) (+%d hold) into %s", len(frames), m.holdLast, filepath.Base(outputPath))
	m.emitProgress(len(frames), len(frames), 99, "Encoding video...")

	path, err := m.encoder.ExportVideo(ctx, seq, outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to export video: %w", err)
	}

	m.emitLog(fmt.Sprintf("Video exported successfully: %s", path))
	m.emitProgress(len(frames), len(frames), 100, fmt.Sprintf("Video export complete: %s", filepath.Base(path)))
	return path, nil
}
