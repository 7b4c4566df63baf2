package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/icza/mjpeg"

	"fire-timelapse/internal/config"
	"fire-timelapse/internal/utils/naming"
)

// FFmpegEnv overrides the ffmpeg lookup
const FFmpegEnv = "FFMPEG_BINARY"

// ExportOptions configures the encoders
type ExportOptions struct {
	FrameRate     int // frames per second; one tick per frame
	OutputFormat  config.VideoFormat
	Quality       int  // 0-100 (for lossy formats)
	UseH264       bool // Try to use H.264 encoding via FFmpeg
	EncodeTimeout time.Duration
}

// DefaultExportOptions returns sensible defaults
func DefaultExportOptions() *ExportOptions {
	return &ExportOptions{
		FrameRate:     3,
		OutputFormat:  config.FormatMP4,
		Quality:       90,
		UseH264:       true,
		EncodeTimeout: 5 * time.Minute,
	}
}

// Exporter encodes an ordered list of PNG frames into a video file
type Exporter struct {
	options    *ExportOptions
	ffmpegPath string
}

// CheckFFmpeg checks if FFmpeg is available - first the override, then system
func CheckFFmpeg() (string, bool) {
	if p := os.Getenv(FFmpegEnv); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}

	names := []string{"ffmpeg"}
	if runtime.GOOS == "windows" {
		names = []string{"ffmpeg.exe", "ffmpeg"}
	}

	for _, name := range names {
		path, err := exec.LookPath(name)
		if err == nil {
			return path, true
		}
	}

	// Check common installation directories
	commonPaths := []string{}
	switch runtime.GOOS {
	case "darwin":
		commonPaths = []string{
			"/usr/local/bin/ffmpeg",
			"/opt/homebrew/bin/ffmpeg",
			"/opt/local/bin/ffmpeg",
		}
	case "linux":
		commonPaths = []string{
			"/usr/bin/ffmpeg",
			"/usr/local/bin/ffmpeg",
		}
	case "windows":
		commonPaths = []string{
			"C:\\ffmpeg\\bin\\ffmpeg.exe",
			"C:\\Program Files\\ffmpeg\\bin\\ffmpeg.exe",
		}
	}

	for _, path := range commonPaths {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}

	return "", false
}

// NewExporter creates a new video exporter
func NewExporter(opts *ExportOptions) *Exporter {
	if opts.FrameRate < 1 {
		opts.FrameRate = 1
	}
	if opts.EncodeTimeout <= 0 {
		opts.EncodeTimeout = 5 * time.Minute
	}
	e := &Exporter{options: opts}

	if opts.UseH264 && opts.OutputFormat == config.FormatMP4 {
		path, found := CheckFFmpeg()
		if found {
			e.ffmpegPath = path
			log.Printf("[VideoExport] FFmpeg found at: %s", path)
		} else {
			log.Printf("[VideoExport] FFmpeg not found, will use fallback encoder")
		}
	}
	return e
}

// HasFFmpeg returns true if FFmpeg is available
func (e *Exporter) HasFFmpeg() bool {
	return e.ffmpegPath != ""
}

// FinalPath returns the path the video will end up at; without ffmpeg an
// mp4 request becomes an avi
func (e *Exporter) FinalPath(outputPath string) string {
	if e.options.OutputFormat == config.FormatMP4 && e.ffmpegPath == "" {
		return strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".avi"
	}
	return outputPath
}

// ExportVideo encodes frames, in the given order, to a partial file and
// renames it to its final name only after the encoder succeeded. It
// returns the final path.
func (e *Exporter) ExportVideo(ctx context.Context, frames []string, outputPath string) (string, error) {
	if len(frames) == 0 {
		return "", fmt.Errorf("no frames to export")
	}

	finalPath := e.FinalPath(outputPath)
	partial := naming.PartialPath(finalPath)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	switch e.options.OutputFormat {
	case config.FormatMP4:
		if e.ffmpegPath != "" {
			err = e.exportH264(ctx, frames, partial)
		} else {
			log.Printf("[VideoExport] FFmpeg not available, falling back to MJPEG AVI: %s", finalPath)
			err = e.exportMotionJPEG(frames, partial)
		}
	case config.FormatAVI:
		err = e.exportMotionJPEG(frames, partial)
	case config.FormatGIF:
		err = e.exportGIF(frames, partial)
	default:
		err = fmt.Errorf("unsupported output format: %s (supported: mp4, avi, gif)", e.options.OutputFormat)
	}
	if err != nil {
		os.Remove(partial)
		return "", err
	}

	if err := os.Rename(partial, finalPath); err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("failed to finalise video: %w", err)
	}
	log.Printf("[VideoExport] Video exported: %s", finalPath)
	return finalPath, nil
}

// exportH264 creates an MP4 file with H.264 codec using FFmpeg
func (e *Exporter) exportH264(ctx context.Context, frames []string, outputPath string) error {
	log.Printf("[VideoExport] Exporting H.264 video with %d frames", len(frames))

	// ffmpeg reads a numbered sequence; held frames appear more than once
	tempDir, err := os.MkdirTemp("", "timelapse_frames_*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	for i, src := range frames {
		dst := filepath.Join(tempDir, fmt.Sprintf("frame_%05d.png", i))
		if err := linkOrCopy(src, dst); err != nil {
			return fmt.Errorf("failed to stage frame %d: %w", i, err)
		}
	}

	// Calculate CRF (quality): 0-51, lower is better
	// Map quality 0-100 to CRF 51-0
	crf := 51 - (e.options.Quality * 51 / 100)
	crf = max(0, min(51, crf))

	inputPattern := filepath.Join(tempDir, "frame_%05d.png")
	args := []string{
		"-y", // Overwrite output
		"-framerate", fmt.Sprintf("%d", e.options.FrameRate),
		"-i", inputPattern,
		"-c:v", "libx264", // H.264 codec
		"-preset", "medium", // Encoding speed/quality tradeoff
		"-crf", fmt.Sprintf("%d", crf),
		"-pix_fmt", "yuv420p", // Pixel format for compatibility
		"-movflags", "+faststart", // Enable streaming
		"-f", "mp4",
		outputPath,
	}

	log.Printf("[VideoExport] Running FFmpeg: %s %v", e.ffmpegPath, args)

	ctx, cancel := context.WithTimeout(ctx, e.options.EncodeTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("FFmpeg encoding timed out after %s", e.options.EncodeTimeout)
		}
		log.Printf("[VideoExport] FFmpeg stderr: %s", stderr.String())
		return fmt.Errorf("FFmpeg encoding failed: %w\nStderr: %s", err, stderr.String())
	}

	// Verify output file exists and has content
	info, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("output file not created: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output file is empty")
	}
	log.Printf("[VideoExport] Output file size: %d bytes", info.Size())
	return nil
}

// exportMotionJPEG creates an AVI file with Motion JPEG codec (compatible, plays everywhere)
func (e *Exporter) exportMotionJPEG(frames []string, outputPath string) error {
	first, err := loadFrame(frames[0])
	if err != nil {
		return err
	}
	bounds := first.Bounds()

	writer, err := mjpeg.New(outputPath, int32(bounds.Dx()), int32(bounds.Dy()), int32(e.options.FrameRate))
	if err != nil {
		return fmt.Errorf("failed to create video writer: %w", err)
	}

	for i, path := range frames {
		img := first
		if i > 0 {
			if img, err = loadFrame(path); err != nil {
				writer.Close()
				return err
			}
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.options.Quality}); err != nil {
			writer.Close()
			return fmt.Errorf("failed to encode frame %d as JPEG: %w", i, err)
		}
		if err := writer.AddFrame(buf.Bytes()); err != nil {
			writer.Close()
			return fmt.Errorf("failed to add frame %d: %w", i, err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish AVI: %w", err)
	}
	return nil
}

// exportGIF creates an animated GIF
func (e *Exporter) exportGIF(frames []string, outputPath string) error {
	// Delay in 100ths of a second
	delay := max(1, 100/e.options.FrameRate)

	anim := &gif.GIF{}
	cache := map[string]*image.Paletted{}
	for i, path := range frames {
		paletted, ok := cache[path]
		if !ok {
			img, err := loadFrame(path)
			if err != nil {
				return err
			}
			bounds := img.Bounds()
			paletted = image.NewPaletted(bounds, palette.Plan9)

			// Use Floyd-Steinberg dithering for better quality
			draw.FloydSteinberg.Draw(paletted, bounds, img, bounds.Min)
			cache[path] = paletted
		}
		if i == 0 {
			anim.Config = image.Config{
				ColorModel: paletted.Palette,
				Width:      paletted.Bounds().Dx(),
				Height:     paletted.Bounds().Dy(),
			}
		}
		anim.Image = append(anim.Image, paletted)
		anim.Delay = append(anim.Delay, delay)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := gif.EncodeAll(f, anim); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode GIF: %w", err)
	}
	return f.Close()
}

func loadFrame(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %s: %w", path, err)
	}
	return img, nil
}

func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
