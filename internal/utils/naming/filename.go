package naming

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"fire-timelapse/internal/common"
)

// OutputPrefix starts every video and report filename
const OutputPrefix = "OUTPUT"

// PartialMarker is inserted before the extension while a file is being written
const PartialMarker = ".partial"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9\-]+`)

// SanitizeName turns an AOI name into a filename-safe token
func SanitizeName(name string) string {
	s := strings.Trim(unsafeChars.ReplaceAllString(strings.TrimSpace(name), "_"), "_")
	if s == "" {
		return "aoi"
	}
	if len(s) > 64 {
		s = strings.TrimRight(s[:64], "_")
	}
	return s
}

// GenerateVideoFilename creates the deterministic video filename
// Format: OUTPUT_{start}_{end}_{aoi}{suffix}.{ext}
func GenerateVideoFilename(start, end time.Time, aoiName, suffix, ext string) string {
	return fmt.Sprintf("%s_%s_%s_%s%s.%s",
		OutputPrefix,
		common.FormatISO8601(start),
		common.FormatISO8601(end),
		SanitizeName(aoiName),
		suffix,
		strings.TrimPrefix(ext, "."))
}

// GenerateReportFilename creates the summary chart filename
// Format: OUTPUT_{start}_{end}_{aoi}_summary.html
func GenerateReportFilename(start, end time.Time, aoiName string) string {
	return GenerateVideoFilename(start, end, aoiName, "_summary", "html")
}

// GenerateFramesDirName creates a per-run frames directory name
// Format: frames_{aoi}_{start}_{end}_{metric}
func GenerateFramesDirName(start, end time.Time, aoiName, metric string) string {
	return fmt.Sprintf("frames_%s_%s_%s_%s",
		SanitizeName(aoiName),
		start.Format(common.CompactDate),
		end.Format(common.CompactDate),
		metric)
}

// PartialPath returns where a file is written before its final rename:
// out/video.mp4 becomes out/video.partial.mp4
func PartialPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + PartialMarker + ext
}

// IsPartial reports whether path names an unfinished output
func IsPartial(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(strings.TrimSuffix(base, filepath.Ext(base)), PartialMarker)
}
