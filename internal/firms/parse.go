package firms

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"

	"fire-timelapse/internal/common"
)

// NoDataSentinel is the literal body FIRMS returns for an empty window
const NoDataSentinel = "No data"

// requiredColumns must appear in the CSV header
var requiredColumns = []string{
	"latitude", "longitude", "acq_date", "acq_time",
	"brightness", "confidence", "frp", "daynight",
}

// ErrMalformed reports a body that is neither CSV nor the no-data sentinel
var ErrMalformed = errors.New("malformed FIRMS response")

// ParseResult holds the rows of one response that passed validation
type ParseResult struct {
	Detections []Detection
	Rejected   int  // rows dropped by validation
	NoData     bool // body was the explicit "No data" sentinel
}

// IsNoData reports whether body is the "No data" sentinel
func IsNoData(body []byte) bool {
	return strings.EqualFold(string(bytes.TrimSpace(body)), NoDataSentinel)
}

// CheckBody is the check run before a body is accepted: the sentinel, an
// empty body, or a CSV header carrying every required column
func CheckBody(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || IsNoData(trimmed) {
		return nil
	}
	header, err := newReader(trimmed).Read()
	if err != nil {
		return fmt.Errorf("%w: failed to read CSV header: %v", ErrMalformed, err)
	}
	_, err = columnIndex(header)
	return err
}

// LooksValid reports whether CheckBody accepts body
func LooksValid(body []byte) bool {
	return CheckBody(body) == nil
}

func newReader(body []byte) *csv.Reader {
	reader := csv.NewReader(bytes.NewReader(body))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	return reader
}

// columnIndex maps lower-cased header names to their position
func columnIndex(header []string) (map[string]int, error) {
	colMap := make(map[string]int, len(header))
	for i, col := range header {
		colMap[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := colMap[col]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrMalformed, col)
		}
	}
	return colMap, nil
}

// ParseCSV converts a FIRMS area response into detections. Rows with bad
// numbers or out-of-range values are rejected and counted, never returned.
func ParseCSV(body []byte) (ParseResult, error) {
	if IsNoData(body) {
		return ParseResult{NoData: true}, nil
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ParseResult{}, nil
	}

	reader := newReader(trimmed)
	header, err := reader.Read()
	if err != nil {
		return ParseResult{}, fmt.Errorf("%w: failed to read CSV header: %v", ErrMalformed, err)
	}
	colMap, err := columnIndex(header)
	if err != nil {
		return ParseResult{}, err
	}

	var result ParseResult
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			log.Printf("[Fetch] Skipping unreadable CSV line %d: %v", line, err)
			result.Rejected++
			continue
		}

		d, err := parseRow(row, colMap)
		if err != nil {
			log.Printf("[Fetch] Rejecting CSV line %d: %v", line, err)
			result.Rejected++
			continue
		}
		result.Detections = append(result.Detections, d)
	}

	return result, nil
}

// parseRow converts a CSV row to a Detection, validating every field
func parseRow(row []string, colMap map[string]int) (Detection, error) {
	field := func(name string) string {
		idx, ok := colMap[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	lat, err := parseFinite(field("latitude"))
	if err != nil {
		return Detection{}, fmt.Errorf("invalid latitude: %w", err)
	}
	lon, err := parseFinite(field("longitude"))
	if err != nil {
		return Detection{}, fmt.Errorf("invalid longitude: %w", err)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Detection{}, fmt.Errorf("coordinates %g,%g out of range", lat, lon)
	}

	acqDate, err := common.ParseISO8601(field("acq_date"))
	if err != nil {
		return Detection{}, fmt.Errorf("invalid acq_date: %w", err)
	}

	acqTime := field("acq_time")
	hhmm, err := strconv.Atoi(acqTime)
	if err != nil || hhmm < 0 || hhmm > 2359 || hhmm%100 > 59 {
		return Detection{}, fmt.Errorf("invalid acq_time %q", acqTime)
	}
	acqTime = fmt.Sprintf("%04d", hhmm)

	brightness, err := parseFinite(field("brightness"))
	if err != nil {
		return Detection{}, fmt.Errorf("invalid brightness: %w", err)
	}

	confidence, err := strconv.Atoi(field("confidence"))
	if err != nil {
		return Detection{}, fmt.Errorf("invalid confidence: %w", err)
	}
	if confidence < 0 || confidence > 100 {
		return Detection{}, fmt.Errorf("confidence %d outside 0..100", confidence)
	}

	frp, err := parseFinite(field("frp"))
	if err != nil {
		return Detection{}, fmt.Errorf("invalid frp: %w", err)
	}
	if frp < 0 {
		return Detection{}, fmt.Errorf("negative frp %g", frp)
	}

	dn := DayNight(strings.ToUpper(field("daynight")))
	if dn != Day && dn != Night {
		return Detection{}, fmt.Errorf("invalid daynight %q", dn)
	}

	return Detection{
		Latitude:   lat,
		Longitude:  lon,
		AcqDate:    acqDate,
		AcqTime:    acqTime,
		Brightness: brightness,
		Confidence: confidence,
		FRP:        frp,
		DayNight:   dn,
		Satellite:  field("satellite"),
	}, nil
}

// parseFinite rejects NaN and the infinities strconv accepts
func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}
