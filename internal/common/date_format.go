package common

import (
	"fmt"
	"strings"
	"time"
)

// Standard date format constants
const (
	// ISO8601Date is the date format used for CLI arguments, FIRMS requests,
	// daily period labels and output file names
	ISO8601Date = "2006-01-02"

	// MonthLabel is the label format for monthly periods
	MonthLabel = "2006-01"

	// MonthTitle is the human-readable month shown in frame stats boxes
	MonthTitle = "January 2006"

	// TimelineTick is the short month label used under timeline bars
	TimelineTick = "Jan '06"

	// CompactDate is used in daily frame file names
	CompactDate = "20060102"
)

// ParseISO8601 parses a date string in ISO 8601 format (YYYY-MM-DD)
func ParseISO8601(dateStr string) (time.Time, error) {
	dateStr = strings.TrimSpace(dateStr)
	if dateStr == "" {
		return time.Time{}, fmt.Errorf("date string is empty")
	}
	return time.Parse(ISO8601Date, dateStr)
}

// FormatISO8601 formats a time.Time to ISO 8601 date string (YYYY-MM-DD)
func FormatISO8601(t time.Time) string {
	return t.Format(ISO8601Date)
}

// FormatMonthTitle formats the month of t as "August 2023"
func FormatMonthTitle(t time.Time) string {
	return t.Format(MonthTitle)
}

// FormatTimelineTick formats the month of t as "Aug '23"
func FormatTimelineTick(t time.Time) string {
	return t.Format(TimelineTick)
}

// Today returns the current UTC calendar date at midnight
func Today() time.Time {
	return TruncateDay(time.Now().UTC())
}

// TruncateDay drops the clock part of t and returns midnight UTC of the same calendar day
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthStart returns the first day of t's month
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ValidateISO8601 checks if a date string is in valid ISO 8601 format
func ValidateISO8601(dateStr string) bool {
	_, err := ParseISO8601(dateStr)
	return err == nil
}
