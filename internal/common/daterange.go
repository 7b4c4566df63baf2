package common

import (
	"time"
)

// DateRange is an inclusive span of calendar dates, both at midnight UTC
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange validates start <= end and normalises both to calendar dates
func NewDateRange(start, end time.Time) (DateRange, error) {
	start, end = TruncateDay(start), TruncateDay(end)
	if start.After(end) {
		return DateRange{}, NewInputError(nil, "start date %s is after end date %s",
			FormatISO8601(start), FormatISO8601(end))
	}
	return DateRange{Start: start, End: end}, nil
}

// ParseDateRange parses two YYYY-MM-DD strings into a DateRange
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := ParseISO8601(start)
	if err != nil {
		return DateRange{}, NewInputError(err, "invalid start date %q (expected YYYY-MM-DD)", start)
	}
	e, err := ParseISO8601(end)
	if err != nil {
		return DateRange{}, NewInputError(err, "invalid end date %q (expected YYYY-MM-DD)", end)
	}
	return NewDateRange(s, e)
}

// Days returns the number of calendar days in the range, inclusive
func (r DateRange) Days() int {
	return DaysBetween(r.Start, r.End) + 1
}

// Contains reports whether the calendar day of t lies inside the range
func (r DateRange) Contains(t time.Time) bool {
	d := TruncateDay(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

// String renders the range as "YYYY-MM-DD..YYYY-MM-DD"
func (r DateRange) String() string {
	return FormatISO8601(r.Start) + ".." + FormatISO8601(r.End)
}

// DaysBetween returns the whole number of days from a to b. Both are
// truncated to calendar days first so DST-free UTC arithmetic holds.
func DaysBetween(a, b time.Time) int {
	return int(TruncateDay(b).Sub(TruncateDay(a)).Hours() / 24)
}
