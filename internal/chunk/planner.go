package chunk

import (
	"fmt"
	"iter"
	"time"

	"fire-timelapse/internal/common"
)

// MaxChunkDays is the longest window the FIRMS area API accepts in one call
const MaxChunkDays = 10

// Chunk is one request window: Days consecutive calendar days from Start
type Chunk struct {
	Start time.Time
	Days  int
}

// End returns the last calendar day covered by the chunk
func (c Chunk) End() time.Time {
	return c.Start.AddDate(0, 0, c.Days-1)
}

// String renders the chunk as "YYYY-MM-DD..YYYY-MM-DD (Nd)"
func (c Chunk) String() string {
	return fmt.Sprintf("%s..%s (%dd)", common.FormatISO8601(c.Start), common.FormatISO8601(c.End()), c.Days)
}

// Planner partitions date ranges into request windows
type Planner struct {
	// MaxDays caps each chunk's span; always within 1..MaxChunkDays
	MaxDays int
}

// NewPlanner returns a planner whose span is MaxChunkDays, further capped by
// maxLookback when the provider enforces one (0 means no extra cap)
func NewPlanner(maxLookback int) Planner {
	span := MaxChunkDays
	if maxLookback > 0 && maxLookback < span {
		span = maxLookback
	}
	return Planner{MaxDays: span}
}

// Plan walks r from Start to End in steps of MaxDays, clamping the final
// chunk to End and cutting any window that would cross 31 Dec into two.
// The sequence is lazy, finite and restartable; the same range always
// yields the same chunks.
func (p Planner) Plan(r common.DateRange) iter.Seq[Chunk] {
	span := p.MaxDays
	if span < 1 || span > MaxChunkDays {
		span = MaxChunkDays
	}

	return func(yield func(Chunk) bool) {
		cur := r.Start
		for !cur.After(r.End) {
			days := span
			if remaining := common.DaysBetween(cur, r.End) + 1; remaining < days {
				days = remaining
			}
			yearEnd := time.Date(cur.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
			if toYearEnd := common.DaysBetween(cur, yearEnd) + 1; toYearEnd < days {
				days = toYearEnd
			}

			if !yield(Chunk{Start: cur, Days: days}) {
				return
			}
			cur = cur.AddDate(0, 0, days)
		}
	}
}

// Collect returns the planned chunks as a slice
func (p Planner) Collect(r common.DateRange) []Chunk {
	var chunks []Chunk
	for c := range p.Plan(r) {
		chunks = append(chunks, c)
	}
	return chunks
}
