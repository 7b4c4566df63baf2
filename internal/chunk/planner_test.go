package chunk

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fire-timelapse/internal/common"
)

func mustRange(t *testing.T, start, end string) common.DateRange {
	t.Helper()
	r, err := common.ParseDateRange(start, end)
	require.NoError(t, err)
	return r
}

func day(s string) time.Time {
	d, _ := common.ParseISO8601(s)
	return d
}

func TestPlanSplitsIntoTenDayWindows(t *testing.T) {
	chunks := NewPlanner(0).Collect(mustRange(t, "2023-01-01", "2023-01-25"))
	assert.Equal(t, []Chunk{
		{Start: day("2023-01-01"), Days: 10},
		{Start: day("2023-01-11"), Days: 10},
		{Start: day("2023-01-21"), Days: 5},
	}, chunks)
}

func TestPlanSplitsAtYearBoundary(t *testing.T) {
	chunks := NewPlanner(0).Collect(mustRange(t, "2022-12-27", "2023-01-05"))
	require.Len(t, chunks, 2)
	assert.Equal(t, day("2022-12-31"), chunks[0].End())
	assert.Equal(t, 5, chunks[0].Days)
	assert.Equal(t, day("2023-01-01"), chunks[1].Start)
	assert.Equal(t, 5, chunks[1].Days)
}

func TestPlanSingleDayAndShortRange(t *testing.T) {
	chunks := NewPlanner(0).Collect(mustRange(t, "2023-06-15", "2023-06-15"))
	assert.Equal(t, []Chunk{{Start: day("2023-06-15"), Days: 1}}, chunks)

	chunks = NewPlanner(0).Collect(mustRange(t, "2023-06-15", "2023-06-21"))
	assert.Equal(t, []Chunk{{Start: day("2023-06-15"), Days: 7}}, chunks)
}

func TestPlanHonoursProviderLookback(t *testing.T) {
	chunks := NewPlanner(5).Collect(mustRange(t, "2023-03-01", "2023-03-12"))
	assert.Equal(t, []Chunk{
		{Start: day("2023-03-01"), Days: 5},
		{Start: day("2023-03-06"), Days: 5},
		{Start: day("2023-03-11"), Days: 2},
	}, chunks)

	// a lookback above the API maximum does not raise the span
	assert.Equal(t, MaxChunkDays, NewPlanner(30).MaxDays)
}

func TestPlanIsRestartableAndStopsEarly(t *testing.T) {
	r := mustRange(t, "2020-01-01", "2020-12-31")
	seq := NewPlanner(0).Plan(r)

	var first []Chunk
	for c := range seq {
		first = append(first, c)
	}
	var second []Chunk
	for c := range seq {
		second = append(second, c)
	}
	assert.Equal(t, first, second)

	n := 0
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

// Property check over random ranges: contiguous, exact cover, span <= 10, no year straddle.
func TestPlanCoversEveryDayExactlyOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := day("2018-01-01")

	for i := 0; i < 500; i++ {
		start := base.AddDate(0, 0, rng.Intn(2500))
		end := start.AddDate(0, 0, rng.Intn(800))
		r, err := common.NewDateRange(start, end)
		require.NoError(t, err)

		maxDays := 1 + rng.Intn(MaxChunkDays)
		chunks := NewPlanner(maxDays).Collect(r)
		require.NotEmpty(t, chunks)

		assert.Equal(t, r.Start, chunks[0].Start)
		assert.Equal(t, r.End, chunks[len(chunks)-1].End())

		total := 0
		for j, c := range chunks {
			assert.GreaterOrEqual(t, c.Days, 1)
			assert.LessOrEqual(t, c.Days, maxDays)
			assert.Equal(t, c.Start.Year(), c.End().Year(), "chunk %s straddles a year", c)
			if j > 0 {
				assert.Equal(t, chunks[j-1].End().AddDate(0, 0, 1), c.Start, "gap or overlap before %s", c)
			}
			total += c.Days
		}
		assert.Equal(t, r.Days(), total)
	}
}

func TestChunkString(t *testing.T) {
	c := Chunk{Start: day("2023-01-11"), Days: 10}
	assert.Equal(t, "2023-01-11..2023-01-20 (10d)", c.String())
}
