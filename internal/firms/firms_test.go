package firms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fire-timelapse/internal/cache"
	"fire-timelapse/internal/chunk"
	"fire-timelapse/internal/common"
	"fire-timelapse/internal/ratelimit"
)

const testKey = "0123456789abcdef0123456789abcdef"

const sampleCSV = `latitude,longitude,brightness,scan,track,acq_date,acq_time,satellite,instrument,confidence,version,bright_t31,frp,daynight,type
38.5,-120.5,320.1,1.0,1.0,2023-08-01,914,Terra,MODIS,80,6.1NRT,290.0,12.5,D,0
38.6,-120.4,330.2,1.0,1.0,2023-08-02,2105,Aqua,MODIS,55,6.1NRT,288.0,40.0,N,0
38.7,-120.3,not-a-number,1.0,1.0,2023-08-02,2105,Aqua,MODIS,55,6.1NRT,288.0,40.0,N,0
`

var testBound = orb.Bound{Min: orb.Point{-121, 38}, Max: orb.Point{-120, 39}}

func testChunk() chunk.Chunk {
	start, _ := common.ParseISO8601("2023-08-01")
	return chunk.Chunk{Start: start, Days: 10}
}

// newTestClient points a client at srv with millisecond backoff and a pacer
// that records its sleeps instead of blocking
func newTestClient(t *testing.T, srv *httptest.Server, store cache.Store) (*Client, *ratelimit.Pacer, *ratelimit.Handler) {
	t.Helper()
	pacer := ratelimit.NewPacer(300*time.Millisecond).WithClock(time.Now, func(context.Context, time.Duration) error {
		return nil
	})
	strategy := ratelimit.NewRetryStrategy(time.Millisecond, 3)
	limits := ratelimit.NewHandler(strategy)
	c := NewClient(Options{
		BaseURL:  srv.URL + "/api/area/csv",
		MapKey:   testKey,
		Timeout:  5 * time.Second,
		Pacer:    pacer,
		Strategy: strategy,
		Limits:   limits,
		Store:    store,
	})
	return c, pacer, limits
}

func TestParseCSV(t *testing.T) {
	res, err := ParseCSV([]byte(sampleCSV))
	require.NoError(t, err)
	require.Len(t, res.Detections, 2)
	assert.Equal(t, 1, res.Rejected)

	first := res.Detections[0]
	assert.Equal(t, 38.5, first.Latitude)
	assert.Equal(t, "0914", first.AcqTime)
	assert.Equal(t, Day, first.DayNight)
	assert.Equal(t, 80, first.Confidence)
	assert.Equal(t, "Terra", first.Satellite)
	assert.Equal(t, "2023-08-01", common.FormatISO8601(first.AcqDate))
}

func TestParseCSVRejectsOutOfRangeRows(t *testing.T) {
	body := `latitude,longitude,brightness,acq_date,acq_time,confidence,frp,daynight
95.0,10.0,300,2023-08-01,0100,50,1.0,D
10.0,10.0,300,2023-08-01,2460,50,1.0,D
10.0,10.0,300,2023-08-01,0100,150,1.0,D
10.0,10.0,300,2023-08-01,0100,50,-1.0,D
10.0,10.0,300,2023-08-01,0100,50,1.0,X
10.0,10.0,300,2023-13-01,0100,50,1.0,D
10.0,10.0,300,2023-08-01,0100,50,1.0,n
`
	res, err := ParseCSV([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, 6, res.Rejected)
	require.Len(t, res.Detections, 1)
	assert.Equal(t, Night, res.Detections[0].DayNight)
}

func TestParseCSVSentinelAndMalformed(t *testing.T) {
	res, err := ParseCSV([]byte("  No data\n"))
	require.NoError(t, err)
	assert.True(t, res.NoData)
	assert.Empty(t, res.Detections)

	_, err = ParseCSV([]byte("latitude,longitude\n1,2\n"))
	assert.ErrorIs(t, err, ErrMalformed)

	assert.True(t, LooksValid([]byte("No data")))
	assert.True(t, LooksValid([]byte("")))
	assert.True(t, LooksValid([]byte(sampleCSV)))
	assert.False(t, LooksValid([]byte("<html>Service Unavailable</html>")))
	assert.False(t, LooksValid([]byte("latitude,longitude,acq_date\n38.5,-120.5,2023-08-01\n")))
	assert.ErrorContains(t, CheckBody([]byte("latitude,longitude,acq_date\n")), `missing column "acq_time"`)
}

func TestParseCSVRejectsNonFiniteValues(t *testing.T) {
	body := `latitude,longitude,brightness,acq_date,acq_time,confidence,frp,daynight
38.5,-120.5,320.1,2023-08-01,0914,80,NaN,D
38.5,-120.5,Inf,2023-08-01,0914,80,12.5,D
NaN,-120.5,320.1,2023-08-01,0914,80,12.5,D
38.5,-Inf,320.1,2023-08-01,0914,80,12.5,D
38.5,-120.5,320.1,2023-08-01,0914,80,+Inf,N
38.5,-120.5,320.1,2023-08-01,0914,80,12.5,N
`
	res, err := ParseCSV([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Rejected)
	require.Len(t, res.Detections, 1)
	assert.Equal(t, 12.5, res.Detections[0].FRP)
}

func TestDetectionKeyDedupes(t *testing.T) {
	res, err := ParseCSV([]byte(sampleCSV))
	require.NoError(t, err)
	again, err := ParseCSV([]byte(sampleCSV))
	require.NoError(t, err)
	assert.Equal(t, res.Detections[0].Key(), again.Detections[0].Key())
	assert.NotEqual(t, res.Detections[0].Key(), res.Detections[1].Key())
}

func TestFetchChunkBuildsAreaURL(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	c, pacer, _ := newTestClient(t, srv, nil)
	res, err := c.FetchChunk(context.Background(), testChunk(), testBound)
	require.NoError(t, err)

	assert.Equal(t, "/api/area/csv/"+testKey+"/MODIS_SP/-121.000000,38.000000,-120.000000,39.000000/10/2023-08-01", path)
	assert.Len(t, res.Detections, 2)
	assert.Equal(t, 1, res.Rejected)
	assert.False(t, res.FromCache)
	assert.Equal(t, 1, pacer.Calls())
	assert.Equal(t, 1, c.Stats().APICalls)
}

func TestFetchChunkNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("No data"))
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv, nil)
	res, err := c.FetchChunk(context.Background(), testChunk(), testBound)
	require.NoError(t, err)
	assert.True(t, res.NoData)
	assert.Empty(t, res.Detections)
	assert.Equal(t, 1, c.Stats().NoData)
}

func TestFetchChunkRetriesRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	c, pacer, limits := newTestClient(t, srv, nil)
	res, err := c.FetchChunk(context.Background(), testChunk(), testBound)
	require.NoError(t, err)
	assert.Len(t, res.Detections, 2)

	assert.EqualValues(t, 2, hits.Load())
	assert.Equal(t, 2, pacer.Calls(), "every attempt is paced")
	assert.Equal(t, 1, c.Stats().Retries)
	assert.Equal(t, 1, limits.Count(common.ProviderFIRMS))
	assert.False(t, limits.IsRateLimited(common.ProviderFIRMS))
}

func TestFetchChunkExhaustionBecomesFetchError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, pacer, _ := newTestClient(t, srv, nil)
	_, err := c.FetchChunk(context.Background(), testChunk(), testBound)

	var fe *common.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Attempts)
	assert.Equal(t, http.StatusServiceUnavailable, fe.Status)
	assert.EqualValues(t, 3, hits.Load())
	assert.Equal(t, 3, pacer.Calls())
	assert.Equal(t, common.ExitFatal, common.ExitCode(err))
}

func TestFetchChunkRetriesMalformedBody(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			_, _ = w.Write([]byte("<html>upstream hiccup</html>"))
			return
		}
		_, _ = w.Write([]byte("No data"))
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv, nil)
	res, err := c.FetchChunk(context.Background(), testChunk(), testBound)
	require.NoError(t, err)
	assert.True(t, res.NoData)
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetchChunkPersistentMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv, nil)
	_, err := c.FetchChunk(context.Background(), testChunk(), testBound)

	var fe *common.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Attempts)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFetchChunkRetriesHeaderMissingColumns(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("latitude,longitude,acq_date\n38.5,-120.5,2023-08-01\n"))
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv, nil)
	_, err := c.FetchChunk(context.Background(), testChunk(), testBound)

	var fe *common.FetchError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.EqualValues(t, 3, hits.Load())
	assert.Equal(t, int(hits.Load()), fe.Attempts)
	assert.Equal(t, http.StatusOK, fe.Status)
	assert.Equal(t, 2, c.Stats().Retries)
}

func TestFetchChunkDoesNotRetryBadRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Invalid MAP_KEY."))
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv, nil)
	_, err := c.FetchChunk(context.Background(), testChunk(), testBound)

	var fe *common.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, fe.Attempts)
	assert.Equal(t, http.StatusBadRequest, fe.Status)
	assert.Contains(t, fe.Error(), "Invalid MAP_KEY")
	assert.EqualValues(t, 1, hits.Load())
}

func TestFetchChunkCacheHitSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	store, err := cache.NewDiskStore(t.TempDir(), ".csv", 10, 30)
	require.NoError(t, err)
	c, pacer, _ := newTestClient(t, srv, store)
	ctx := context.Background()

	first, err := c.FetchChunk(ctx, testChunk(), testBound)
	require.NoError(t, err)
	second, err := c.FetchChunk(ctx, testChunk(), testBound)
	require.NoError(t, err)

	assert.False(t, first.FromCache)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Detections, second.Detections)
	assert.EqualValues(t, 1, hits.Load())
	assert.Equal(t, 1, pacer.Calls(), "cache hits are not paced")
	assert.Equal(t, 1, c.Stats().CacheHits)
	assert.NotContains(t, c.CacheKey(testChunk(), testBound), testKey)
}

func TestFetchChunkFailuresAreNotCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("No data"))
	}))
	defer srv.Close()

	store, err := cache.NewDiskStore(t.TempDir(), ".csv", 10, 30)
	require.NoError(t, err)
	c, _, _ := newTestClient(t, srv, store)

	_, err = c.FetchChunk(context.Background(), testChunk(), testBound)
	require.Error(t, err)
	res, err := c.FetchChunk(context.Background(), testChunk(), testBound)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.True(t, res.NoData)
}

func TestFetchAllRecordsGaps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the second chunk always fails
		if slices.Contains([]string{"2023-01-11"}, lastSegment(r.URL.Path)) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("No data"))
	}))
	defer srv.Close()

	r, err := common.ParseDateRange("2023-01-01", "2023-01-25")
	require.NoError(t, err)
	chunks := chunk.NewPlanner(0).Plan(r)

	c, _, _ := newTestClient(t, srv, nil)
	var seen []string
	out, err := c.FetchAll(context.Background(), chunks, testBound, false, func(ch chunk.Chunk, err error) {
		seen = append(seen, common.FormatISO8601(ch.Start))
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2023-01-01", "2023-01-11", "2023-01-21"}, seen)
	assert.Len(t, out.Results, 2)
	require.Len(t, out.Gaps, 1)
	assert.Equal(t, "2023-01-11", common.FormatISO8601(out.Gaps[0].Start))

	c, _, _ = newTestClient(t, srv, nil)
	out, err = c.FetchAll(context.Background(), chunks, testBound, true, nil)
	assert.True(t, errors.Is(err, common.ErrGapAbort))
	assert.Len(t, out.Results, 1)
	assert.Len(t, out.Gaps, 1)
}

func TestFetchChunkHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchChunk(ctx, testChunk(), testBound)
	assert.ErrorIs(t, err, context.Canceled)
}

func lastSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
