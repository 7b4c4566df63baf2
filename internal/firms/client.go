package firms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/paulmach/orb"

	"fire-timelapse/internal/cache"
	"fire-timelapse/internal/chunk"
	"fire-timelapse/internal/common"
	"fire-timelapse/internal/ratelimit"
)

// DefaultBaseURL is the FIRMS area CSV endpoint
const DefaultBaseURL = "https://firms.modaps.eosdis.nasa.gov/api/area/csv"

// UserAgent identifies the tool to FIRMS and tile servers
const UserAgent = "fire-timelapse/1.0 (+https://firms.modaps.eosdis.nasa.gov)"

// ChunkResult is the outcome of one successful chunk request
type ChunkResult struct {
	Chunk      chunk.Chunk
	Detections []Detection
	NoData     bool
	FromCache  bool
	Rejected   int
}

// Stats counts what the client did during a run
type Stats struct {
	APICalls  int // network attempts, retries included
	CacheHits int
	Retries   int
	NoData    int
	Rejected  int
}

// Options configures a Client
type Options struct {
	BaseURL  string
	MapKey   string
	Source   string
	Timeout  time.Duration
	Pacer    *ratelimit.Pacer
	Strategy *ratelimit.RetryStrategy
	Limits   *ratelimit.Handler
	Store    cache.Store // nil disables caching
}

// Client fetches FIRMS detections one chunk at a time. It is not safe for
// concurrent use: requests are deliberately sequential and paced.
type Client struct {
	baseURL  string
	mapKey   string
	source   string
	http     *retryablehttp.Client
	pacer    *ratelimit.Pacer
	strategy *ratelimit.RetryStrategy
	limits   *ratelimit.Handler
	store    cache.Store
	stats    Stats
	attempts int // network attempts of the chunk in flight
}

// attemptsError carries the retry outcome out of the retryablehttp client
type attemptsError struct {
	attempts int
	status   int
	err      error
}

func (e *attemptsError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("status %d", e.status)
}

func (e *attemptsError) Unwrap() error { return e.err }

// NewClient creates a FIRMS client with system proxy support
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Source == "" {
		opts.Source = common.SourceMODISSP
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Pacer == nil {
		opts.Pacer = ratelimit.NewPacer(ratelimit.DefaultRequestDelay)
	}
	if opts.Strategy == nil {
		opts.Strategy = ratelimit.DefaultRetryStrategy()
	}
	if opts.Limits == nil {
		opts.Limits = ratelimit.NewHandler(opts.Strategy)
	}
	if opts.Store == nil {
		opts.Store = cache.Nop{}
	}

	c := &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		mapKey:   opts.MapKey,
		source:   opts.Source,
		pacer:    opts.Pacer,
		strategy: opts.Strategy,
		limits:   opts.Limits,
		store:    opts.Store,
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Timeout:   opts.Timeout,
		Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
	}
	rc.Logger = nil
	rc.RetryMax = opts.Strategy.MaxAttempts - 1
	rc.RequestLogHook = c.beforeAttempt
	rc.CheckRetry = c.checkRetry
	rc.Backoff = c.backoff
	rc.ErrorHandler = func(resp *http.Response, err error, numTries int) (*http.Response, error) {
		status := 0
		if resp != nil {
			status = resp.StatusCode
			resp.Body.Close()
			if err == nil && status == http.StatusOK {
				err = ErrMalformed
			}
		}
		return nil, &attemptsError{attempts: numTries, status: status, err: err}
	}
	c.http = rc

	return c
}

// Stats returns the counters accumulated so far
func (c *Client) Stats() Stats { return c.stats }

// RequestURL builds the area API URL for one chunk
func (c *Client) RequestURL(ch chunk.Chunk, b orb.Bound) string {
	return fmt.Sprintf("%s/%s/%s/%s/%d/%s",
		c.baseURL, c.mapKey, c.source, bboxParam(b), ch.Days, common.FormatISO8601(ch.Start))
}

// CacheKey identifies a chunk request without the MAP_KEY
func (c *Client) CacheKey(ch chunk.Chunk, b orb.Bound) string {
	return cache.Key(c.source, bboxParam(b), strconv.Itoa(ch.Days), common.FormatISO8601(ch.Start))
}

func bboxParam(b orb.Bound) string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.Min[0], b.Min[1], b.Max[0], b.Max[1])
}

// FetchChunk returns the detections for one chunk. A cache hit skips both
// the pacer and the network. When every attempt fails a *common.FetchError
// is returned and the caller decides whether the gap is tolerable.
func (c *Client) FetchChunk(ctx context.Context, ch chunk.Chunk, b orb.Bound) (ChunkResult, error) {
	key := c.CacheKey(ch, b)
	if body, ok := c.store.Get(ctx, key); ok {
		parsed, err := ParseCSV(body)
		if err == nil {
			c.stats.CacheHits++
			log.Printf("[Fetch] %s served from cache", ch)
			return c.result(ch, parsed, true), nil
		}
		log.Printf("[Fetch] Ignoring corrupt cache entry for %s: %v", ch, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.RequestURL(ch, b), nil)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	c.attempts = 0
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ChunkResult{}, ctx.Err()
		}
		fe := &common.FetchError{Start: ch.Start, Days: ch.Days, Attempts: c.attempts, Err: err}
		var ae *attemptsError
		if errors.As(err, &ae) {
			fe.Attempts, fe.Status, fe.Err = ae.attempts, ae.status, ae.err
		}
		return ChunkResult{}, fe
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChunkResult{}, &common.FetchError{Start: ch.Start, Days: ch.Days, Attempts: c.attempts, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 120 {
			snippet = snippet[:120]
		}
		return ChunkResult{}, &common.FetchError{
			Start: ch.Start, Days: ch.Days, Attempts: c.attempts, Status: resp.StatusCode,
			Err: fmt.Errorf("unexpected response: %s", snippet),
		}
	}

	parsed, err := ParseCSV(body)
	if err != nil {
		return ChunkResult{}, &common.FetchError{Start: ch.Start, Days: ch.Days, Attempts: c.attempts, Status: resp.StatusCode, Err: err}
	}

	if err := c.store.Set(ctx, key, body); err != nil {
		log.Printf("[Cache] Failed to store %s: %v", ch, err)
	}

	return c.result(ch, parsed, false), nil
}

func (c *Client) result(ch chunk.Chunk, parsed ParseResult, fromCache bool) ChunkResult {
	if parsed.NoData {
		c.stats.NoData++
	}
	c.stats.Rejected += parsed.Rejected
	return ChunkResult{
		Chunk:      ch,
		Detections: parsed.Detections,
		NoData:     parsed.NoData,
		FromCache:  fromCache,
		Rejected:   parsed.Rejected,
	}
}

// Fetched collects the outcome of a whole run of chunks
type Fetched struct {
	Results []ChunkResult
	Gaps    []*common.FetchError
}

// FetchAll requests every chunk in order, one at a time. Failed chunks are
// recorded as gaps; with abortOnGap the first gap stops the run and
// common.ErrGapAbort is returned alongside what was fetched so far.
func (c *Client) FetchAll(ctx context.Context, chunks iter.Seq[chunk.Chunk], b orb.Bound, abortOnGap bool, onChunk func(ch chunk.Chunk, err error)) (Fetched, error) {
	var out Fetched
	for ch := range chunks {
		res, err := c.FetchChunk(ctx, ch, b)
		if onChunk != nil {
			onChunk(ch, err)
		}
		if err == nil {
			out.Results = append(out.Results, res)
			continue
		}

		var fe *common.FetchError
		if !errors.As(err, &fe) {
			return out, err
		}
		log.Printf("[Fetch] Coverage gap: %v", fe)
		out.Gaps = append(out.Gaps, fe)
		if abortOnGap {
			return out, fmt.Errorf("%w: %v", common.ErrGapAbort, fe)
		}
	}
	return out, nil
}

// beforeAttempt paces every attempt, retries included
func (c *Client) beforeAttempt(_ retryablehttp.Logger, req *http.Request, attempt int) {
	if err := c.pacer.Wait(req.Context()); err != nil {
		return
	}
	c.stats.APICalls++
	c.attempts++
	if attempt > 0 {
		log.Printf("[Fetch] Attempt %d for %s", attempt+1, redactURL(req.URL.Path, c.mapKey))
	}
}

// checkRetry treats throttling, server errors, timeouts and bodies that are
// neither CSV nor the sentinel as transient
func (c *Client) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		log.Printf("[Fetch] Request failed: %v", err)
		return true, nil
	}

	c.limits.CheckResponse(common.ProviderFIRMS, resp)
	switch {
	case ratelimit.IsRateLimitStatus(resp.StatusCode), resp.StatusCode >= 500:
		return true, nil
	case resp.StatusCode != http.StatusOK:
		return false, nil
	}

	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if readErr != nil {
		log.Printf("[Fetch] Truncated response body: %v", readErr)
		return true, nil
	}
	if err := CheckBody(body); err != nil {
		log.Printf("[Fetch] Malformed response body (%d bytes): %v", len(body), err)
		return true, nil
	}
	return false, nil
}

func (c *Client) backoff(_, _ time.Duration, attemptNum int, resp *http.Response) time.Duration {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	wait := c.strategy.Backoff(attemptNum, status)
	c.stats.Retries++
	log.Printf("[Fetch] Retrying in %s (status %d)", wait, status)
	return wait
}

func redactURL(path, key string) string {
	if key == "" {
		return path
	}
	return strings.ReplaceAll(path, key, "<MAP_KEY>")
}
