package ratelimit

import (
	"log"
	"net/http"
	"time"
)

// RetryStrategy defines the exponential backoff used between attempts
type RetryStrategy struct {
	Base          time.Duration // backoff unit for ordinary transient failures
	RateLimitBase time.Duration // backoff unit after a rate-limit status
	MaxAttempts   int           // total attempts, the first one included
}

// DefaultRetryStrategy returns the default exponential backoff strategy:
// 1s, 2s, 4s... for transient failures and 5s, 10s, 20s... after a 403/429
func DefaultRetryStrategy() *RetryStrategy {
	return &RetryStrategy{
		Base:          time.Second,
		RateLimitBase: 5 * time.Second,
		MaxAttempts:   3,
	}
}

// NewRetryStrategy derives a strategy from a single backoff base; the
// rate-limit base keeps the default 5x ratio
func NewRetryStrategy(base time.Duration, maxAttempts int) *RetryStrategy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryStrategy{Base: base, RateLimitBase: 5 * base, MaxAttempts: maxAttempts}
}

// Backoff returns the wait before retry number attempt (0 for the first
// retry) after a response with the given status (0 when none was received)
func (s *RetryStrategy) Backoff(attempt, status int) time.Duration {
	base := s.Base
	if IsRateLimitStatus(status) {
		base = s.RateLimitBase
	}
	if attempt > 16 {
		attempt = 16
	}
	return base * time.Duration(1<<attempt)
}

// IsRateLimitStatus reports whether an HTTP status signals throttling
func IsRateLimitStatus(status int) bool {
	return status == http.StatusTooManyRequests || // 429
		status == http.StatusForbidden || // FIRMS answers bursts with 403
		status == 509 // Bandwidth Limit Exceeded
}

// RateLimitEvent represents a rate limit occurrence
type RateLimitEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	Provider     string    `json:"provider"`
	StatusCode   int       `json:"statusCode"`
	RetryAttempt int       `json:"retryAttempt"` // 0 for the first occurrence in a streak
}

// Handler records rate-limit responses per provider so the run summary can
// report them. Calls are sequential; no locking.
type Handler struct {
	strategy    *RetryStrategy
	streak      map[string]int
	total       map[string]int
	onRateLimit func(event RateLimitEvent)
}

// NewHandler creates a new rate limit handler
func NewHandler(strategy *RetryStrategy) *Handler {
	if strategy == nil {
		strategy = DefaultRetryStrategy()
	}
	return &Handler{
		strategy: strategy,
		streak:   make(map[string]int),
		total:    make(map[string]int),
	}
}

// Strategy returns the retry strategy in use
func (h *Handler) Strategy() *RetryStrategy { return h.strategy }

// SetOnRateLimit sets the callback for rate limit events
func (h *Handler) SetOnRateLimit(callback func(event RateLimitEvent)) {
	h.onRateLimit = callback
}

// CheckResponse analyzes an HTTP response for rate limit indicators
func (h *Handler) CheckResponse(provider string, resp *http.Response) bool {
	if resp == nil || !IsRateLimitStatus(resp.StatusCode) {
		if h.streak[provider] > 0 {
			log.Printf("[RateLimit] %s rate limit cleared", provider)
		}
		delete(h.streak, provider)
		return false
	}

	event := RateLimitEvent{
		Timestamp:    time.Now(),
		Provider:     provider,
		StatusCode:   resp.StatusCode,
		RetryAttempt: h.streak[provider],
	}
	h.streak[provider]++
	h.total[provider]++

	log.Printf("[RateLimit] %s rate limited (HTTP %d, streak %d)", provider, resp.StatusCode, event.RetryAttempt+1)
	if h.onRateLimit != nil {
		h.onRateLimit(event)
	}
	return true
}

// IsRateLimited reports whether the last response from provider was throttled
func (h *Handler) IsRateLimited(provider string) bool {
	return h.streak[provider] > 0
}

// Count returns how many throttled responses provider returned this run
func (h *Handler) Count(provider string) int {
	return h.total[provider]
}
