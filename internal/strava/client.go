// Package strava fetches activities from the Strava v3 API with retry
// and rate-limit handling.
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mpelikan/stridedash/internal/logging"
)

const (
	baseURL = "https://www.strava.com/api/v3"
	perPage = 200
)

const (
	defaultMaxRetries     = 5
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 5 * time.Minute
)

// Activity is the slice of the Strava activity payload the dashboard
// stores. SportType is the modern field; the legacy Type field only
// backfills very old activities the API still serves without it.
type Activity struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Distance           float64   `json:"distance"`
	MovingTime         int       `json:"moving_time"`
	ElapsedTime        int       `json:"elapsed_time"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
	Type               string    `json:"type"`
	SportType          string    `json:"sport_type"`
	StartDate          time.Time `json:"start_date"`
}

// RateLimitInfo is the rate limit state parsed from response headers.
type RateLimitInfo struct {
	Limit15Min    int
	Usage15Min    int
	LimitDaily    int
	UsageDaily    int
	IsRateLimited bool

	TimeUntil15MinReset time.Duration
	TimeUntilDailyReset time.Duration
	RecommendedWait     time.Duration
}

// Headroom kept below the published limits so interactive requests
// still have budget while a sync is running.
const rateLimitBuffer = 5

// ErrRateLimited indicates a 429 that survived all retries.
var ErrRateLimited = fmt.Errorf("rate limited")

// Strava windows reset at 0, 15, 30 and 45 minutes past the hour.
func timeUntilNext15MinWindow(now time.Time) time.Duration {
	minute := now.Minute()
	nextBoundary := ((minute / 15) + 1) * 15

	var minutesUntil int
	if nextBoundary >= 60 {
		minutesUntil = 60 - minute
	} else {
		minutesUntil = nextBoundary - minute
	}

	wait := time.Duration(minutesUntil)*time.Minute -
		time.Duration(now.Second())*time.Second -
		time.Duration(now.Nanosecond())*time.Nanosecond
	return wait + 2*time.Second
}

func timeUntilMidnightUTC(now time.Time) time.Duration {
	nowUTC := now.UTC()
	midnight := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day()+1, 0, 0, 0, 0, time.UTC)
	return midnight.Sub(nowUTC) + 2*time.Second
}

// IsApproaching15MinLimit reports whether usage is within the buffer
// of the 15-minute limit.
func (info *RateLimitInfo) IsApproaching15MinLimit() bool {
	return info.Limit15Min > 0 && info.Usage15Min >= info.Limit15Min-rateLimitBuffer
}

// IsApproachingDailyLimit reports whether usage is within the buffer
// of the daily limit.
func (info *RateLimitInfo) IsApproachingDailyLimit() bool {
	return info.LimitDaily > 0 && info.UsageDaily >= info.LimitDaily-rateLimitBuffer
}

// FetchResult reports progress after each fetched page.
type FetchResult struct {
	Activities   []Activity
	RateLimit    RateLimitInfo
	Page         int
	TotalFetched int
}

// ProgressCallback is invoked after each page is fetched.
type ProgressCallback func(result FetchResult)

// RetryConfig holds retry/backoff settings.
type RetryConfig struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: defaultMaxRetries,
		MinWait:    defaultInitialBackoff,
		MaxWait:    defaultMaxBackoff,
	}
}

// Client is a Strava API client with automatic retry and backoff.
type Client struct {
	httpClient  *retryablehttp.Client
	accessToken string
	baseURL     string
	rateMu      sync.RWMutex
	rateLimit   RateLimitInfo
}

// NewClient creates a client with the given retry configuration.
func NewClient(accessToken string, cfg RetryConfig) *Client {
	return newClient(accessToken, baseURL, cfg)
}

// NewClientWithBaseURL creates a client against a custom base URL, for
// tests.
func NewClientWithBaseURL(accessToken, customBaseURL string) *Client {
	return newClient(accessToken, customBaseURL, DefaultRetryConfig())
}

func newClient(accessToken, baseURL string, cfg RetryConfig) *Client {
	log := logging.Logger
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = cfg.MinWait
	client.RetryWaitMax = cfg.MaxWait
	client.Logger = &logging.LeveledLogger{}

	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return false, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return true, nil
		case resp.StatusCode >= 500:
			return true, nil
		}
		return false, nil
	}

	// Rate-limited responses wait for the window reset instead of
	// exponential backoff; retrying sooner just burns the budget.
	client.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					wait := time.Duration(seconds) * time.Second
					log.Info().Dur("wait", wait).Int("attempt", attemptNum).Msg("rate limited, honoring Retry-After")
					return wait
				}
			}
			wait := timeUntilNext15MinWindow(time.Now())
			log.Info().Dur("wait", wait).Int("attempt", attemptNum).Msg("rate limited, waiting for window reset")
			return wait
		}

		wait := min * time.Duration(1<<uint(attemptNum))
		if wait > max {
			wait = max
		}
		log.Info().Dur("wait", wait).Int("attempt", attemptNum).Msg("backing off before retry")
		return wait
	}

	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, retry int) {
		if retry > 0 {
			log.Info().Str("url", req.URL.Path).Int("attempt", retry+1).Msg("retrying request")
		}
		if logging.IsTraceEnabled() {
			log.Debug().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Str("headers", formatHeaders(req.Header)).
				Msg("request headers")
		}
	}

	client.ResponseLogHook = func(_ retryablehttp.Logger, resp *http.Response) {
		rateLimit := parseRateLimitHeaders(resp.Header, time.Now())
		if logging.IsTraceEnabled() {
			log.Debug().
				Int("status", resp.StatusCode).
				Str("url", resp.Request.URL.Path).
				Str("headers", formatHeaders(resp.Header)).
				Msg("response headers")
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			log.Warn().
				Str("url", resp.Request.URL.Path).
				Str("15min_usage", fmt.Sprintf("%d/%d", rateLimit.Usage15Min, rateLimit.Limit15Min)).
				Str("daily_usage", fmt.Sprintf("%d/%d", rateLimit.UsageDaily, rateLimit.LimitDaily)).
				Msg("rate limited by API")
		}
	}

	return &Client{
		httpClient:  client,
		accessToken: accessToken,
		baseURL:     baseURL,
	}
}

// WithRetryConfig overrides retry settings, useful for tests.
func (c *Client) WithRetryConfig(maxRetries int, minWait, maxWait time.Duration) *Client {
	c.httpClient.RetryMax = maxRetries
	c.httpClient.RetryWaitMin = minWait
	c.httpClient.RetryWaitMax = maxWait
	return c
}

// GetRateLimit returns the current rate limit info with reset times
// recalculated against the current clock.
func (c *Client) GetRateLimit() RateLimitInfo {
	c.rateMu.RLock()
	info := c.rateLimit
	c.rateMu.RUnlock()

	now := time.Now()
	info.TimeUntil15MinReset = timeUntilNext15MinWindow(now)
	info.TimeUntilDailyReset = timeUntilMidnightUTC(now)

	info.RecommendedWait = 0
	switch {
	case info.Limit15Min > 0 && info.Usage15Min >= info.Limit15Min:
		info.IsRateLimited = true
		info.RecommendedWait = info.TimeUntil15MinReset
	case info.LimitDaily > 0 && info.UsageDaily >= info.LimitDaily:
		info.IsRateLimited = true
		info.RecommendedWait = info.TimeUntilDailyReset
	case info.IsApproaching15MinLimit():
		info.RecommendedWait = info.TimeUntil15MinReset
	case info.IsApproachingDailyLimit():
		info.RecommendedWait = info.TimeUntilDailyReset
	}
	return info
}

// WaitForRateLimit blocks until rate limits allow more requests or the
// context is cancelled.
func (c *Client) WaitForRateLimit(ctx context.Context) error {
	rateLimit := c.GetRateLimit()
	if rateLimit.RecommendedWait <= 0 {
		return nil
	}

	logging.Info("waiting for rate limit window to reset",
		"wait", rateLimit.RecommendedWait.String(),
		"15min_usage", fmt.Sprintf("%d/%d", rateLimit.Usage15Min, rateLimit.Limit15Min),
		"daily_usage", fmt.Sprintf("%d/%d", rateLimit.UsageDaily, rateLimit.LimitDaily))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(rateLimit.RecommendedWait):
		return nil
	}
}

func (c *Client) updateRateLimit(resp *http.Response) RateLimitInfo {
	rateLimit := parseRateLimitHeaders(resp.Header, time.Now())
	if resp.StatusCode == http.StatusTooManyRequests {
		rateLimit.IsRateLimited = true
	}
	c.rateMu.Lock()
	c.rateLimit = rateLimit
	c.rateMu.Unlock()
	return rateLimit
}

// FetchAllActivities pages through the athlete's entire history.
func (c *Client) FetchAllActivities(ctx context.Context, progress ProgressCallback) ([]Activity, error) {
	return c.fetchActivities(ctx, 0, progress)
}

// FetchActivitiesSince pages through activities starting after the
// given instant, for delta syncs.
func (c *Client) FetchActivitiesSince(ctx context.Context, since time.Time, progress ProgressCallback) ([]Activity, error) {
	return c.fetchActivities(ctx, since.Unix(), progress)
}

func (c *Client) fetchActivities(ctx context.Context, afterEpoch int64, progress ProgressCallback) ([]Activity, error) {
	var all []Activity
	page := 1

	for {
		activities, rateLimit, err := c.fetchActivitiesPage(ctx, page, afterEpoch)

		if progress != nil {
			progress(FetchResult{
				Activities:   activities,
				RateLimit:    rateLimit,
				Page:         page,
				TotalFetched: len(all) + len(activities),
			})
		}
		if err != nil {
			return all, err
		}
		if len(activities) == 0 {
			return all, nil
		}

		all = append(all, activities...)
		page++
	}
}

func (c *Client) fetchActivitiesPage(ctx context.Context, page int, after int64) ([]Activity, RateLimitInfo, error) {
	url := fmt.Sprintf("%s/athlete/activities?page=%d&per_page=%d", c.baseURL, page, perPage)
	if after > 0 {
		url += fmt.Sprintf("&after=%d", after)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, RateLimitInfo{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, RateLimitInfo{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	rateLimit := c.updateRateLimit(resp)

	if resp.StatusCode == http.StatusTooManyRequests {
		// Retries exhausted
		return nil, rateLimit, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, rateLimit, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var activities []Activity
	if err := json.NewDecoder(resp.Body).Decode(&activities); err != nil {
		return nil, rateLimit, fmt.Errorf("decoding response: %w", err)
	}
	return activities, rateLimit, nil
}

// minPositive prefers positive values: zero/unset defers to the other
// operand.
func minPositive(a, b int) int {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	return min(a, b)
}

func parsePair(header string) (int, int) {
	var first, second int
	parts := strings.Split(header, ",")
	if len(parts) >= 1 {
		first, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
	}
	if len(parts) >= 2 {
		second, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	return first, second
}

func parseRateLimitHeaders(headers http.Header, now time.Time) RateLimitInfo {
	var info RateLimitInfo

	// Strava publishes general X-RateLimit-* headers and a lower
	// read-specific X-ReadRateLimit-* set; the effective limit is the
	// more restrictive, the effective usage the higher.
	generalLimit15Min, generalLimitDaily := parsePair(headers.Get("X-RateLimit-Limit"))
	generalUsage15Min, generalUsageDaily := parsePair(headers.Get("X-RateLimit-Usage"))
	readLimit15Min, readLimitDaily := parsePair(headers.Get("X-ReadRateLimit-Limit"))
	readUsage15Min, readUsageDaily := parsePair(headers.Get("X-ReadRateLimit-Usage"))

	info.Limit15Min = minPositive(generalLimit15Min, readLimit15Min)
	info.LimitDaily = minPositive(generalLimitDaily, readLimitDaily)
	info.Usage15Min = max(generalUsage15Min, readUsage15Min)
	info.UsageDaily = max(generalUsageDaily, readUsageDaily)

	info.TimeUntil15MinReset = timeUntilNext15MinWindow(now)
	info.TimeUntilDailyReset = timeUntilMidnightUTC(now)

	switch {
	case info.Limit15Min > 0 && info.Usage15Min >= info.Limit15Min:
		info.IsRateLimited = true
		info.RecommendedWait = info.TimeUntil15MinReset
	case info.LimitDaily > 0 && info.UsageDaily >= info.LimitDaily:
		info.IsRateLimited = true
		info.RecommendedWait = info.TimeUntilDailyReset
	case info.IsApproaching15MinLimit():
		info.RecommendedWait = info.TimeUntil15MinReset
	case info.IsApproachingDailyLimit():
		info.RecommendedWait = info.TimeUntilDailyReset
	}

	return info
}

// formatHeaders renders headers for trace logging with sensitive
// values redacted.
func formatHeaders(headers http.Header) string {
	if len(headers) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		value := strings.Join(headers[k], ", ")
		switch strings.ToLower(k) {
		case "authorization", "cookie", "set-cookie":
			value = "[REDACTED]"
		}
		fmt.Fprintf(&sb, "%s: %q", k, value)
	}
	sb.WriteString("}")
	return sb.String()
}
