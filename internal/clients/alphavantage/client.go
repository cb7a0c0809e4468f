// Package alphavantage fetches harvest payloads from the Alpha Vantage API
// and classifies every response into the harvest outcome taxonomy.
package alphavantage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aristath/harvester/internal/domain"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL  = "https://www.alphavantage.co/query"
	defaultInterval = "60min"
	// Bodies larger than this are truncated; full-month intraday responses stay well below it
	maxBodyBytes = 64 << 20
)

// Phrases that mark an "Information" body as a quota signal rather than an empty result
var limitMarkers = []string{
	"rate limit",
	"thank you for using alpha vantage",
	"api call frequency",
	"premium",
	"api key",
}

// Client is the Alpha Vantage fetch collaborator
type Client struct {
	baseURL    string
	interval   string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger

	mu       sync.Mutex
	usage    map[domain.Credential]int
	resetsAt time.Time
	now      func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL overrides the API endpoint
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithMinInterval spaces requests at least d apart. Zero disables pacing.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithIntradayInterval sets the TIME_SERIES_INTRADAY interval (1min … 60min)
func WithIntradayInterval(interval string) Option {
	return func(c *Client) {
		if interval != "" {
			c.interval = interval
		}
	}
}

// NewClient creates a new Alpha Vantage client
func NewClient(log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:  defaultBaseURL,
		interval: defaultInterval,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Inf, 1),
		log:     log.With().Str("component", "alphavantage").Logger(),
		usage:   make(map[domain.Credential]int),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.resetsAt = nextMidnightUTC(c.now())
	return c
}

// Fetch implements domain.Fetcher
func (c *Client) Fetch(ctx context.Context, task domain.Task, cred domain.Credential) domain.Outcome {
	q, err := c.buildQuery(task, cred)
	if err != nil {
		return domain.Transient(err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Transient(fmt.Errorf("request pacing: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.params.Encode(), nil)
	if err != nil {
		return domain.Transient(fmt.Errorf("failed to build request: %w", err))
	}

	c.countRequest(cred)
	c.log.Debug().
		Str("function", q.params.Get("function")).
		Str("entity", task.Entity).
		Str("period", task.PeriodString()).
		Str("credential", cred.Mask()).
		Msg("Requesting")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Transient(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domain.Transient(fmt.Errorf("failed to read response: %w", err))
	}

	return c.classify(task.Kind, resp.StatusCode, body, q.dataKey)
}

// classify maps an HTTP response onto the outcome taxonomy
func (c *Client) classify(kind domain.ResourceKind, status int, body []byte, dataKey string) domain.Outcome {
	if status == http.StatusTooManyRequests {
		return domain.RateLimited(ErrRateLimitExceeded{Message: "HTTP 429"})
	}
	if status < 200 || status > 299 {
		return domain.Transient(ErrHTTPStatus{StatusCode: status})
	}

	if err := checkAPIError(body); err != nil {
		var limitErr ErrRateLimitExceeded
		if errors.As(err, &limitErr) {
			return domain.RateLimited(err)
		}
		// The query itself is rejected (unknown symbol, bad inputs); other keys get the same answer
		var apiErr ErrAPI
		if errors.As(err, &apiErr) {
			return domain.NoData(apiErr.Message)
		}
		return domain.Transient(err)
	}

	result := gjson.ParseBytes(body)

	data := field(result, dataKey)

	if info := result.Get("Information"); info.Exists() && !hasData(data) {
		// News answers a query with nothing to report with an Information note
		if kind == domain.KindNewsSentiment && !isLimitMessage(info.String()) {
			return domain.NoData(info.String())
		}
		return domain.RateLimited(ErrRateLimitExceeded{Message: info.String()})
	}

	if !hasData(data) {
		return domain.NoData(fmt.Sprintf("response has no %q", dataKey))
	}

	return domain.Success(body)
}

// checkAPIError inspects a body for the API's in-band error signals.
// Returns ErrRateLimitExceeded for quota notes, ErrAPI for "Error Message"
// bodies and a plain error for anything that is not a JSON object.
func checkAPIError(body []byte) error {
	trimmed := bytes.TrimSpace(body)

	if bytes.Contains(bytes.ToLower(trimmed), []byte("thank you for using alpha vantage")) && !gjson.ValidBytes(trimmed) {
		return ErrRateLimitExceeded{Message: string(trimmed)}
	}
	if !gjson.ValidBytes(trimmed) || len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("malformed response body (%d bytes)", len(trimmed))
	}

	result := gjson.ParseBytes(trimmed)
	if note := result.Get("Note"); note.Exists() {
		return ErrRateLimitExceeded{Message: note.String()}
	}
	if msg := result.Get("Error Message"); msg.Exists() {
		return ErrAPI{Message: msg.String()}
	}

	return nil
}

// field looks up a top-level key verbatim, without gjson path syntax
func field(result gjson.Result, key string) gjson.Result {
	var found gjson.Result
	result.ForEach(func(k, v gjson.Result) bool {
		if k.String() == key {
			found = v
			return false
		}
		return true
	})
	return found
}

func hasData(v gjson.Result) bool {
	if !v.Exists() {
		return false
	}
	switch {
	case v.IsArray():
		return len(v.Array()) > 0
	case v.IsObject():
		return len(v.Map()) > 0
	case v.Type == gjson.String:
		s := strings.TrimSpace(v.String())
		return s != "" && s != "None"
	}
	return v.Type != gjson.Null
}

func isLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range limitMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (c *Client) countRequest(cred domain.Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetIfNeeded()
	c.usage[cred]++
}

// resetIfNeeded clears the counters at midnight UTC, when daily quotas reset.
// Caller must hold c.mu.
func (c *Client) resetIfNeeded() {
	if now := c.now(); !now.Before(c.resetsAt) {
		c.usage = make(map[domain.Credential]int)
		c.resetsAt = nextMidnightUTC(now)
	}
}

// Usage returns today's request count per credential, keyed by masked credential
func (c *Client) Usage() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetIfNeeded()

	out := make(map[string]int, len(c.usage))
	for cred, n := range c.usage {
		out[cred.Mask()] += n
	}
	return out
}

// nextMidnightUTC returns the next 00:00 UTC after t
func nextMidnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
