package ea

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tawriver/floodwatch/services/internal/models"
)

const (
	DefaultBaseURL = "https://environment.data.gov.uk/flood-monitoring"
	DefaultRetries = 3
	DefaultTimeout = 60 * time.Second

	// Result caps. A 28 day window at 15 minute resolution is well under
	// the range cap, and the cursor horizon is at most a few days.
	RangeLimit  = 100000
	CursorLimit = 10000

	dateLayout = "2006-01-02"
)

// ErrExhausted is returned under RaiseOnExhaustion when every attempt failed.
var ErrExhausted = errors.New("retries exhausted")

// ExhaustionPolicy decides what a fetch reports once its retries run out.
type ExhaustionPolicy int

const (
	// RaiseOnExhaustion returns an error wrapping ErrExhausted.
	RaiseOnExhaustion ExhaustionPolicy = iota
	// AbsentOnExhaustion returns a nil slice and a nil error.
	AbsentOnExhaustion
)

// StatusError is a non-2xx response from the source.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.Status)
}

// Query selects readings either by an inclusive date range or by a cursor.
type Query struct {
	Start time.Time
	End   time.Time
	Since string
}

// RangeQuery selects readings on the calendar days start..end inclusive.
func RangeQuery(start, end time.Time) Query {
	return Query{Start: start, End: end}
}

// SinceQuery selects readings after the given timestamp.
func SinceQuery(ts string) Query {
	return Query{Since: ts}
}

// IsCursor reports whether q is a since= query.
func (q Query) IsCursor() bool {
	return q.Since != ""
}

func (q Query) String() string {
	if q.IsCursor() {
		return "since " + q.Since
	}
	return q.Start.UTC().Format(dateLayout) + ".." + q.End.UTC().Format(dateLayout)
}

func (q Query) encode() string {
	v := url.Values{}
	if q.IsCursor() {
		v.Set("since", q.Since)
		v.Set("_limit", fmt.Sprint(CursorLimit))
	} else {
		v.Set("startdate", q.Start.UTC().Format(dateLayout))
		v.Set("enddate", q.End.UTC().Format(dateLayout))
		v.Set("_limit", fmt.Sprint(RangeLimit))
	}
	return v.Encode() + "&_sorted"
}

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Retries    int
	Policy     ExhaustionPolicy
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client reads measure readings from the flood-monitoring API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retries    int
	policy     ExhaustionPolicy
	logger     *slog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// NewClient builds an API client.
func NewClient(opts Options) *Client {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	retries := opts.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: httpClient,
		retries:    retries,
		policy:     opts.Policy,
		logger:     logger,
		sleep:      sleepContext,
		jitter: func() time.Duration {
			return time.Duration(rand.Float64() * float64(time.Second))
		},
	}
}

// Readings fetches the readings of measureID selected by q, retrying
// transport, status and decode failures with exponential backoff. What is
// returned once the retries run out depends on the client's policy.
func (c *Client) Readings(ctx context.Context, measureID string, q Query) ([]models.RawReading, error) {
	endpoint := fmt.Sprintf("%s/id/measures/%s/readings?%s", c.baseURL, url.PathEscape(measureID), q.encode())

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		items, err := c.fetch(ctx, endpoint)
		if err == nil {
			return items, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		c.logger.Warn("readings request failed",
			"measure", measureID, "query", q.String(),
			"attempt", attempt+1, "of", c.retries, "error", err)

		if attempt < c.retries-1 {
			if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
				return nil, err
			}
		}
	}

	if c.policy == AbsentOnExhaustion {
		c.logger.Warn("giving up on readings request", "measure", measureID, "query", q.String())
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s %s: %w", ErrExhausted, measureID, q.String(), lastErr)
}

func (c *Client) backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt)))*time.Second + c.jitter()
}

func (c *Client) fetch(ctx context.Context, endpoint string) ([]models.RawReading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build readings request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request readings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	var payload readingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode readings: %w", err)
	}
	return payload.normalize(), nil
}

type readingsResponse struct {
	Items []item `json:"items"`
}

type item struct {
	DateTime string          `json:"dateTime"`
	Value    json.RawMessage `json:"value"`
}

func (r readingsResponse) normalize() []models.RawReading {
	out := make([]models.RawReading, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, models.RawReading{
			DateTime: it.DateTime,
			Value:    literal(it.Value),
		})
	}
	return out
}

// literal renders a JSON value as the text written to a table: numbers keep
// their source representation, strings are unquoted, null becomes empty.
// An array keeps its first element; objects and empty arrays become empty
// and are dropped before persistence.
func literal(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || strings.HasPrefix(s, "{") {
		return ""
	}
	if strings.HasPrefix(s, "[") {
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil || len(elems) == 0 {
			return ""
		}
		if first := strings.TrimSpace(string(elems[0])); strings.HasPrefix(first, "[") {
			return ""
		}
		return literal(elems[0])
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return ""
		}
		return strings.TrimSpace(str)
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
