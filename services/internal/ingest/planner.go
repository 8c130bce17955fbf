package ingest

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/tawriver/floodwatch/services/internal/ea"
)

const (
	DefaultChunkDays       = 28
	DefaultMaxEmptyWindows = 3
	DefaultPause           = 300 * time.Millisecond
)

// Window is an inclusive range of calendar days (UTC).
type Window struct {
	Start time.Time
	End   time.Time
}

// Query returns the date-range query covering the window.
func (w Window) Query() ea.Query {
	return ea.RangeQuery(w.Start, w.End)
}

// WindowFunc fetches one window and reports how many readings it returned.
type WindowFunc func(ctx context.Context, w Window) (int, error)

// Planner splits long date ranges into bounded windows and spaces the
// requests it issues.
type Planner struct {
	chunkDays int
	maxEmpty  int
	limiter   *rate.Limiter
}

// NewPlanner returns a planner issuing at most one request per pause. A
// non-positive pause disables spacing.
func NewPlanner(chunkDays, maxEmptyWindows int, pause time.Duration) *Planner {
	if chunkDays <= 0 {
		chunkDays = DefaultChunkDays
	}
	if maxEmptyWindows <= 0 {
		maxEmptyWindows = DefaultMaxEmptyWindows
	}
	limit := rate.Inf
	if pause > 0 {
		limit = rate.Every(pause)
	}
	return &Planner{
		chunkDays: chunkDays,
		maxEmpty:  maxEmptyWindows,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// Wait blocks until the next request may be issued.
func (p *Planner) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Backward walks from now back to now-lookbackDays, newest window first. It
// stops early once maxEmptyWindows consecutive windows came back empty. It
// returns the number of windows fetched.
func (p *Planner) Backward(ctx context.Context, now time.Time, lookbackDays int, fetch WindowFunc) (int, error) {
	end := day(now)
	limit := end.AddDate(0, 0, -lookbackDays)

	windows, empty := 0, 0
	for end.After(limit) && empty < p.maxEmpty {
		start := end.AddDate(0, 0, -p.chunkDays)
		if start.Before(limit) {
			start = limit
		}
		if err := p.Wait(ctx); err != nil {
			return windows, err
		}
		n, err := fetch(ctx, Window{Start: start, End: end})
		windows++
		if err != nil {
			return windows, err
		}
		if n > 0 {
			empty = 0
		} else {
			empty++
		}
		end = start.AddDate(0, 0, -1)
	}
	return windows, nil
}

// Forward walks from the day of from up to the day of now, oldest window
// first. Every window is attempted; empty windows do not stop the walk.
func (p *Planner) Forward(ctx context.Context, from, now time.Time, fetch WindowFunc) (int, error) {
	start := day(from)
	today := day(now)

	windows := 0
	for !start.After(today) {
		end := start.AddDate(0, 0, p.chunkDays)
		if end.After(today) {
			end = today
		}
		if err := p.Wait(ctx); err != nil {
			return windows, err
		}
		_, err := fetch(ctx, Window{Start: start, End: end})
		windows++
		if err != nil {
			return windows, err
		}
		start = end.AddDate(0, 0, 1)
	}
	return windows, nil
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
