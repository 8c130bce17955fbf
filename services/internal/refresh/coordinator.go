package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/tawriver/floodwatch/services/internal/models"
)

// DefaultMinInterval is the cooldown between accepted refresh triggers.
const DefaultMinInterval = 300 * time.Second

// Syncer brings a single station up to date.
type Syncer interface {
	SyncStation(ctx context.Context, st models.Station) (models.Outcome, error)
}

// CooldownError rejects a trigger that arrived before the cooldown elapsed.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("refresh cooldown active, retry after %ds", e.Seconds())
}

// Seconds is the remaining cooldown rounded up to whole seconds.
func (e *CooldownError) Seconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// Coordinator admits refresh triggers no more often than its minimum
// interval and syncs every station in configured order.
type Coordinator struct {
	syncer      Syncer
	stations    []models.Station
	minInterval time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu          sync.Mutex
	lastRefresh time.Time
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the coordinator logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator builds a coordinator. A non-positive minInterval uses the
// default.
func NewCoordinator(syncer Syncer, stations []models.Station, minInterval time.Duration, opts ...Option) *Coordinator {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	c := &Coordinator{
		syncer:      syncer,
		stations:    stations,
		minInterval: minInterval,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stations returns the configured stations in sync order.
func (c *Coordinator) Stations() []models.Station {
	return c.stations
}

// Trigger runs a refresh cycle unless the previous accepted trigger is
// younger than the minimum interval, in which case it returns a
// *CooldownError without syncing anything.
func (c *Coordinator) Trigger(ctx context.Context) (models.Report, error) {
	if err := c.admit(); err != nil {
		return models.Report{}, err
	}

	c.logger.Info("refresh started", "stations", len(c.stations))
	outcomes := make([]models.Outcome, 0, len(c.stations))
	for _, st := range c.stations {
		outcomes = append(outcomes, c.syncOne(ctx, st))
	}

	report := models.NewReport(c.now(), outcomes)
	c.logger.Info("refresh finished", "stations_updated", report.StationsUpdated)
	return report, nil
}

func (c *Coordinator) admit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.lastRefresh.IsZero() {
		if elapsed := now.Sub(c.lastRefresh); elapsed < c.minInterval {
			return &CooldownError{RetryAfter: c.minInterval - elapsed}
		}
	}
	c.lastRefresh = now
	return nil
}

// syncOne isolates a station: errors and panics become an error outcome.
func (c *Coordinator) syncOne(ctx context.Context, st models.Station) (outcome models.Outcome) {
	log := c.logger.With("station", st.ID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("station sync panicked", "panic", r)
			outcome = models.Outcome{ID: st.ID, Label: st.Label, Error: fmt.Sprint(r)}
		}
	}()

	out, err := c.syncer.SyncStation(ctx, st)
	if err != nil {
		log.Warn("station sync failed", "error", err)
		return models.Outcome{ID: st.ID, Label: st.Label, Error: err.Error()}
	}
	return out
}
