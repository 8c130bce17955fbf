package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tawriver/floodwatch/services/internal/ea"
	"github.com/tawriver/floodwatch/services/internal/models"
	"github.com/tawriver/floodwatch/services/internal/utils"
)

const (
	DefaultBootstrapDays = 28
	// DefaultCursorHorizonDays is the largest gap, in whole days, still
	// fetched with a single since= query.
	DefaultCursorHorizonDays = 5
)

// Source fetches raw readings of one measure.
type Source interface {
	Readings(ctx context.Context, measureID string, q ea.Query) ([]models.RawReading, error)
}

// Tables loads and rewrites station tables.
type Tables interface {
	Load(st models.Station) ([]models.Reading, error)
	Rewrite(st models.Station, readings []models.Reading) error
}

// Sink receives readings after they were persisted.
type Sink interface {
	StoreReadings(ctx context.Context, st models.Station, readings []models.Reading) error
}

// Mode is the fetch strategy chosen for a station.
type Mode string

const (
	ModeBootstrap Mode = "bootstrap"
	ModeCursor    Mode = "cursor"
	ModeChunked   Mode = "chunked"
)

// Engine reconciles station tables with the remote source.
type Engine struct {
	source  Source
	tables  Tables
	planner *Planner
	sink    Sink
	logger  *slog.Logger
	now     func() time.Time

	bootstrapDays     int
	cursorHorizonDays int
}

// Option customises an Engine.
type Option func(*Engine)

// WithPlanner replaces the default planner.
func WithPlanner(p *Planner) Option {
	return func(e *Engine) { e.planner = p }
}

// WithSink mirrors persisted readings to s.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an engine over source and tables.
func NewEngine(source Source, tables Tables, opts ...Option) *Engine {
	e := &Engine{
		source:            source,
		tables:            tables,
		logger:            slog.Default(),
		now:               time.Now,
		bootstrapDays:     DefaultBootstrapDays,
		cursorHorizonDays: DefaultCursorHorizonDays,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.planner == nil {
		e.planner = NewPlanner(DefaultChunkDays, DefaultMaxEmptyWindows, DefaultPause)
	}
	return e
}

// ChooseMode picks the fetch strategy for a table whose newest timestamp is
// latest (empty when the table has no rows).
func (e *Engine) ChooseMode(latest string, now time.Time) (Mode, time.Time, error) {
	if latest == "" {
		return ModeBootstrap, time.Time{}, nil
	}
	last, err := time.Parse(time.RFC3339, latest)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parse last timestamp %q: %w", latest, err)
	}
	gapDays := int(now.Sub(last) / (24 * time.Hour))
	if gapDays <= e.cursorHorizonDays {
		return ModeCursor, last, nil
	}
	return ModeChunked, last, nil
}

// SyncStation brings one station's table up to date and reports how many
// readings were added. The table is rewritten only when something new
// arrived.
func (e *Engine) SyncStation(ctx context.Context, st models.Station) (models.Outcome, error) {
	outcome := models.Outcome{ID: st.ID, Label: st.Label}

	existing, err := e.tables.Load(st)
	if err != nil {
		return outcome, fmt.Errorf("load table: %w", err)
	}
	latest, _ := utils.LatestTimestamp(existing)

	now := e.now().UTC()
	mode, last, err := e.ChooseMode(latest, now)
	if err != nil {
		return outcome, err
	}

	items, err := e.fetch(ctx, st, mode, latest, last, now)
	if err != nil {
		return outcome, err
	}

	fresh := utils.FilterNewReadings(st, items, existing)
	outcome.NewReadings = len(fresh)
	outcome.Total = len(existing)

	log := e.logger.With("station", st.ID, "mode", string(mode))
	if len(fresh) == 0 {
		log.Info("no new readings", "total", outcome.Total)
		return outcome, nil
	}

	all := make([]models.Reading, 0, len(existing)+len(fresh))
	all = append(all, existing...)
	all = append(all, fresh...)
	utils.SortReadings(all)

	if err := e.tables.Rewrite(st, all); err != nil {
		return outcome, fmt.Errorf("rewrite table: %w", err)
	}
	outcome.Total = len(all)
	log.Info("table updated", "new", outcome.NewReadings, "total", outcome.Total)

	e.mirror(ctx, st, fresh)
	return outcome, nil
}

func (e *Engine) fetch(ctx context.Context, st models.Station, mode Mode, latest string, last, now time.Time) ([]models.RawReading, error) {
	measure := st.MeasureID()
	switch mode {
	case ModeBootstrap:
		if err := e.planner.Wait(ctx); err != nil {
			return nil, err
		}
		w := Window{Start: day(now).AddDate(0, 0, -e.bootstrapDays), End: day(now)}
		return e.source.Readings(ctx, measure, w.Query())

	case ModeCursor:
		if err := e.planner.Wait(ctx); err != nil {
			return nil, err
		}
		return e.source.Readings(ctx, measure, ea.SinceQuery(latest))

	default:
		var items []models.RawReading
		_, err := e.planner.Forward(ctx, last, now, func(ctx context.Context, w Window) (int, error) {
			batch, err := e.source.Readings(ctx, measure, w.Query())
			if err != nil {
				return 0, err
			}
			items = append(items, batch...)
			return len(batch), nil
		})
		return items, err
	}
}

func (e *Engine) mirror(ctx context.Context, st models.Station, readings []models.Reading) {
	if e.sink == nil || len(readings) == 0 {
		return
	}
	if err := e.sink.StoreReadings(ctx, st, readings); err != nil {
		e.logger.Warn("mirror readings failed", "station", st.ID, "error", err)
	}
}
