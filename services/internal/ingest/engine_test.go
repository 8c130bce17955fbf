package ingest

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tawriver/floodwatch/services/internal/ea"
	"github.com/tawriver/floodwatch/services/internal/logger"
	"github.com/tawriver/floodwatch/services/internal/models"
	"github.com/tawriver/floodwatch/services/internal/store"
)

var (
	fixedNow    = time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	sticklepath = models.Station{ID: "50149", Label: "Sticklepath", Category: models.CategoryLevel}
	barnstaple  = models.Station{ID: "50198", Label: "Barnstaple (Tidal)", Category: models.CategoryTidal, MeasureOverride: "50198-level-tidal_level-i-15_min-mAOD"}
)

type fakeSource struct {
	mu       sync.Mutex
	measures []string
	queries  []ea.Query
	respond  func(q ea.Query) ([]models.RawReading, error)
}

func (f *fakeSource) Readings(ctx context.Context, measureID string, q ea.Query) ([]models.RawReading, error) {
	f.mu.Lock()
	f.measures = append(f.measures, measureID)
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.respond == nil {
		return nil, nil
	}
	return f.respond(q)
}

func (f *fakeSource) cursorQueries() int {
	n := 0
	for _, q := range f.queries {
		if q.IsCursor() {
			n++
		}
	}
	return n
}

type recordingSink struct {
	got []models.Reading
	err error
}

func (s *recordingSink) StoreReadings(ctx context.Context, st models.Station, readings []models.Reading) error {
	s.got = append(s.got, readings...)
	return s.err
}

func newTestEngine(t *testing.T, src Source, opts ...Option) (*Engine, *store.Store) {
	t.Helper()
	tables, err := store.New(t.TempDir())
	require.NoError(t, err)
	base := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(logger.Discard()),
		WithPlanner(NewPlanner(DefaultChunkDays, DefaultMaxEmptyWindows, 0)),
	}
	return NewEngine(src, tables, append(base, opts...)...), tables
}

func row(st models.Station, ts, value string) models.Reading {
	return models.Reading{DateTime: ts, Value: value, Unit: st.Unit(), StationID: st.ID, StationLabel: st.Label}
}

func TestSyncBootstrapsEmptyTable(t *testing.T) {
	src := &fakeSource{respond: func(q ea.Query) ([]models.RawReading, error) {
		return []models.RawReading{
			{DateTime: "2026-02-10T10:00:00Z", Value: "0.5"},
			{DateTime: "2026-02-10T10:15:00Z", Value: "0.6"},
		}, nil
	}}
	engine, tables := newTestEngine(t, src)

	outcome, err := engine.SyncStation(context.Background(), sticklepath)
	require.NoError(t, err)
	require.Equal(t, 2, outcome.NewReadings)
	require.Equal(t, 2, outcome.Total)

	require.Len(t, src.queries, 1)
	q := src.queries[0]
	require.False(t, q.IsCursor())
	require.Equal(t, date(2026, 1, 23), q.Start)
	require.Equal(t, date(2026, 2, 20), q.End)
	require.Equal(t, "50149-level-stage-i-15_min-m", src.measures[0])

	raw, err := os.ReadFile(tables.Path(sticklepath))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "dateTime,value,unit,station_id,station_label", lines[0])
}

func TestSyncSmallGapUsesCursor(t *testing.T) {
	src := &fakeSource{respond: func(q ea.Query) ([]models.RawReading, error) {
		return []models.RawReading{{DateTime: "2026-02-20T10:00:00Z", Value: "0.55"}}, nil
	}}
	engine, tables := newTestEngine(t, src)

	last := fixedNow.Add(-48 * time.Hour).Format(time.RFC3339)
	require.NoError(t, tables.Rewrite(sticklepath, []models.Reading{row(sticklepath, last, "0.500")}))

	outcome, err := engine.SyncStation(context.Background(), sticklepath)
	require.NoError(t, err)
	require.Len(t, src.queries, 1)
	require.True(t, src.queries[0].IsCursor())
	require.Equal(t, last, src.queries[0].Since)
	require.Equal(t, 1, outcome.NewReadings)
	require.Equal(t, 2, outcome.Total)
}

func TestSyncLargeGapUsesChunkedWindows(t *testing.T) {
	// A 28 day window covers a 10 day gap in one request, so a 7 day
	// planner is used to show the gap being split across windows.
	src := &fakeSource{respond: func(q ea.Query) ([]models.RawReading, error) {
		return []models.RawReading{{DateTime: q.End.Format("2006-01-02") + "T00:00:00Z", Value: "0.55"}}, nil
	}}
	engine, tables := newTestEngine(t, src, WithPlanner(NewPlanner(7, DefaultMaxEmptyWindows, 0)))

	last := fixedNow.Add(-10 * 24 * time.Hour).Format(time.RFC3339)
	require.NoError(t, tables.Rewrite(sticklepath, []models.Reading{row(sticklepath, last, "0.500")}))

	outcome, err := engine.SyncStation(context.Background(), sticklepath)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(src.queries), 2)
	require.Zero(t, src.cursorQueries())
	require.Equal(t, date(2026, 2, 10), src.queries[0].Start)
	require.Equal(t, date(2026, 2, 20), src.queries[len(src.queries)-1].End)
	require.Equal(t, len(src.queries), outcome.NewReadings)
}

func TestSyncLargeGapDefaultWindows(t *testing.T) {
	src := &fakeSource{}
	engine, tables := newTestEngine(t, src)

	last := fixedNow.Add(-40 * 24 * time.Hour).Format(time.RFC3339)
	require.NoError(t, tables.Rewrite(sticklepath, []models.Reading{row(sticklepath, last, "0.500")}))

	outcome, err := engine.SyncStation(context.Background(), sticklepath)
	require.NoError(t, err)
	require.Len(t, src.queries, 2)
	require.Zero(t, src.cursorQueries())
	require.Zero(t, outcome.NewReadings)
	require.Equal(t, 1, outcome.Total)
}

func TestChooseMode(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeSource{})

	mode, _, err := engine.ChooseMode("", fixedNow)
	require.NoError(t, err)
	require.Equal(t, ModeBootstrap, mode)

	mode, _, err = engine.ChooseMode(fixedNow.Add(-(5*24*time.Hour + 23*time.Hour)).Format(time.RFC3339), fixedNow)
	require.NoError(t, err)
	require.Equal(t, ModeCursor, mode)

	mode, _, err = engine.ChooseMode(fixedNow.Add(-6*24*time.Hour).Format(time.RFC3339), fixedNow)
	require.NoError(t, err)
	require.Equal(t, ModeChunked, mode)

	_, _, err = engine.ChooseMode("yesterday", fixedNow)
	require.Error(t, err)
}

func TestSyncDuplicateDoesNotRewrite(t *testing.T) {
	existing := fixedNow.Add(-2 * time.Hour).Format(time.RFC3339)
	src := &fakeSource{respond: func(q ea.Query) ([]models.RawReading, error) {
		return []models.RawReading{{DateTime: existing, Value: "0.500"}}, nil
	}}
	engine, tables := newTestEngine(t, src)
	require.NoError(t, tables.Rewrite(sticklepath, []models.Reading{row(sticklepath, existing, "0.500")}))

	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(tables.Path(sticklepath), past, past))

	outcome, err := engine.SyncStation(context.Background(), sticklepath)
	require.NoError(t, err)
	require.Equal(t, 0, outcome.NewReadings)
	require.Equal(t, 1, outcome.Total)

	info, err := os.Stat(tables.Path(sticklepath))
	require.NoError(t, err)
	require.True(t, info.ModTime().Equal(past))
}

func TestSyncSortsAndFiltersInvalid(t *testing.T) {
	src := &fakeSource{respond: func(q ea.Query) ([]models.RawReading, error) {
		return []models.RawReading{
			{DateTime: "2026-02-20T09:30:00Z", Value: "2.6"},
			{DateTime: "2026-02-20T09:00:00Z", Value: "2.5"},
			{DateTime: "", Value: "9"},
			{DateTime: "2026-02-20T09:45:00Z", Value: ""},
		}, nil
	}}
	engine, tables := newTestEngine(t, src)
	require.NoError(t, tables.Rewrite(barnstaple, []models.Reading{row(barnstaple, "2026-02-20T09:15:00Z", "2.55")}))

	outcome, err := engine.SyncStation(context.Background(), barnstaple)
	require.NoError(t, err)
	require.Equal(t, 2, outcome.NewReadings)
	require.Equal(t, "50198-level-tidal_level-i-15_min-mAOD", src.measures[0])

	got, err := tables.Load(barnstaple)
	require.NoError(t, err)
	require.Equal(t, []models.Reading{
		row(barnstaple, "2026-02-20T09:00:00Z", "2.5"),
		row(barnstaple, "2026-02-20T09:15:00Z", "2.55"),
		row(barnstaple, "2026-02-20T09:30:00Z", "2.6"),
	}, got)
	require.Equal(t, "mAOD", got[0].Unit)
}

func TestSyncAbsentSourceIsNotAnError(t *testing.T) {
	engine, tables := newTestEngine(t, &fakeSource{})

	outcome, err := engine.SyncStation(context.Background(), sticklepath)
	require.NoError(t, err)
	require.Zero(t, outcome.NewReadings)
	require.Zero(t, outcome.Total)

	_, err = os.Stat(tables.Path(sticklepath))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSyncSourceErrorLeavesTable(t *testing.T) {
	boom := errors.New("boom")
	src := &fakeSource{respond: func(q ea.Query) ([]models.RawReading, error) { return nil, boom }}
	engine, tables := newTestEngine(t, src)
	original := []models.Reading{row(sticklepath, fixedNow.Add(-time.Hour).Format(time.RFC3339), "0.4")}
	require.NoError(t, tables.Rewrite(sticklepath, original))

	_, err := engine.SyncStation(context.Background(), sticklepath)
	require.ErrorIs(t, err, boom)

	got, err := tables.Load(sticklepath)
	require.NoError(t, err)
	require.Equal(t, original, got)
}

func TestSyncMirrorsNewReadings(t *testing.T) {
	src := &fakeSource{respond: func(q ea.Query) ([]models.RawReading, error) {
		return []models.RawReading{{DateTime: "2026-02-19T00:00:00Z", Value: "0.7"}}, nil
	}}
	sink := &recordingSink{err: errors.New("db down")}
	engine, _ := newTestEngine(t, src, WithSink(sink))

	outcome, err := engine.SyncStation(context.Background(), sticklepath)
	require.NoError(t, err)
	require.Equal(t, 1, outcome.NewReadings)
	require.Equal(t, []models.Reading{row(sticklepath, "2026-02-19T00:00:00Z", "0.7")}, sink.got)
}
