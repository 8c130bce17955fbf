package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tawriver/floodwatch/services/internal/logger"
	"github.com/tawriver/floodwatch/services/internal/models"
	"github.com/tawriver/floodwatch/services/internal/store"
)

type stubMirror struct {
	latest map[string]string
	err    error
	asked  []string
}

func (m *stubMirror) LatestTimestamps(ctx context.Context, stationIDs []string) (map[string]string, error) {
	m.asked = stationIDs
	return m.latest, m.err
}

var lagStations = []models.Station{
	{ID: "50149", Label: "Sticklepath", Category: models.CategoryLevel},
	{ID: "50119", Label: "Taw Bridge", Category: models.CategoryLevel},
	{ID: "E85220", Label: "Molland Sindercombe", Category: models.CategoryRainfall},
	{ID: "47158", Label: "Halwill", Category: models.CategoryRainfall},
}

func TestReportMirrorLag(t *testing.T) {
	tables, err := store.New(t.TempDir())
	require.NoError(t, err)
	write := func(st models.Station, ts string) {
		require.NoError(t, tables.Rewrite(st, []models.Reading{
			{DateTime: ts, Value: "0.1", Unit: st.Unit(), StationID: st.ID, StationLabel: st.Label},
		}))
	}
	write(lagStations[0], "2026-02-20T10:00:00Z")
	write(lagStations[1], "2026-02-20T10:00:00Z")
	write(lagStations[2], "2026-02-20T10:00:00Z")

	mirror := &stubMirror{latest: map[string]string{
		"50149": "2026-02-20T10:00:00Z",
		"50119": "2026-02-19T23:45:00Z",
	}}

	lagging, err := reportMirrorLag(context.Background(), mirror, tables, lagStations, logger.Discard())
	require.NoError(t, err)
	require.Equal(t, []string{"50149", "50119", "E85220", "47158"}, mirror.asked)
	// 47158 has no table yet, so nothing can lag behind it.
	require.Equal(t, []string{"50119", "E85220"}, lagging)
}

func TestReportMirrorLagError(t *testing.T) {
	tables, err := store.New(t.TempDir())
	require.NoError(t, err)
	boom := errors.New("connection reset")

	_, err = reportMirrorLag(context.Background(), &stubMirror{err: boom}, tables, lagStations, logger.Discard())
	require.ErrorIs(t, err, boom)
}
