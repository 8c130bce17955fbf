package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMeasureIDOverrideWins(t *testing.T) {
	st := Station{ID: "50198", Category: CategoryTidal, MeasureOverride: "custom-measure"}
	require.Equal(t, "custom-measure", st.MeasureID())

	st.MeasureOverride = ""
	require.Equal(t, "50198-level-stage-i-15_min-m", st.MeasureID())
}

func TestOutcomeJSON(t *testing.T) {
	ok, err := json.Marshal(Outcome{ID: "1", Label: "A", NewReadings: 2, Total: 10})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"1","label":"A","new_readings":2,"total":10}`, string(ok))

	failed, err := json.Marshal(Outcome{ID: "2", Label: "B", Error: "boom"})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"2","label":"B","error":"boom"}`, string(failed))
}

func TestNewReportCountsUpdatedStations(t *testing.T) {
	ts := time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)
	report := NewReport(ts, []Outcome{
		{ID: "1", NewReadings: 3},
		{ID: "2"},
		{ID: "3", Error: "fetch failed"},
		{ID: "4", NewReadings: 1},
	})
	require.True(t, report.Success)
	require.Equal(t, 2, report.StationsUpdated)
	require.Len(t, report.Details, 4)
	require.Equal(t, ts, report.Timestamp)
}

func TestReadingValid(t *testing.T) {
	require.True(t, Reading{DateTime: "2026-01-01T00:00:00Z", Value: "0"}.Valid())
	require.False(t, Reading{DateTime: "", Value: "1"}.Valid())
	require.False(t, Reading{DateTime: "2026-01-01T00:00:00Z"}.Valid())
}
