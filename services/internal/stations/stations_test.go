package stations

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tawriver/floodwatch/services/internal/models"
)

func TestDefaultStations(t *testing.T) {
	list, err := Default()
	require.NoError(t, err)
	require.Len(t, list, 19)
	require.Equal(t, "50149", list[0].ID)
	require.Equal(t, "47158", list[len(list)-1].ID)

	tidal, ok := Find(list, "50198")
	require.True(t, ok)
	require.Equal(t, models.CategoryTidal, tidal.Category)
	require.Equal(t, "50198-level-tidal_level-i-15_min-mAOD", tidal.MeasureID())
	require.Equal(t, "mAOD", tidal.Unit())

	rain, ok := Find(list, "E85220")
	require.True(t, ok)
	require.Equal(t, "E85220-rainfall-tipping_bucket_raingauge-t-15_min-mm", rain.MeasureID())
	require.Equal(t, "mm", rain.Unit())

	level, ok := Find(list, "50140")
	require.True(t, ok)
	require.Equal(t, "50140-level-stage-i-15_min-m", level.MeasureID())
	require.Equal(t, "3106", level.RLOI)
	require.Equal(t, "River Taw", level.River)
	require.Equal(t, "m", level.Unit())
}

func TestParseRejectsDuplicates(t *testing.T) {
	doc := []byte(`
stations:
  - {id: "1", label: A, type: level}
  - {id: "1", label: B, type: rainfall}
`)
	_, err := Parse(doc)
	require.ErrorIs(t, err, ErrInvalidStation)
	require.Contains(t, err.Error(), "duplicate")
}

func TestParseRejectsUnknownCategory(t *testing.T) {
	_, err := Parse([]byte(`stations: [{id: "1", label: A, type: snow}]`))
	require.ErrorIs(t, err, ErrInvalidStation)
}

func TestParseRejectsBadID(t *testing.T) {
	_, err := Parse([]byte(`stations: [{id: "a-1", label: A, type: level}]`))
	require.ErrorIs(t, err, ErrInvalidStation)
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse([]byte(`stations: []`))
	require.ErrorIs(t, err, ErrNoStations)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
stations:
  - id: "9"
    label: Test Gauge
    lat: 50.1
    lon: -3.2
    type: rainfall
`), 0o644))

	list, err := Load(path)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, 50.1, list[0].Lat)
	require.Equal(t, "9-rainfall-tipping_bucket_raingauge-t-15_min-mm", list[0].MeasureID())
}

func TestFilter(t *testing.T) {
	list, err := Default()
	require.NoError(t, err)

	got, err := Filter(list, []string{"47158", "50149"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "50149", got[0].ID)
	require.Equal(t, "47158", got[1].ID)

	_, err = Filter(list, []string{"nope"})
	require.Error(t, err)

	all, err := Filter(list, nil)
	require.NoError(t, err)
	require.Len(t, all, len(list))
}
