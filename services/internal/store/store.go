package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/tawriver/floodwatch/services/internal/models"
)

// IndexFile is the name of the stations index table.
const IndexFile = "stations.csv"

var (
	unsafeLabel = regexp.MustCompile(`[^a-z0-9_()-]`)
	unsafeID    = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
)

// Store keeps one CSV table per station inside a directory.
type Store struct {
	dir string
}

// New creates the directory if needed and returns a store rooted there.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// TableName returns the file name of the station's table.
func TableName(st models.Station) string {
	if st.Category == models.CategoryRainfall {
		return fmt.Sprintf("rainfall_%s.csv", st.ID)
	}
	label := strings.ReplaceAll(strings.ToLower(st.Label), " ", "_")
	label = unsafeLabel.ReplaceAllString(label, "_")
	id := unsafeID.ReplaceAllString(st.ID, "")
	return fmt.Sprintf("level_%s_%s.csv", id, label)
}

// Path returns the full path of the station's table.
func (s *Store) Path(st models.Station) string {
	return filepath.Join(s.dir, TableName(st))
}

// Load returns the station's readings in file order. A missing table yields
// an empty slice.
func (s *Store) Load(st models.Station) ([]models.Reading, error) {
	f, err := os.Open(s.Path(st))
	if errors.Is(err, os.ErrNotExist) {
		return []models.Reading{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()

	var rows []*models.Reading
	if err := gocsv.Unmarshal(f, &rows); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return []models.Reading{}, nil
		}
		return nil, fmt.Errorf("read table %s: %w", TableName(st), err)
	}

	out := make([]models.Reading, 0, len(rows))
	for _, r := range rows {
		if r == nil || r.DateTime == "" {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

// Rewrite replaces the station's table with readings. Invalid readings are
// dropped. The table on disk is either the old or the new one at any point.
func (s *Store) Rewrite(st models.Station, readings []models.Reading) error {
	rows := make([]*models.Reading, 0, len(readings))
	for i := range readings {
		if readings[i].Valid() {
			rows = append(rows, &readings[i])
		}
	}
	return atomicWrite(s.Path(st), func(w io.Writer) error {
		if len(rows) == 0 {
			// An empty table still carries its header.
			_, err := io.WriteString(w, "dateTime,value,unit,station_id,station_label\n")
			return err
		}
		return gocsv.Marshal(rows, w)
	})
}

// IndexRow is one row of the stations index.
type IndexRow struct {
	ID        string  `csv:"id"`
	Label     string  `csv:"label"`
	Lat       float64 `csv:"lat"`
	Lon       float64 `csv:"lon"`
	River     string  `csv:"river"`
	Type      string  `csv:"type"`
	RLOI      string  `csv:"rloi"`
	MeasureID string  `csv:"measure_id"`
}

// WriteIndex rewrites the stations index table.
func (s *Store) WriteIndex(list []models.Station) error {
	rows := make([]*IndexRow, 0, len(list))
	for _, st := range list {
		rows = append(rows, &IndexRow{
			ID:        st.ID,
			Label:     st.Label,
			Lat:       st.Lat,
			Lon:       st.Lon,
			River:     st.River,
			Type:      string(st.Category),
			RLOI:      st.RLOI,
			MeasureID: st.MeasureID(),
		})
	}
	return atomicWrite(filepath.Join(s.dir, IndexFile), func(w io.Writer) error {
		return gocsv.Marshal(rows, w)
	})
}

// readIndex loads the stations index table.
func (s *Store) readIndex() ([]IndexRow, error) {
	f, err := os.Open(filepath.Join(s.dir, IndexFile))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	var rows []IndexRow
	if err := gocsv.Unmarshal(f, &rows); err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	return rows, nil
}

// atomicWrite writes to a temporary file in the target's directory, syncs it
// and renames it over the target.
func atomicWrite(path string, write func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", filepath.Base(path), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
