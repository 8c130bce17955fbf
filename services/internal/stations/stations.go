package stations

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tawriver/floodwatch/services/internal/models"
)

//go:embed stations.yaml
var defaultStations []byte

var (
	ErrNoStations     = errors.New("no stations configured")
	ErrInvalidStation = errors.New("invalid station")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

type document struct {
	Stations []models.Station `yaml:"stations"`
}

// Default returns the station set compiled into the binary.
func Default() ([]models.Station, error) {
	return Parse(defaultStations)
}

// Load reads the station set from path, or the built-in set when path is empty.
func Load(path string) ([]models.Station, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stations file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML station document.
func Parse(data []byte) ([]models.Station, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode stations: %w", err)
	}
	if err := Validate(doc.Stations); err != nil {
		return nil, err
	}
	return doc.Stations, nil
}

// Validate checks identifiers are well formed and unique and that every
// category is known.
func Validate(list []models.Station) error {
	if len(list) == 0 {
		return ErrNoStations
	}
	seen := make(map[string]struct{}, len(list))
	for i, st := range list {
		if !idPattern.MatchString(st.ID) {
			return fmt.Errorf("%w: entry %d has id %q", ErrInvalidStation, i, st.ID)
		}
		if _, dup := seen[st.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidStation, st.ID)
		}
		seen[st.ID] = struct{}{}
		if !st.Category.Valid() {
			return fmt.Errorf("%w: station %s has type %q", ErrInvalidStation, st.ID, st.Category)
		}
		if strings.TrimSpace(st.Label) == "" {
			return fmt.Errorf("%w: station %s has no label", ErrInvalidStation, st.ID)
		}
	}
	return nil
}

// Filter keeps the stations whose id is in ids, preserving configured order.
// An empty ids slice keeps everything.
func Filter(list []models.Station, ids []string) ([]models.Station, error) {
	if len(ids) == 0 {
		return list, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = false
	}
	out := make([]models.Station, 0, len(ids))
	for _, st := range list {
		if _, ok := want[st.ID]; ok {
			want[st.ID] = true
			out = append(out, st)
		}
	}
	for id, found := range want {
		if !found {
			return nil, fmt.Errorf("unknown station %q", id)
		}
	}
	return out, nil
}

// Find returns the station with the given id.
func Find(list []models.Station, id string) (models.Station, bool) {
	for _, st := range list {
		if st.ID == id {
			return st, true
		}
	}
	return models.Station{}, false
}
