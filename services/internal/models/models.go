package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Category is the kind of sensor a station carries.
type Category string

const (
	CategoryLevel    Category = "level"
	CategoryTidal    Category = "tidal"
	CategoryRainfall Category = "rainfall"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryLevel, CategoryTidal, CategoryRainfall:
		return true
	}
	return false
}

// Unit returns the unit readings of this category are recorded in.
func (c Category) Unit() string {
	switch c {
	case CategoryRainfall:
		return "mm"
	case CategoryTidal:
		return "mAOD"
	default:
		return "m"
	}
}

// Station is one configured monitoring station.
type Station struct {
	ID              string   `yaml:"id" json:"id"`
	Label           string   `yaml:"label" json:"label"`
	Lat             float64  `yaml:"lat" json:"lat"`
	Lon             float64  `yaml:"lon" json:"lon"`
	River           string   `yaml:"river,omitempty" json:"river,omitempty"`
	Category        Category `yaml:"type" json:"type"`
	RLOI            string   `yaml:"rloi,omitempty" json:"rloi,omitempty"`
	MeasureOverride string   `yaml:"measure_id,omitempty" json:"-"`
}

// MeasureID returns the remote measure key for the station. An explicit
// override wins; otherwise the key follows the per-category template.
func (s Station) MeasureID() string {
	if s.MeasureOverride != "" {
		return s.MeasureOverride
	}
	if s.Category == CategoryRainfall {
		return fmt.Sprintf("%s-rainfall-tipping_bucket_raingauge-t-15_min-mm", s.ID)
	}
	return fmt.Sprintf("%s-level-stage-i-15_min-m", s.ID)
}

// Unit is the unit of the station's readings.
func (s Station) Unit() string {
	return s.Category.Unit()
}

// Reading is one persisted row of a station table.
type Reading struct {
	DateTime     string `csv:"dateTime" json:"dateTime"`
	Value        string `csv:"value" json:"value"`
	Unit         string `csv:"unit" json:"unit"`
	StationID    string `csv:"station_id" json:"station_id"`
	StationLabel string `csv:"station_label" json:"station_label"`
}

// Valid reports whether the reading may be persisted.
func (r Reading) Valid() bool {
	return r.DateTime != "" && r.Value != ""
}

// RawReading is a single item as returned by the remote source. Value keeps
// the literal text of the source's JSON value.
type RawReading struct {
	DateTime string
	Value    string
}

// Outcome is the result of syncing one station.
type Outcome struct {
	ID          string
	Label       string
	NewReadings int
	Total       int
	Error       string
}

// Failed reports whether the sync of the station failed.
func (o Outcome) Failed() bool {
	return o.Error != ""
}

// MarshalJSON emits either the counts form or the error form.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Failed() {
		return json.Marshal(struct {
			ID    string `json:"id"`
			Label string `json:"label"`
			Error string `json:"error"`
		}{o.ID, o.Label, o.Error})
	}
	return json.Marshal(struct {
		ID          string `json:"id"`
		Label       string `json:"label"`
		NewReadings int    `json:"new_readings"`
		Total       int    `json:"total"`
	}{o.ID, o.Label, o.NewReadings, o.Total})
}

// Report aggregates the outcomes of one refresh cycle.
type Report struct {
	Success         bool      `json:"success"`
	Timestamp       time.Time `json:"timestamp"`
	StationsUpdated int       `json:"stations_updated"`
	Details         []Outcome `json:"details"`
}

// NewReport builds a report for outcomes collected at ts.
func NewReport(ts time.Time, outcomes []Outcome) Report {
	updated := 0
	for _, o := range outcomes {
		if !o.Failed() && o.NewReadings > 0 {
			updated++
		}
	}
	return Report{
		Success:         true,
		Timestamp:       ts.UTC(),
		StationsUpdated: updated,
		Details:         outcomes,
	}
}
