package utils

import (
	"sort"

	"github.com/tawriver/floodwatch/services/internal/models"
)

// BuildReading tags a raw source item with the station's unit, id and label.
func BuildReading(st models.Station, raw models.RawReading) models.Reading {
	return models.Reading{
		DateTime:     raw.DateTime,
		Value:        raw.Value,
		Unit:         st.Unit(),
		StationID:    st.ID,
		StationLabel: st.Label,
	}
}

// LatestTimestamp returns the greatest timestamp in readings, comparing the
// ISO-8601 strings lexicographically. ok is false when there is none.
func LatestTimestamp(readings []models.Reading) (latest string, ok bool) {
	for _, r := range readings {
		if r.DateTime == "" {
			continue
		}
		if !ok || r.DateTime > latest {
			latest = r.DateTime
			ok = true
		}
	}
	return latest, ok
}

// FilterNewReadings selects the valid candidates whose timestamp is not in
// existing and not repeated earlier in candidates. The first occurrence of a
// timestamp wins.
func FilterNewReadings(st models.Station, candidates []models.RawReading, existing []models.Reading) []models.Reading {
	seen := make(map[string]struct{}, len(existing)+len(candidates))
	for _, r := range existing {
		seen[r.DateTime] = struct{}{}
	}

	out := make([]models.Reading, 0, len(candidates))
	for _, cand := range candidates {
		if cand.DateTime == "" || cand.Value == "" {
			continue
		}
		if _, dup := seen[cand.DateTime]; dup {
			continue
		}
		seen[cand.DateTime] = struct{}{}
		out = append(out, BuildReading(st, cand))
	}
	return out
}

// Dedupe drops invalid readings and later duplicates of a timestamp.
func Dedupe(readings []models.Reading) []models.Reading {
	seen := make(map[string]struct{}, len(readings))
	out := make([]models.Reading, 0, len(readings))
	for _, r := range readings {
		if !r.Valid() {
			continue
		}
		if _, dup := seen[r.DateTime]; dup {
			continue
		}
		seen[r.DateTime] = struct{}{}
		out = append(out, r)
	}
	return out
}

// SortReadings orders readings ascending by timestamp string. Equal
// timestamps keep their relative order.
func SortReadings(readings []models.Reading) {
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].DateTime < readings[j].DateTime
	})
}

// Merge combines existing and incoming readings: one entry per timestamp,
// existing entries first, sorted ascending.
func Merge(existing, incoming []models.Reading) []models.Reading {
	combined := make([]models.Reading, 0, len(existing)+len(incoming))
	combined = append(combined, existing...)
	combined = append(combined, incoming...)
	merged := Dedupe(combined)
	SortReadings(merged)
	return merged
}
