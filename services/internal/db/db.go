package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tawriver/floodwatch/services/internal/models"
)

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS floodwatch;

CREATE TABLE IF NOT EXISTS floodwatch.stations (
    id          TEXT PRIMARY KEY,
    label       TEXT NOT NULL,
    lat         DOUBLE PRECISION NOT NULL,
    lon         DOUBLE PRECISION NOT NULL,
    river       TEXT,
    type        TEXT NOT NULL,
    rloi        TEXT,
    measure_id  TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS floodwatch.readings (
    station_id  TEXT NOT NULL REFERENCES floodwatch.stations (id),
    date_time   TEXT NOT NULL,
    value       TEXT NOT NULL,
    unit        TEXT NOT NULL,
    ingested_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (station_id, date_time)
);
`

// Mirror copies stations and readings into PostgreSQL.
type Mirror struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and makes sure the schema exists.
func Open(ctx context.Context, databaseURL string) (*Mirror, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect mirror: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create mirror schema: %w", err)
	}
	return &Mirror{pool: pool}, nil
}

// Close releases the pool resources.
func (m *Mirror) Close() {
	if m.pool != nil {
		m.pool.Close()
	}
}

// UpsertStations inserts/updates station metadata records.
func (m *Mirror) UpsertStations(ctx context.Context, stations []models.Station) error {
	if len(stations) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO floodwatch.stations (id, label, lat, lon, river, type, rloi, measure_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,NULLIF($7,''),$8,NOW(),NOW())
ON CONFLICT (id) DO UPDATE
SET label = EXCLUDED.label,
    lat = EXCLUDED.lat,
    lon = EXCLUDED.lon,
    river = EXCLUDED.river,
    type = EXCLUDED.type,
    rloi = EXCLUDED.rloi,
    measure_id = EXCLUDED.measure_id,
    updated_at = NOW()`

	for _, s := range stations {
		batch.Queue(query, s.ID, s.Label, s.Lat, s.Lon, s.River, string(s.Category), s.RLOI, s.MeasureID())
	}

	res := m.pool.SendBatch(ctx, batch)
	defer res.Close()

	for range stations {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// StoreReadings inserts readings for st. Timestamps already present keep
// their first stored value.
func (m *Mirror) StoreReadings(ctx context.Context, st models.Station, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO floodwatch.readings (station_id, date_time, value, unit, ingested_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (station_id, date_time) DO NOTHING`

	queued := 0
	for _, r := range readings {
		if !r.Valid() {
			continue
		}
		batch.Queue(query, st.ID, r.DateTime, r.Value, r.Unit)
		queued++
	}

	res := m.pool.SendBatch(ctx, batch)
	defer res.Close()

	for i := 0; i < queued; i++ {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LatestTimestamps loads the newest mirrored timestamp per station.
func (m *Mirror) LatestTimestamps(ctx context.Context, stationIDs []string) (map[string]string, error) {
	result := make(map[string]string, len(stationIDs))
	if len(stationIDs) == 0 {
		return result, nil
	}

	rows, err := m.pool.Query(ctx, `
SELECT station_id, MAX(date_time)
FROM floodwatch.readings
WHERE station_id = ANY($1)
GROUP BY station_id`, stationIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, ts string
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, err
		}
		result[id] = ts
	}
	return result, rows.Err()
}
