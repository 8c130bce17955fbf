package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tawriver/floodwatch/services/api/config"
	httpserver "github.com/tawriver/floodwatch/services/api/http"
	"github.com/tawriver/floodwatch/services/internal/db"
	"github.com/tawriver/floodwatch/services/internal/ea"
	"github.com/tawriver/floodwatch/services/internal/ingest"
	"github.com/tawriver/floodwatch/services/internal/logger"
	"github.com/tawriver/floodwatch/services/internal/models"
	"github.com/tawriver/floodwatch/services/internal/refresh"
	"github.com/tawriver/floodwatch/services/internal/stations"
	"github.com/tawriver/floodwatch/services/internal/store"
	"github.com/tawriver/floodwatch/services/internal/utils"
)

func main() {
	log := logger.New("api")

	cfg, err := config.Load()
	if err != nil {
		log.Error("config error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	list, err := loadStations(cfg.StationsFile)
	if err != nil {
		log.Error("stations error", "error", err)
		os.Exit(1)
	}

	tables, err := store.New(cfg.DataDir)
	if err != nil {
		log.Error("data dir error", "error", err)
		os.Exit(1)
	}
	if err := tables.WriteIndex(list); err != nil {
		log.Warn("stations index not written", "error", err)
	}

	client := ea.NewClient(ea.Options{
		BaseURL: cfg.SourceBaseURL,
		Timeout: cfg.RequestTimeout,
		Retries: cfg.FetchRetries,
		Policy:  ea.AbsentOnExhaustion,
		Logger:  log,
	})

	opts := []ingest.Option{ingest.WithLogger(log)}
	if cfg.DatabaseURL != "" {
		mirror, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("db connection error", "error", err)
			os.Exit(1)
		}
		defer mirror.Close()

		if err := mirror.UpsertStations(ctx, list); err != nil {
			log.Warn("station upsert failed", "error", err)
		}
		if _, err := reportMirrorLag(ctx, mirror, tables, list, log); err != nil {
			log.Warn("mirror lag check failed", "error", err)
		}
		opts = append(opts, ingest.WithSink(mirror))
	}

	engine := ingest.NewEngine(client, tables, opts...)
	coordinator := refresh.NewCoordinator(engine, list, cfg.MinInterval, refresh.WithLogger(log))

	srv := httpserver.New(cfg, coordinator, tables, log)
	log.Info("floodwatch listening", "addr", cfg.ListenAddr(), "stations", len(list), "data_dir", cfg.DataDir)

	if err := srv.Run(ctx); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func loadStations(path string) ([]models.Station, error) {
	if path == "" {
		return stations.Default()
	}
	return stations.Load(path)
}

type mirrorLatest interface {
	LatestTimestamps(ctx context.Context, stationIDs []string) (map[string]string, error)
}

type tableLoader interface {
	Load(st models.Station) ([]models.Reading, error)
}

// reportMirrorLag compares the newest mirrored timestamp of every station
// with its table and logs the stations whose mirror is behind. It returns
// the ids of the lagging stations.
func reportMirrorLag(ctx context.Context, mirror mirrorLatest, tables tableLoader, list []models.Station, log *slog.Logger) ([]string, error) {
	ids := make([]string, 0, len(list))
	for _, st := range list {
		ids = append(ids, st.ID)
	}
	mirrored, err := mirror.LatestTimestamps(ctx, ids)
	if err != nil {
		return nil, err
	}

	var lagging []string
	for _, st := range list {
		readings, err := tables.Load(st)
		if err != nil {
			return lagging, err
		}
		latest, ok := utils.LatestTimestamp(readings)
		if !ok {
			continue
		}
		// Timestamps are ISO-8601 UTC, so string order is time order.
		if mirrored[st.ID] < latest {
			log.Warn("mirror behind table", "station", st.ID, "table_latest", latest, "mirror_latest", mirrored[st.ID])
			lagging = append(lagging, st.ID)
		}
	}
	return lagging, nil
}
