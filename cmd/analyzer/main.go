package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/storewatch/backend/internal/api"
	"github.com/storewatch/backend/internal/circuitbreaker"
	"github.com/storewatch/backend/internal/config"
	"github.com/storewatch/backend/internal/detect"
	"github.com/storewatch/backend/internal/events"
	"github.com/storewatch/backend/internal/metrics"
	"github.com/storewatch/backend/internal/pipeline"
	"github.com/storewatch/backend/internal/roi"
	"github.com/storewatch/backend/internal/scooper"
	"github.com/storewatch/backend/internal/store"
)

const shutdownGrace = 30 * time.Second

func main() {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		slog.Error("[Main] Configuration invalid", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.Server.Env == "development" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("[Main] Starting violation analyzer",
		"port", cfg.Server.Port, "env", cfg.Server.Env, "rich_mode", cfg.Policy.RichModeEnabled)

	m := metrics.New(prometheus.DefaultRegisterer)
	breakers := circuitbreaker.NewPipelineBreakers()

	detector := detect.NewClient(cfg.Services.DetectorURL, cfg.DetectorTimeout(), breakers.Detector)
	roiClient := roi.NewClient(cfg.Services.ROIManagerURL, cfg.ROITimeout(), breakers.ROIStore)

	classifier := buildClassifier(cfg)
	files := store.NewFileStore(cfg.Storage.FramesDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records, err := buildRecordWriter(ctx, cfg, breakers)
	if err != nil {
		slog.Error("[Main] Violation store unavailable", "error", err)
		os.Exit(1)
	}

	bus, err := buildBus(ctx, cfg)
	if err != nil {
		slog.Error("[Main] Event bus unavailable", "error", err)
		os.Exit(1)
	}

	sink := store.NewSink(files, records, bus, m)

	manager := pipeline.NewManager(func(sessionID string) *pipeline.Analyzer {
		return pipeline.NewAnalyzer(sessionID, detector, roiClient, classifier, sink, m, pipeline.Config{
			Staleness:            cfg.SequenceStaleness(),
			Cooldown:             cfg.WorkSessionCooldown(),
			AssocMaxPx:           cfg.Policy.HandWorkerAssocMaxPx,
			UsageRequiredPercent: cfg.Policy.ScooperUsageRequiredPercent,
		})
	}, m)

	server := api.NewServer(cfg, manager, files, breakers, bus)

	if cfg.Storage.MaxFrameAgeHour > 0 {
		go cleanupLoop(ctx, files, time.Duration(cfg.Storage.MaxFrameAgeHour)*time.Hour)
	}

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		<-sigs
		slog.Info("[Main] Shutdown signal received")

		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
		defer done()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("[Main] HTTP shutdown error", "error", err)
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			slog.Warn("[Main] Session drain incomplete", "error", err)
		}
		sink.Close()
		if err := records.Close(); err != nil {
			slog.Warn("[Main] Record writer close error", "error", err)
		}
		if err := bus.Close(); err != nil {
			slog.Warn("[Main] Event bus close error", "error", err)
		}
		cancel()
	}()

	if err := server.Start(); err != nil {
		slog.Error("[Main] Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("[Main] Stopped")
}

func buildClassifier(cfg *config.Config) scooper.Classifier {
	thresholds := scooper.Thresholds{
		ActiveMaxPx:         cfg.Policy.ScooperActiveMaxPx,
		NearbyMaxPx:         cfg.Policy.ScooperNearbyMaxPx,
		AllowNearbyFallback: cfg.Policy.AllowNearbyScooperFallback,
	}
	if cfg.Policy.RichModeEnabled {
		slog.Info("[Main] Rich evidence classifier enabled")
		return scooper.NewRich(thresholds)
	}
	return scooper.NewSimple(thresholds)
}

func buildRecordWriter(ctx context.Context, cfg *config.Config, breakers *circuitbreaker.PipelineBreakers) (store.RecordWriter, error) {
	if cfg.Storage.PostgresDSN != "" {
		slog.Info("[Main] Violation records go to Postgres")
		return store.NewPostgresStore(ctx, cfg.Storage.PostgresDSN)
	}
	slog.Info("[Main] Violation records go to HTTP store", "url", cfg.Services.ViolationStoreURL)
	return store.NewHTTPStore(cfg.Services.ViolationStoreURL, cfg.StoreTimeout(), breakers.ViolationStore), nil
}

func buildBus(ctx context.Context, cfg *config.Config) (events.Bus, error) {
	switch cfg.Events.Backend {
	case "redis":
		return events.NewRedisBus(ctx, cfg.Events.RedisAddr, cfg.Events.RedisPassword)
	case "pubsub":
		return events.NewPubSubBus(ctx, cfg.Events.PubSubProject, cfg.Events.PubSubTopic)
	default:
		return events.NewLocalBus(), nil
	}
}

// cleanupLoop removes violation frames older than maxAge once an hour.
func cleanupLoop(ctx context.Context, files *store.FileStore, maxAge time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := files.CleanupOldFrames(maxAge)
			if err != nil {
				slog.Warn("[Main] Frame cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Info("[Main] Old violation frames removed", "count", removed)
			}
		}
	}
}
