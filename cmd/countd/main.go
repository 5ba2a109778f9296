package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/hybridgroup/mjpeg"
	"github.com/joho/godotenv"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/peoplecounter/internal/analytics"
	"github.com/your-org/peoplecounter/internal/api"
	"github.com/your-org/peoplecounter/internal/api/handlers"
	"github.com/your-org/peoplecounter/internal/auth"
	"github.com/your-org/peoplecounter/internal/bridge"
	"github.com/your-org/peoplecounter/internal/bus"
	"github.com/your-org/peoplecounter/internal/config"
	"github.com/your-org/peoplecounter/internal/counter"
	"github.com/your-org/peoplecounter/internal/export"
	"github.com/your-org/peoplecounter/internal/health"
	"github.com/your-org/peoplecounter/internal/observability"
	"github.com/your-org/peoplecounter/internal/reid"
	"github.com/your-org/peoplecounter/internal/storage"
	"github.com/your-org/peoplecounter/internal/vision"
	"github.com/your-org/peoplecounter/internal/worker"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting people counter", "port", cfg.Server.Port)

	// Store: Postgres when a DSN is configured, embedded SQLite otherwise.
	var store storage.Store
	var pgStore *storage.PostgresStore
	if cfg.Database.URL != "" {
		pgStore, err = storage.NewPostgresStore(cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			slog.Error("connect to postgres", "error", err)
			os.Exit(1)
		}
		store = pgStore
		slog.Info("using postgres store")
	} else {
		sqliteStore, err := storage.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			slog.Error("open sqlite store", "error", err)
			os.Exit(1)
		}
		store = sqliteStore
		slog.Info("using sqlite store", "path", cfg.Database.Path)
	}
	defer store.Close()

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		slog.Error("init auth", "error", err)
		os.Exit(1)
	}

	// ONNX runtime backs the detector and optionally the Re-ID embedder.
	// When the runtime or the model is missing the worker runs without
	// counting until a successful reload.
	ort.SetSharedLibraryPath(getONNXLibPath())
	ortReady := true
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Warn("onnx runtime init failed, counting disabled", "error", err)
		ortReady = false
	} else {
		defer ort.DestroyEnvironment()
	}

	adapter := vision.NewAdapter(cfg.Detection)
	defer adapter.Close()

	// Re-ID gallery with optional Postgres pgvector mirror.
	var gallery *reid.Gallery
	if cfg.ReID.Enabled {
		var embedder reid.Embedder = reid.NewHistogramEmbedder()
		if cfg.ReID.ModelPath != "" && ortReady {
			onnxEmb, err := vision.NewONNXEmbedder(cfg.ReID.ModelPath, nil)
			if err != nil {
				slog.Warn("reid onnx embedder unavailable, using histogram embedder", "error", err)
			} else {
				embedder = onnxEmb
				defer onnxEmb.Close()
			}
		}
		var galleryOpts []reid.GalleryOption
		if pgStore != nil {
			galleryOpts = append(galleryOpts, reid.WithMirror(pgStore))
		}
		gallery = reid.NewGallery(reid.Config{
			SimilarityThreshold: cfg.ReID.SimilarityThreshold,
			MaxPersons:          cfg.ReID.MaxPersons,
			UpdateEmbeddings:    cfg.ReID.UpdateEmbeddings,
			GalleryPath:         cfg.ReID.GalleryPath,
		}, embedder, galleryOpts...)
	}

	engineCfg := counter.Config{
		DirectionIn:         cfg.Counting.DirectionIn,
		HysteresisPx:        float32(cfg.Counting.HysteresisPx),
		AreaChangeThreshold: cfg.Counting.AreaChangeThreshold,
		MaxAge:              cfg.Counting.MaxAge,
		CleanupInterval:     cfg.Counting.CleanupInterval,
	}
	if cfg.Counting.LineX != nil {
		engineCfg.LineX = float32(*cfg.Counting.LineX)
	}
	var engineOpts []counter.Option
	if gallery != nil {
		engineOpts = append(engineOpts, counter.WithReID(gallery))
	}
	engine := counter.New(engineCfg, engineOpts...)

	eventBus := bus.New()
	defer eventBus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerOpts := []worker.Option{}
	if gallery != nil {
		workerOpts = append(workerOpts, worker.WithGallery(gallery))
	}

	// Snapshot storage is optional; events just skip their snapshot key.
	var snapshots *storage.SnapshotStore
	if cfg.MinIO.Enabled() {
		snapshots, err = storage.NewSnapshotStore(cfg.MinIO)
		if err != nil {
			slog.Warn("connect to minio", "error", err)
		} else {
			if err := snapshots.EnsureBucket(ctx); err != nil {
				slog.Warn("ensure minio bucket", "error", err)
			}
			workerOpts = append(workerOpts, worker.WithSnapshots(snapshots))
		}
	}

	// Best-effort event bridges; connected ones also report into /health.
	var bridges []worker.Bridge
	bridgePings := make(map[string]handlers.Pinger)
	if cfg.NATS.Enabled() {
		nb, err := bridge.NewNATSBridge(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			slog.Warn("connect to nats", "error", err)
		} else {
			defer nb.Close()
			if err := nb.EnsureStream(ctx); err != nil {
				slog.Warn("ensure nats stream", "error", err)
			}
			bridges = append(bridges, nb)
			bridgePings["nats"] = nb
		}
	}
	if cfg.MQTT.Enabled() {
		mb, err := bridge.NewMQTTBridge(cfg.MQTT)
		if err != nil {
			slog.Warn("connect to mqtt", "error", err)
		} else {
			defer mb.Close()
			bridges = append(bridges, mb)
			bridgePings["mqtt"] = mb
		}
	}
	if len(bridges) > 0 {
		workerOpts = append(workerOpts, worker.WithBridges(bridges...))
	}

	var stream *mjpeg.Stream
	if cfg.Stream.Mode == "mjpeg" {
		stream = mjpeg.NewStream()
		workerOpts = append(workerOpts, worker.WithPreview(stream))
	}

	w := worker.New(cfg, store, eventBus, engine, adapter, workerOpts...)
	go w.Run(ctx)

	loc := time.Local
	if cfg.Analytics.Timezone != "" {
		// Validated at config load.
		loc, _ = time.LoadLocation(cfg.Analytics.Timezone)
	}
	analyticsSvc := analytics.New(store, loc)

	broadcaster := worker.NewBroadcaster(w, analyticsSvc, eventBus)
	go broadcaster.Run(ctx)

	checker := health.NewChecker(cfg.Stream)
	go checker.Run(ctx)

	var similar handlers.SimilarSearcher
	if pgStore != nil {
		similar = pgStore
	}

	deps := api.Deps{
		Cfg:       cfg,
		Store:     store,
		Auth:      authManager,
		Worker:    w,
		Analytics: analyticsSvc,
		Exporter:  export.New(store, loc),
		Gallery:   gallery,
		Similar:   similar,
		Bridges:   bridgePings,
		Bus:       eventBus,
		Health:    checker,
		Stream:    stream,
	}
	// Assigned only when connected: a typed nil pointer would make the
	// interface field non-nil.
	if snapshots != nil {
		deps.Snapshots = snapshots
	}
	router := api.NewRouter(deps)

	// No WriteTimeout: /video_feed and /ws hold their response open for the
	// lifetime of the client.
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if gallery != nil {
		gallery.Save()
	}
	slog.Info("stopped")
}

// getONNXLibPath returns the ONNX Runtime shared library path.
func getONNXLibPath() string {
	if p := os.Getenv("PC_ONNX_LIB"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
