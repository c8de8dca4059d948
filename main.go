package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"photostage/internal/database"
	"photostage/internal/handlers"
	"photostage/internal/ingest"
	"photostage/internal/jobs"
	"photostage/internal/logging"
	"photostage/internal/metadata"
	"photostage/internal/middleware"
	"photostage/internal/preview"
	"photostage/internal/startup"
	"photostage/internal/storage"
	"photostage/internal/workers"
)

// reaperInterval is how often abandoned staged images are swept.
const reaperInterval = 15 * time.Minute

func main() {
	startTime := time.Now()

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	db, err := database.New(context.Background(), config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error("error closing database: %v", err)
		}
	}()

	if err := preview.InitVips(); err != nil {
		logging.Warn("libvips unavailable, decoding falls back to pure Go: %v", err)
	}
	defer preview.ShutdownVips()

	engine := metadata.NewEngine(config.ExiftoolPath, config.ExiftoolTimeout)
	gen := preview.NewGenerator(preview.Options{
		PreviewDir:      filepath.Join(config.StagingDir, "previews"),
		ToolPath:        config.ExiftoolPath,
		ToolTimeout:     config.ExiftoolTimeout,
		MaxDim:          config.PreviewMaxDim,
		Quality:         config.PreviewQuality,
		EmbeddedMinDim:  config.EmbeddedMinDim,
		ThumbnailSize:   config.ThumbnailSize,
		EnhanceMaxWidth: config.EnhanceMaxWidth,
	})
	store := storage.NewDiskStore(config.StorageDir)

	queue := jobs.NewQueue(1024)
	pipeline := ingest.NewPipeline(db, engine, gen, store, queue)

	workerCount := config.JobWorkers
	if workerCount <= 0 {
		workerCount = workers.ForMixed(16)
	}
	queue.Start(workerCount)

	if err := pipeline.RecoverPending(context.Background()); err != nil {
		logging.Warn("failed to recover unfinished preview jobs: %v", err)
	}

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	go pipeline.RunReaper(reaperCtx, reaperInterval, config.StagingTTL)

	h := handlers.New(db, engine, gen, pipeline, queue, config)
	router := setupRouter(h, config)

	handler := middleware.Logger("/metrics")(router)

	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  0, // uploads stream large RAW files
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go handleShutdown(srv, queue, stopReaper)

	logging.Info("photostage listening on :%s (startup took %s)", config.Port, time.Since(startTime).Round(time.Millisecond))
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		startup.LogFatal("Server error: %v", err)
	}
}

func setupRouter(h *handlers.Handlers, config *startup.Config) *mux.Router {
	r := mux.NewRouter()

	// Registered on the router so matched route templates label the
	// request metrics.
	r.Use(middleware.Metrics())

	// Health and version routes
	r.HandleFunc("/health", h.Healthz).Methods("GET")
	r.HandleFunc("/healthz", h.Healthz).Methods("GET")
	r.HandleFunc("/livez", h.Healthz).Methods("GET")
	r.HandleFunc("/readyz", h.Readyz).Methods("GET")
	r.HandleFunc("/version", h.Version).Methods("GET")

	if config.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()

	// Staged image lifecycle
	api.HandleFunc("/staged", h.UploadStaged).Methods("POST")
	api.HandleFunc("/staged", h.ListStaged).Methods("GET")
	api.HandleFunc("/staged/update", h.UpdateStaged).Methods("POST")
	api.HandleFunc("/staged/reorder", h.ReorderStaged).Methods("POST")
	api.HandleFunc("/staged/status", h.StagedStatus).Methods("GET")
	api.HandleFunc("/staged/enhance", h.EnhanceStaged).Methods("POST")
	api.HandleFunc("/staged/{id}", h.GetStaged).Methods("GET")
	api.HandleFunc("/staged/{id}", h.DeleteStaged).Methods("DELETE")
	api.HandleFunc("/staged/{id}/preview", h.ServePreview).Methods("GET")
	api.HandleFunc("/staged/{id}/thumbnail", h.ServeThumbnail).Methods("GET")

	// Tags
	api.HandleFunc("/tags", h.ListTags).Methods("GET")
	api.HandleFunc("/tags", h.CreateTag).Methods("POST")
	api.HandleFunc("/tags/{id}", h.DeleteTag).Methods("DELETE")
	api.HandleFunc("/staged/{id}/tags", h.AttachStagedTag).Methods("POST")
	api.HandleFunc("/staged/{id}/tags/{tagId}", h.DetachStagedTag).Methods("DELETE")

	// Commit
	api.HandleFunc("/commit", h.CommitStaged).Methods("POST")

	api.HandleFunc("/stats", h.Stats).Methods("GET")

	return r
}

func handleShutdown(srv *http.Server, queue *jobs.Queue, stopReaper context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logging.Info("shutdown initiated (%s)", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopReaper()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	}

	// Drain in-flight jobs after the listener closes so a commit mid-copy
	// is not cut off.
	queue.Stop()

	logging.Info("shutdown complete")
}
