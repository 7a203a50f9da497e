package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/qfx2qif/internal/api/handlers"
	"github.com/dvloznov/qfx2qif/internal/api/middleware"
	"github.com/dvloznov/qfx2qif/internal/config"
	infraBQ "github.com/dvloznov/qfx2qif/internal/infra/bigquery"
	"github.com/dvloznov/qfx2qif/internal/jobs"
	"github.com/dvloznov/qfx2qif/internal/jobs/inmemory"
	"github.com/dvloznov/qfx2qif/internal/logger"
	"github.com/dvloznov/qfx2qif/internal/pipeline"
	"github.com/dvloznov/qfx2qif/internal/storage"
)

func main() {
	// Initialize logger
	log := logger.New()
	cfg := config.Load(log)
	log = log.Level(logger.ParseLevel(cfg.LogLevel))

	// Parse command-line flags
	var (
		port    = flag.String("port", cfg.Port, "HTTP server port (or set PORT)")
		workers = flag.Int("workers", cfg.Workers, "Number of conversion workers (or set WORKERS)")
	)
	flag.Parse()

	ctx := context.Background()

	// The run ledger is optional; /api/runs answers 503 without it.
	deps := pipeline.Deps{Storage: storage.NewService()}
	var runRepo infraBQ.RunRepository
	if cfg.LedgerEnabled() {
		repo, err := infraBQ.NewBigQueryRunRepository(ctx, cfg.GCPProject, cfg.BQDataset)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create run repository")
		}
		defer repo.Close()

		if err := repo.EnsureTables(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to prepare ledger tables")
		}
		deps.Recorder = repo
		runRepo = repo
	} else {
		log.Warn().Msg("No GCP project configured - conversion runs will not be recorded")
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, *workers, jobStore)

	// Start workers in background to process jobs
	workerCtx, cancelWorker := context.WithCancel(logger.WithContext(ctx, log))
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, jobs.NewConvertFileHandler(deps)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}
	log.Info().Int("workers", *workers).Msg("Job workers started")

	// Initialize handlers
	convertHandler := handlers.NewConvertHandler(cfg.CacheTTL, cfg.MaxUploadSizeBytes, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, jobQueue, log)
	runsHandler := handlers.NewRunsHandler(runRepo, log)

	// Create router
	mux := http.NewServeMux()

	mux.HandleFunc("/api/convert", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			convertHandler.Convert(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			jobsHandler.ListJobs(w, r)
		case http.MethodPost:
			jobsHandler.CreateJob(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			// Extract job ID from path
			jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			jobsHandler.GetJob(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			runsHandler.ListRuns(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", handlers.Health)

	// Apply middleware; RequestID must run before Logger so log lines carry it.
	handler := middleware.Chain(mux,
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.CORS,
		middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	// Close job queue
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
