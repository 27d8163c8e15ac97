package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gitlab.com/voxline/api/voxline-call-directory/internal/cache"
	"gitlab.com/voxline/api/voxline-call-directory/internal/config"
	"gitlab.com/voxline/api/voxline-call-directory/internal/directory"
	"gitlab.com/voxline/api/voxline-call-directory/internal/healthcheck"
	"gitlab.com/voxline/api/voxline-call-directory/internal/jetstream"
	"gitlab.com/voxline/api/voxline-call-directory/internal/observer"
	"gitlab.com/voxline/api/voxline-call-directory/internal/profile"
	"gitlab.com/voxline/api/voxline-call-directory/internal/storage"
	"gitlab.com/voxline/api/voxline-call-directory/internal/usecase"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/logger"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/utils"
	"go.uber.org/zap"
)

const contactCacheExpectedItems = 10000
const contactCacheFPRate = 0.01

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	// Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metricsEnabled := cfg.Metrics.Enabled // Rely solely on the config flag
	observer.InitMetrics(metricsEnabled)

	// Resolve the profile this instance serves
	profileID := cfg.Profile.ID
	if profileID == "" {
		profileID = cfg.Profile.Default
	}
	if profileID == "" {
		profileID = profile.Default
	}

	// Log startup information
	logger.Log.Info("Starting Voxline Call Directory",
		zap.String("environment", cfg.Environment),
		zap.String("profile_id", profileID),
		zap.String("nats_url", cfg.NATS.URL),
	)

	// Initialize repositories
	postgresRepo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate, profileID)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	// Initialize JetStream client
	jsClient, err := initJetStreamClient(cfg.NATS.URL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
	}

	// Ensure the DLQ stream exists before any consumer can publish to it
	if err := setupDLQStream(jsClient, cfg); err != nil {
		logger.Log.Fatal("Failed to set up DLQ stream", zap.Error(err))
	}

	// Create repository adapters
	contactRepo := storage.NewContactRepoAdapter(postgresRepo)
	callHistoryRepo := storage.NewCallHistoryRepoAdapter(postgresRepo)

	// Bloom cache over normalized contact numbers, rebuilt on every
	// directory refresh
	numbers := cache.NewContactNumberCache(profileID, contactCacheExpectedItems, contactCacheFPRate)

	// Reactive repositories backing the UI observers
	errorPolicy := directory.ErrorPolicy(cfg.Directory.ErrorPolicy)
	contactDirectory := directory.NewContactDirectory(contactRepo, numbers, errorPolicy, profileID)
	callJournal := directory.NewCallJournal(callHistoryRepo, errorPolicy, profileID)

	// Create ingest worker pool for post-persist contact matching
	ingestWorker, err := usecase.NewIngestWorker(
		cfg.WorkerPools.Ingest,
		contactRepo,
		numbers,
		callJournal,
		logger.Log, // Pass the base logger
	)
	if err != nil {
		logger.Log.Fatal("Failed to initialize ingest worker pool", zap.Error(err))
	}

	// Create service, injecting the worker pool
	service := usecase.NewCallEventService(callHistoryRepo, contactRepo, callJournal, ingestWorker)

	// Create and set up processor - takes the full config object
	processor := usecase.NewProcessor(service, jsClient, cfg, profileID)
	if err := processor.Setup(); err != nil {
		logger.Log.Fatal("Failed to set up processor", zap.Error(err))
	}

	// Create health check server
	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Server.Port), logger.Log)

	// Register metrics handler if enabled BEFORE starting the server
	if metricsEnabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled for environment", zap.String("environment", cfg.Environment))
	}

	// Start health check server (which now might include /metrics)
	healthServer.Start()

	logger.Log.Info("Health check endpoints available",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Server.Port)),
	)

	// Start processor
	if err := processor.Start(); err != nil {
		logger.Log.Fatal("Failed to start processor", zap.Error(err))
	}

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	// Use WaitGroup to track shutdown of all components
	var wg sync.WaitGroup

	// processor, ingest worker, directories, health server, connections
	numComponents := 5
	wg.Add(numComponents)

	// Shutdown processor (JetStream consumers)
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping event processor")
		start := time.Now()
		processor.Stop()
		logger.Log.Info("[shutdown] Event processor stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping event processor",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown ingest worker pool
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping ingest worker pool")
		start := time.Now()
		ingestWorker.Stop()
		logger.Log.Info("[shutdown] Ingest worker pool stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping ingest worker pool",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown reactive repositories (drain pending commands, close subscribers)
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Closing contact directory and call journal")
		start := time.Now()
		callJournal.Close()
		contactDirectory.Close()
		logger.Log.Info("[shutdown] Reactive repositories closed",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while closing reactive repositories",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown health check server (includes metrics if enabled)
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping health check server")
		start := time.Now()
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping health check server", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] Health check server stopped",
				zap.Duration("duration", time.Since(start)))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping health check server",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Close database and NATS connections
	utils.SafeGo(func() {
		defer wg.Done()

		logger.Log.Info("[shutdown] Closing PostgreSQL connection")
		pgStart := time.Now()
		if err := postgresRepo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] PostgreSQL connection closed",
				zap.Duration("duration", time.Since(pgStart)))
		}

		logger.Log.Info("[shutdown] Closing JetStream connection")
		jsStart := time.Now()
		jsClient.Close()
		logger.Log.Info("[shutdown] JetStream connection closed",
			zap.Duration("duration", time.Since(jsStart)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while closing connections",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Wait with a timeout for all components to shut down
	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("Voxline Call Directory shutdown complete")
}

// Initialize PostgreSQL repository
func initPostgresRepo(dsn string, autoMigrate bool, profileID string) (*storage.PostgresRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(dsn, autoMigrate, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

// initJetStreamClient initializes the JetStream client
func initJetStreamClient(url string) (*jetstream.Client, error) {
	client, err := jetstream.NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream client: %w", err)
	}
	// Stream and consumer setup is handled within the processor/consumer Setup methods
	return client, nil
}

// setupDLQStream creates the dead-letter stream consumers publish
// poison messages to.
func setupDLQStream(client *jetstream.Client, cfg *config.Config) error {
	streamCfg := &nats.StreamConfig{
		Name:      cfg.NATS.DLQStream,
		Subjects:  []string{cfg.NATS.DLQSubject + ".>"}, // Consumers publish to <subject>.<profileID>
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(cfg.NATS.DLQMaxAgeDays) * 24 * time.Hour,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.SetupStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("failed to setup DLQ stream '%s': %w", cfg.NATS.DLQStream, err)
	}

	logger.Log.Info("DLQ stream ready",
		zap.String("stream", cfg.NATS.DLQStream),
		zap.String("subject", cfg.NATS.DLQSubject),
		zap.Int("max_age_days", cfg.NATS.DLQMaxAgeDays),
	)
	return nil
}
