package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gitlab.com/voxline/api/voxline-call-directory/internal/config"
	"gitlab.com/voxline/api/voxline-call-directory/internal/jetstream"
	"gitlab.com/voxline/api/voxline-call-directory/internal/model"
	"gitlab.com/voxline/api/voxline-call-directory/internal/observer"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/logger"
	"go.uber.org/zap"
)

// IndividualTaskDetail holds info for a single message within a batch.
type IndividualTaskDetail struct {
	BaseSubject  string
	ProfileID    string
	HistoryCount int
}

// BatchTask represents a batch of messages to be processed by a worker.
type BatchTask struct {
	Tasks      []IndividualTaskDetail
	NatsClient jetstream.ClientInterface
}

const defaultBatchSize = 50

func main() {
	// --- Configuration & Flag Parsing ---
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	natsURL := flag.String("url", cfg.NATS.URL, "NATS server URL")
	subjectsStr := flag.String("subjects", "v1.calls.ended,v1.calls.missed,v1.calls.rejected", "Comma-separated list of base NATS subjects")
	rate := flag.Int("rate", 100, "Target messages per second (total)")
	duration := flag.Duration("duration", 1*time.Minute, "Load test duration")
	concurrency := flag.Int("concurrency", 10, "Number of concurrent workers")
	profileIDsStr := flag.String("profile_ids", cfg.Profile.Default, "Comma-separated list of profile IDs")
	batchSize := flag.Int("batch-size", defaultBatchSize, "Number of messages to generate/publish per worker batch")
	historyCount := flag.Int("history-count", 10, "Number of calls per history payload (for v1.history.calls)")
	metricsPort := flag.Int("metrics-port", 9091, "Port for Prometheus metrics endpoint")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "NATS Call Event Load Generator\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generates load for the call directory by publishing fake call events to NATS.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *batchSize <= 0 {
		*batchSize = defaultBatchSize
		fmt.Printf("Invalid batch size, using default: %d\n", defaultBatchSize)
	}
	if *historyCount <= 0 {
		*historyCount = 10
		fmt.Printf("Invalid history count, using default: %d\n", 10)
	}

	// --- Initialization ---
	if err := logger.Initialize(*logLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start metrics server with graceful shutdown
	metricsServer := startMetricsServer(*metricsPort)
	var metricsWg sync.WaitGroup
	metricsWg.Add(1)
	go func() {
		defer metricsWg.Done()
		<-ctx.Done()
		logger.Log.Info("Shutting down metrics server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Metrics server shutdown error", zap.Error(err))
		} else {
			logger.Log.Info("Metrics server stopped gracefully.")
		}
	}()

	logger.Log.Info("Starting NATS Call Event Load Generator",
		zap.String("nats_url", *natsURL),
		zap.String("subjects", *subjectsStr),
		zap.Int("rate_per_sec", *rate),
		zap.Duration("duration", *duration),
		zap.Int("concurrency", *concurrency),
		zap.Int("batch_size", *batchSize),
		zap.String("profile_ids", *profileIDsStr),
		zap.Int("metrics_port", *metricsPort),
		zap.String("log_level", *logLevel),
	)

	natsClient, err := jetstream.NewClient(*natsURL)
	if err != nil {
		logger.Log.Fatal("Failed to connect to NATS", zap.String("url", *natsURL), zap.Error(err))
	}
	defer natsClient.Close()
	logger.Log.Info("Connected to NATS", zap.String("url", *natsURL))

	baseSubjects := strings.Split(*subjectsStr, ",")
	profileIDs := strings.Split(*profileIDsStr, ",")
	if len(baseSubjects) == 0 || baseSubjects[0] == "" {
		logger.Log.Fatal("No base subjects provided")
	}
	if len(profileIDs) == 0 || profileIDs[0] == "" {
		logger.Log.Fatal("No profile IDs provided")
	}

	gofakeit.Seed(time.Now().UnixNano())

	// --- Worker Pool Setup ---
	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(*concurrency, func(data interface{}) {
		batchWorkerFunc(data, &wg)
	})
	if err != nil {
		logger.Log.Fatal("Failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	logger.Log.Info("Worker pool initialized", zap.Int("size", *concurrency))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var loopWg sync.WaitGroup
	loopWg.Add(1)

	go runBatchLoadLoop(ctx, *rate, *duration, *batchSize, *historyCount, baseSubjects, profileIDs, natsClient, pool, &wg, &loopWg)

	select {
	case sig := <-sigChan:
		logger.Log.Info("Received termination signal, shutting down...", zap.String("signal", sig.String()))
		cancel()
	case <-ctx.Done():
		logger.Log.Info("Load generation duration finished or context cancelled externally.")
	}

	// --- Graceful Shutdown ---
	logger.Log.Info("Waiting for load generation loop to finish submitting tasks...")
	loopWg.Wait()
	logger.Log.Info("Load generation loop finished.")

	logger.Log.Info("Waiting for active publishing worker tasks to complete...")
	wg.Wait()
	logger.Log.Info("All worker tasks finished.")

	logger.Log.Info("Waiting for metrics server to stop...")
	cancel()
	metricsWg.Wait()

	logger.Log.Info("Load generator shutdown complete.")
}

func startMetricsServer(port int) *http.Server {
	logger.Log.Info("Starting Prometheus metrics server", zap.Int("port", port))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Error("Failed to start Prometheus metrics server", zap.Error(err))
		}
	}()

	return server
}

// runBatchLoadLoop manages the rate-limited submission of batches to the worker pool.
func runBatchLoadLoop(ctx context.Context, rate int, duration time.Duration, batchSize, historyCount int, subjects, profiles []string, nc jetstream.ClientInterface, pool *ants.PoolWithFunc, wg *sync.WaitGroup, loopWg *sync.WaitGroup) {
	defer loopWg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	durationTimer := time.NewTimer(duration)
	defer durationTimer.Stop()

	messageCounter := 0
	currentBatch := make([]IndividualTaskDetail, 0, batchSize)

	logger.Log.Info("Starting batch load generation loop",
		zap.Int("target_rate_per_sec", rate),
		zap.Duration("duration", duration),
		zap.Int("batch_size", batchSize),
	)

	submitBatch := func(batchToSubmit []IndividualTaskDetail) {
		if len(batchToSubmit) == 0 {
			return
		}
		batchData := BatchTask{
			Tasks:      batchToSubmit,
			NatsClient: nc,
		}
		wg.Add(len(batchToSubmit))
		if err := pool.Invoke(batchData); err != nil {
			logger.Log.Warn("Failed to invoke worker pool for batch", zap.Int("batch_task_count", len(batchToSubmit)), zap.Error(err))
			wg.Add(-len(batchToSubmit))
			for _, taskDetail := range batchToSubmit {
				observer.IncLoadgenPublishErrors(taskDetail.BaseSubject, taskDetail.ProfileID)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("Load generation loop stopping due to context cancellation. Submitting final partial batch...")
			submitBatch(currentBatch)
			return
		case <-durationTimer.C:
			logger.Log.Info("Load generation loop stopping after specified duration. Submitting final partial batch...")
			submitBatch(currentBatch)
			return
		case <-ticker.C:
			select {
			case <-ctx.Done():
				logger.Log.Debug("Context cancelled during ticker processing, skipping new task addition.")
				return
			default:
			}

			selectedSubject := subjects[messageCounter%len(subjects)]
			selectedProfile := profiles[messageCounter%len(profiles)]
			messageCounter++

			observer.IncLoadgenMessagesAttempted(selectedSubject, selectedProfile)

			currentBatch = append(currentBatch, IndividualTaskDetail{
				BaseSubject:  selectedSubject,
				ProfileID:    selectedProfile,
				HistoryCount: historyCount,
			})

			if len(currentBatch) >= batchSize {
				submitBatch(currentBatch)
				currentBatch = make([]IndividualTaskDetail, 0, batchSize)
			}
		}
	}
}

// batchWorkerFunc processes a batch of tasks.
func batchWorkerFunc(data interface{}, wg *sync.WaitGroup) {
	batchTask := data.(BatchTask)

	for _, taskDetail := range batchTask.Tasks {
		func(td IndividualTaskDetail) {
			defer wg.Done()

			finalSubject := fmt.Sprintf("%s.%s", td.BaseSubject, td.ProfileID)
			var payload interface{}

			switch td.BaseSubject {
			case string(model.V1CallEnded), string(model.V1CallMissed), string(model.V1CallRejected):
				p := model.NewFakeCallEventPayload(td.ProfileID)
				p.CallStatus = "" // Let the consumer derive the status from the event type
				payload = p
			case string(model.V1HistoricalCalls):
				calls := make([]model.CallEventPayload, 0, td.HistoryCount)
				for i := 0; i < td.HistoryCount; i++ {
					calls = append(calls, model.NewFakeCallEventPayload(td.ProfileID))
				}
				payload = model.HistoryCallPayload{Calls: calls, IsLastBatch: true}
			default:
				logger.Log.Error("Unsupported base subject for payload generation in batch", zap.String("subject", td.BaseSubject))
				observer.IncLoadgenPublishErrors(td.BaseSubject, td.ProfileID)
				return
			}

			payloadBytes, err := json.Marshal(payload)
			if err != nil {
				logger.Log.Error("Failed to marshal payload in batch",
					zap.String("subject", finalSubject),
					zap.String("type", fmt.Sprintf("%T", payload)),
					zap.Error(err))
				observer.IncLoadgenPublishErrors(td.BaseSubject, td.ProfileID)
				return
			}

			headers := map[string]string{"ProfileID": td.ProfileID}
			if err := batchTask.NatsClient.Publish(finalSubject, payloadBytes, headers); err != nil {
				logger.Log.Error("Failed to publish message in batch", zap.String("subject", finalSubject), zap.Error(err))
				observer.IncLoadgenPublishErrors(td.BaseSubject, td.ProfileID)
			} else {
				observer.IncLoadgenMessagesPublished(td.BaseSubject, td.ProfileID)
			}
		}(taskDetail)
	}
}
