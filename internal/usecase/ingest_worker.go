package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	apperrors "gitlab.com/voxline/api/voxline-call-directory/internal/apperrors"
	"gitlab.com/voxline/api/voxline-call-directory/internal/cache"
	"gitlab.com/voxline/api/voxline-call-directory/internal/config"
	"gitlab.com/voxline/api/voxline-call-directory/internal/model"
	"gitlab.com/voxline/api/voxline-call-directory/internal/observer"
	"gitlab.com/voxline/api/voxline-call-directory/internal/profile"
	"gitlab.com/voxline/api/voxline-call-directory/internal/storage"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/logger"
)

// IngestTaskData holds the post-persist work for one call entry.
type IngestTaskData struct {
	Ctx   context.Context // Context derived for the task, NOT the original request context
	Entry model.CallHistoryEntry
}

// IIngestWorker defines the interface for the ingest worker pool.
type IIngestWorker interface {
	SubmitTask(taskData IngestTaskData) error
	Stop()
}

// IngestWorker runs the work that follows a persisted call entry: matching
// the caller against the contact set and scheduling a journal refresh. It is
// deliberately off the hot path so NATS acks are not delayed by it.
type IngestWorker struct {
	pool        *ants.PoolWithFunc
	contactRepo storage.ContactRepo
	numbers     *cache.ContactNumberCache
	journal     JournalNotifier
	cfg         config.IngestWorkerPoolConfig
	baseLogger  *zap.Logger
}

// Ensure IngestWorker implements IIngestWorker
var _ IIngestWorker = (*IngestWorker)(nil)

// NewIngestWorker creates and initializes a new ingest worker pool.
func NewIngestWorker(
	cfg config.IngestWorkerPoolConfig,
	contactRepo storage.ContactRepo,
	numbers *cache.ContactNumberCache,
	journal JournalNotifier,
	baseLogger *zap.Logger,
) (*IngestWorker, error) {
	worker := &IngestWorker{
		contactRepo: contactRepo,
		numbers:     numbers,
		journal:     journal,
		cfg:         cfg,
		baseLogger:  baseLogger.Named("ingest_worker"),
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		taskData, ok := i.(IngestTaskData)
		if !ok {
			worker.baseLogger.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		worker.processIngestTask(taskData)
	},
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithNonblocking(false), // Block when the queue is full, bounded by MaxBlockingTasks
		ants.WithMaxBlockingTasks(cfg.QueueSize),
		ants.WithPanicHandler(func(err interface{}) {
			worker.baseLogger.Error("Panic recovered in ingest worker", zap.Any("panic_error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest worker pool: %w", err)
	}
	worker.pool = pool
	worker.baseLogger.Info("Ingest worker pool initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Duration("expiry_time", cfg.ExpiryTime),
		zap.Duration("max_block_time", cfg.MaxBlock),
	)
	return worker, nil
}

// SubmitTask submits post-persist work for one call entry to the pool.
func (w *IngestWorker) SubmitTask(taskData IngestTaskData) error {
	start := time.Now()
	observer.IncIngestTasksSubmitted(taskData.Entry.ProfileID)
	observer.SetIngestQueueLength(w.pool.Waiting()) // Approximate queue length

	err := w.pool.Invoke(taskData)
	duration := time.Since(start)

	if err != nil {
		w.baseLogger.Warn("Failed to submit ingest task to pool",
			zap.String("phone_number", taskData.Entry.PhoneNumber),
			zap.String("profile_id", taskData.Entry.ProfileID),
			zap.Duration("submit_duration", duration),
			zap.Error(err),
		)
		observer.IncIngestTasksProcessed(taskData.Entry.ProfileID, "submit_error")
		if errors.Is(err, ants.ErrPoolOverload) {
			return fmt.Errorf("ingest pool overload: %w", err)
		}
		return fmt.Errorf("failed to invoke ingest task: %w", err)
	}

	w.baseLogger.Debug("Successfully submitted ingest task",
		zap.String("phone_number", taskData.Entry.PhoneNumber),
		zap.String("profile_id", taskData.Entry.ProfileID),
		zap.Duration("submit_duration", duration),
	)
	return nil
}

// processIngestTask contains the actual logic executed by a worker goroutine.
func (w *IngestWorker) processIngestTask(taskData IngestTaskData) {
	log := logger.FromContextOr(taskData.Ctx, w.baseLogger).With(
		zap.String("task_phone_number", taskData.Entry.PhoneNumber),
		zap.String("task_profile_id", taskData.Entry.ProfileID),
	)

	start := time.Now()
	status := "success" // Default status for metrics

	log.Debug("Processing ingest task")

	// Carry the profile ID on the task's context for repository operations
	taskCtx := profile.WithProfileID(taskData.Ctx, taskData.Entry.ProfileID)

	phoneNumber := taskData.Entry.PhoneNumber
	if phoneNumber == "" {
		log.Warn("Skipping ingest task: empty phone number")
		observer.IncIngestTasksProcessed(taskData.Entry.ProfileID, "skipped_empty_phone")
		return
	}

	// Match the caller against the contact set. A bloom miss is definitive,
	// so the store lookup only runs on a possible hit.
	if w.numbers == nil || w.numbers.MaybeKnown(phoneNumber) {
		contact, err := w.contactRepo.FindByPhone(taskCtx, phoneNumber)
		switch {
		case err == nil && contact != nil:
			log.Debug("Call entry matches a saved contact",
				zap.String("contact_id", contact.ID),
				zap.String("contact_name", contact.Name),
			)
		case errors.Is(err, apperrors.ErrNotFound):
			if w.numbers != nil {
				w.numbers.RecordFalsePositive()
			}
		case err != nil:
			log.Error("Error matching call entry against contacts", zap.Error(err))
			status = "failure_contact_check"
		}
	}

	// Refresh the journal snapshot regardless of the match outcome; the
	// entry itself is already persisted.
	w.journal.NotifyAppended()

	observer.IncIngestTasksProcessed(taskData.Entry.ProfileID, status)
	observer.ObserveIngestProcessingDuration(taskData.Entry.ProfileID, time.Since(start))
	observer.SetIngestQueueLength(w.pool.Waiting())
}

// Stop gracefully shuts down the worker pool, waiting for queued tasks.
func (w *IngestWorker) Stop() {
	w.baseLogger.Info("Stopping ingest worker pool...")
	w.pool.Release()
	w.baseLogger.Info("Ingest worker pool stopped")
}
