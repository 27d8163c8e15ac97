package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "gitlab.com/voxline/api/voxline-call-directory/internal/apperrors"
	"gitlab.com/voxline/api/voxline-call-directory/internal/model"
	"gitlab.com/voxline/api/voxline-call-directory/internal/observer"
	"gitlab.com/voxline/api/voxline-call-directory/internal/profile"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/logger"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/utils"
)

// --- Call History Repository Methods ---

// SaveCallEntry appends a single call record. Entries are append-only; there
// is no dedup key, every finished call produces its own row.
func (r *PostgresRepo) SaveCallEntry(ctx context.Context, entry model.CallHistoryEntry) error {
	profileID := profile.FromContextOrDefault(ctx)
	loggerCtx := logger.FromContext(ctx)

	if entry.PhoneNumber == "" {
		return fmt.Errorf("%w: call entry phone number cannot be empty", apperrors.ErrBadRequest)
	}
	if entry.ProfileID == "" {
		entry.ProfileID = profileID
	}

	operation := func() error {
		if createErr := r.db.WithContext(ctx).Create(&entry).Error; createErr != nil {
			return checkConstraintViolation(createErr)
		}
		return nil // Success
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	saveErr := retryableOperation(ctx, commitPolicy, "SaveCallEntry", operation)
	observer.ObserveDbOperationDuration("save", "call_history", profileID, time.Since(startTime), saveErr)
	if saveErr != nil {
		loggerCtx.Error("Failed to save call entry after retries",
			zap.String("phone_number", entry.PhoneNumber),
			zap.Error(saveErr))
		return saveErr
	}
	return nil
}

// BulkInsertCallEntries appends a batch of call records in one transaction.
// Used by the historical backfill path.
func (r *PostgresRepo) BulkInsertCallEntries(ctx context.Context, entries []model.CallHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	profileID := profile.FromContextOrDefault(ctx)
	loggerCtx := logger.FromContext(ctx)

	for i := range entries {
		if entries[i].ProfileID == "" {
			entries[i].ProfileID = profileID
		}
	}

	operation := func() error {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		var txErr error
		defer func() {
			if r := recover(); r != nil {
				tx.Rollback()
				panic(r)
			} else if txErr != nil {
				if rbErr := tx.Rollback().Error; rbErr != nil {
					loggerCtx.Error("Failed to rollback transaction after error", zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		result := tx.CreateInBatches(&entries, 100)
		if result.Error != nil {
			txErr = checkConstraintViolation(result.Error)
			return txErr
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit bulk insert transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		loggerCtx.Info("Bulk insert of call entries successful",
			zap.Int("entries_processed", len(entries)),
			zap.Int64("rows_affected", result.RowsAffected))
		return nil // Success
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "BulkInsertCallEntries Commit", operation)
	observer.ObserveDbOperationDuration("bulk_insert", "call_history", profileID, time.Since(startTime), commitErr)
	if commitErr != nil {
		loggerCtx.Error("Failed to bulk insert call entries after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FetchCallHistory returns all call records for the given profile, newest
// first. Entries without a timestamp sort last so they group into the
// "unknown" bucket downstream.
func (r *PostgresRepo) FetchCallHistory(ctx context.Context, profileID string) ([]model.CallHistoryEntry, error) {
	loggerCtx := logger.FromContext(ctx)

	if profileID == "" {
		profileID = profile.Default
	}

	var entries []model.CallHistoryEntry
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("profile_id = ?", profileID).
			Order("timestamp DESC NULLS LAST").
			Find(&entries)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil // Success, even if no records found
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FetchCallHistory", operation)
	observer.ObserveDbOperationDuration("fetch_all", "call_history", profileID, time.Since(startTime), findErr)

	if findErr != nil {
		loggerCtx.Error("Failed to fetch call history after retries",
			zap.String("profile_id", profileID),
			zap.Error(findErr))
		return nil, findErr // Already wrapped
	}
	if entries == nil { // Ensure empty slice is returned, not nil
		return []model.CallHistoryEntry{}, nil
	}
	return entries, nil
}

// ClearCallHistory removes every call record for the given profile.
func (r *PostgresRepo) ClearCallHistory(ctx context.Context, profileID string) error {
	loggerCtx := logger.FromContext(ctx)

	if profileID == "" {
		profileID = profile.Default
	}

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("profile_id = ?", profileID).
			Delete(&model.CallHistoryEntry{})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		loggerCtx.Info("Cleared call history",
			zap.String("profile_id", profileID),
			zap.Int64("rows_affected", result.RowsAffected))
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	clearErr := retryableOperation(ctx, commitPolicy, "ClearCallHistory", operation)
	observer.ObserveDbOperationDuration("clear", "call_history", profileID, time.Since(startTime), clearErr)
	if clearErr != nil {
		loggerCtx.Error("Failed to clear call history after retries",
			zap.String("profile_id", profileID),
			zap.Error(clearErr))
		return clearErr
	}
	return nil
}
