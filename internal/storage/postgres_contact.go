package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "gitlab.com/voxline/api/voxline-call-directory/internal/apperrors"
	"gitlab.com/voxline/api/voxline-call-directory/internal/model"
	"gitlab.com/voxline/api/voxline-call-directory/internal/observer"
	"gitlab.com/voxline/api/voxline-call-directory/internal/profile"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/logger"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/utils"
)

// --- Contact Repository Methods ---

// InsertContact persists a new contact. The phone number is expected to be
// normalized by the caller; a row with the same number maps to ErrDuplicate.
func (r *PostgresRepo) InsertContact(ctx context.Context, contact model.Contact) (*model.Contact, error) {
	profileID := profile.FromContextOrDefault(ctx)
	loggerCtx := logger.FromContext(ctx)

	if contact.PhoneNumber == "" {
		return nil, fmt.Errorf("%w: contact phone number cannot be empty", apperrors.ErrBadRequest)
	}
	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}

	operation := func() error {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		var txErr error
		defer func() {
			if r := recover(); r != nil {
				tx.Rollback() // Attempt rollback
				panic(r)      // Re-panic
			} else if txErr != nil {
				if rbErr := tx.Rollback().Error; rbErr != nil {
					loggerCtx.Error("Failed to rollback transaction after error", zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		var existing model.Contact
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("phone_number = ?", contact.PhoneNumber).
			First(&existing)
		findErr := result.Error

		if findErr == nil {
			// A contact with this number already exists, refuse the insert.
			txErr = fmt.Errorf("%w: phone number %s already belongs to contact %s", apperrors.ErrDuplicate, contact.PhoneNumber, existing.ID)
			return backoff.Permanent(txErr)
		}
		if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			txErr = fmt.Errorf("%w: failed to check for existing contact: %w", apperrors.ErrDatabase, findErr)
			return txErr
		}

		if createErr := tx.Create(&contact).Error; createErr != nil {
			txErr = checkConstraintViolation(createErr)
			return txErr
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit insert transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil // Success
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "InsertContact Commit", operation)
	observer.ObserveDbOperationDuration("insert", "contact", profileID, time.Since(startTime), commitErr)
	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrDuplicate) {
			// Expected outcome for repeated numbers, no need for an error-level log.
			loggerCtx.Debug("Rejected duplicate contact insert", zap.String("phone_number", contact.PhoneNumber))
			return nil, commitErr
		}
		loggerCtx.Error("Failed to insert contact after retries", zap.Error(commitErr))
		return nil, commitErr
	}
	return &contact, nil
}

// DeleteContactByID removes a contact by its ID. Returns ErrNotFound when no
// row matches.
func (r *PostgresRepo) DeleteContactByID(ctx context.Context, id string) error {
	profileID := profile.FromContextOrDefault(ctx)
	loggerCtx := logger.FromContext(ctx)

	if id == "" {
		return fmt.Errorf("%w: contact id cannot be empty", apperrors.ErrBadRequest)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Contact{})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return backoff.Permanent(fmt.Errorf("%w: contact_id %s", apperrors.ErrNotFound, id))
		}
		return nil // Success
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	deleteErr := retryableOperation(ctx, commitPolicy, "DeleteContactByID", operation)
	observer.ObserveDbOperationDuration("delete", "contact", profileID, time.Since(startTime), deleteErr)
	if deleteErr != nil {
		if errors.Is(deleteErr, apperrors.ErrNotFound) {
			return deleteErr
		}
		loggerCtx.Error("Failed to delete contact after retries", zap.String("contact_id", id), zap.Error(deleteErr))
		return deleteErr
	}
	return nil
}

// FetchAllContacts returns every stored contact ordered by name,
// case-insensitively.
func (r *PostgresRepo) FetchAllContacts(ctx context.Context) ([]model.Contact, error) {
	profileID := profile.FromContextOrDefault(ctx)
	loggerCtx := logger.FromContext(ctx)

	var contacts []model.Contact
	operation := func() error {
		result := r.db.WithContext(ctx).
			Order("lower(name) ASC").
			Find(&contacts)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil // Success, even if no records found
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FetchAllContacts", operation)
	observer.ObserveDbOperationDuration("fetch_all", "contact", profileID, time.Since(startTime), findErr)

	if findErr != nil {
		loggerCtx.Error("Failed to fetch contacts after retries", zap.Error(findErr))
		return nil, findErr // Already wrapped
	}
	if contacts == nil { // Ensure empty slice is returned, not nil
		return []model.Contact{}, nil
	}
	return contacts, nil
}

// FindContactByPhone finds a contact by its normalized phone number.
func (r *PostgresRepo) FindContactByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	profileID := profile.FromContextOrDefault(ctx)
	loggerCtx := logger.FromContext(ctx)

	var contact model.Contact
	operation := func() error {
		result := r.db.WithContext(ctx).Where("phone_number = ?", phone).First(&contact)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: phone %s: %w", apperrors.ErrNotFound, phone, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil // Success
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindContactByPhone", operation)
	observer.ObserveDbOperationDuration("find_by_phone", "contact", profileID, time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			// Return the sentinel error directly
			return nil, apperrors.ErrNotFound
		}
		loggerCtx.Error("Failed to find contact by phone after retries",
			zap.String("phone", phone),
			zap.Error(findErr))
		return nil, findErr
	}
	return &contact, nil
}

// ClearContacts removes every stored contact.
func (r *PostgresRepo) ClearContacts(ctx context.Context) error {
	profileID := profile.FromContextOrDefault(ctx)
	loggerCtx := logger.FromContext(ctx)

	operation := func() error {
		result := r.db.WithContext(ctx).Where("1 = 1").Delete(&model.Contact{})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		loggerCtx.Info("Cleared contacts", zap.Int64("rows_affected", result.RowsAffected))
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	clearErr := retryableOperation(ctx, commitPolicy, "ClearContacts", operation)
	observer.ObserveDbOperationDuration("clear", "contact", profileID, time.Since(startTime), clearErr)
	if clearErr != nil {
		loggerCtx.Error("Failed to clear contacts after retries", zap.Error(clearErr))
		return clearErr
	}
	return nil
}
