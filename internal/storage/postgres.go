package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gitlab.com/voxline/api/voxline-call-directory/internal/apperrors"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"gitlab.com/voxline/api/voxline-call-directory/internal/model"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/logger"
)

// --- Retry Logic Configuration ---
const (
	defaultRetryInitialInterval = 50 * time.Millisecond
	defaultRetryMaxInterval     = 2 * time.Second
	defaultRetryMaxElapsedTime  = 10 * time.Second
	readRetryMaxElapsedTime     = 5 * time.Second  // More aggressive for reads
	commitRetryMaxElapsedTime   = 15 * time.Second // More tolerant for commits
)

// newRetryPolicy creates a new exponential backoff policy with context awareness.
func newRetryPolicy(ctx context.Context, maxElapsedTime time.Duration) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryInitialInterval
	b.MaxInterval = defaultRetryMaxInterval
	b.MaxElapsedTime = maxElapsedTime
	b.Reset() // Important: Reset before first use
	return backoff.WithContext(b, ctx)
}

// retryableOperation wraps a database operation with retry logic.
func retryableOperation(ctx context.Context, policy backoff.BackOffContext, opName string, operation func() error) error {
	notify := func(err error, d time.Duration) {
		logger.FromContext(ctx).Warn("Retrying DB operation",
			zap.String("operation", opName),
			zap.Error(err),
			zap.Duration("after", d),
		)
	}

	err := backoff.RetryNotify(func() error {
		err := operation()
		if err != nil {
			// Check for non-retryable errors first
			if errors.Is(err, gorm.ErrRecordNotFound) ||
				errors.Is(err, gorm.ErrInvalidTransaction) ||
				errors.Is(err, gorm.ErrDuplicatedKey) ||
				errors.Is(err, gorm.ErrForeignKeyViolated) {
				return backoff.Permanent(err) // Don't retry these GORM errors
			}
			// Check for potentially transient errors
			if isTransientError(err) {
				return err // Retry transient errors
			}
			// Treat other errors as permanent by default
			return backoff.Permanent(err)
		}
		return nil // Success
	}, policy, notify)

	return err
}

// isTransientError checks if the error suggests a temporary issue like a network problem.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	// Check for context deadline exceeded, often indicates a timeout
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Use specific pg driver error checks if possible (example for pgx/v5)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Add specific PostgreSQL error codes that indicate transient issues
		// See https://www.postgresql.org/docs/current/errcodes-appendix.html
		// Class 08: Connection Exception
		// Class 53: Insufficient Resources
		if strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			strings.HasPrefix(pgErr.Code, "40P01") ||
			strings.HasPrefix(pgErr.Code, "40001") {
			return true // Retry connection and resource errors
		}
	}

	// Fallback to string matching for common network-related errors
	errStr := strings.ToLower(err.Error())
	transientIndicators := []string{
		"connection refused",
		"network is unreachable",
		"i/o timeout",
		"broken pipe",
		"connection reset by peer",
		"could not translate host name",
		"no route to host",
		"database system is starting up", // Might occur during failover/restart
		"connection timed out",
		"connection reset", // Generic reset indicator
	}
	for _, indicator := range transientIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// PostgresRepo implements repositories for contacts and call history
type PostgresRepo struct {
	db *gorm.DB
}

// ensureTableExists checks if a table exists and creates it using the provided SQL DDL if it doesn't.
func ensureTableExists(db *gorm.DB, schemaName string, tableName string, createTableSQL string) error {
	var exists bool
	// Explicitly check within the target schema
	checkSQL := `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = ? AND table_name = ?
		)`
	err := db.Raw(checkSQL, schemaName, tableName).Scan(&exists).Error
	if err != nil {
		return fmt.Errorf("failed to check if table %s exists in schema %s: %w", tableName, schemaName, err)
	}

	if !exists {
		logger.Log.Info("Table does not exist, creating table", zap.String("tableName", tableName), zap.String("schema", schemaName))
		if err := db.Exec(createTableSQL).Error; err != nil {
			return fmt.Errorf("failed to create table %s in schema %s: %w", tableName, schemaName, err)
		}
		logger.Log.Info("Successfully created table", zap.String("tableName", tableName), zap.String("schema", schemaName))
	} else {
		logger.Log.Debug("Table already exists", zap.String("tableName", tableName), zap.String("schema", schemaName))
	}
	return nil
}

// profileNamer implements gorm schema.Namer interface for per-profile schemas
// It embeds the default NamingStrategy and overrides TableName.
type profileNamer struct {
	schema.NamingStrategy // Embed the default strategy
	schemaName            string
}

// TableName implements the schema.Namer interface, overriding the default.
func (pn profileNamer) TableName(table string) string {
	// GORM models return the base table name (e.g., "contacts")
	// We prepend the specific schema name for this connection.
	// Use fmt.Sprintf with %q to handle potential special characters in schema/table names.
	return fmt.Sprintf("%q.%s", pn.schemaName, table) // Qualify with schema
}

// NewPostgresRepo creates a new Postgres repository and initializes the per-profile schema
func NewPostgresRepo(dsn string, autoMigrate bool, profileID string) (*PostgresRepo, error) {
	// Retry connecting to the default database
	operationConnectDefault := func() (*gorm.DB, error) {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			if isTransientError(err) {
				logger.Log.Warn("Failed to connect to default postgres (transient), retrying...", zap.Error(err))
				return nil, err // Return transient error to trigger retry
			}
			return nil, backoff.Permanent(fmt.Errorf("failed to connect to default postgres db: %w", err))
		}
		return db, nil
	}

	notify := func(err error, d time.Duration) {
		logger.Log.Warn("Retrying default DB connection", zap.Error(err), zap.Duration("after", d))
	}

	// Configure exponential backoff
	// TODO: Make these configurable
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 1 * time.Minute // Stop retrying after 1 minute

	dbDefault, err := backoff.RetryNotifyWithData(operationConnectDefault, b, notify)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to default postgres after retries: %w", err)
	}

	schemaName := fmt.Sprintf("voxline_%s", profileID)
	logger.Log.Info("Ensuring PostgreSQL schema exists", zap.String("schema", schemaName))

	// Create schema if it doesn't exist - Use %q to quote the identifier
	if err := dbDefault.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", schemaName)).Error; err != nil {
		sqlDB, _ := dbDefault.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("failed to create schema %s: %w", schemaName, err)
	}

	// Close the initial connection
	sqlDB, err := dbDefault.DB()
	if err != nil {
		logger.Log.Warn("Failed to get underlying SQL DB handle for closing", zap.Error(err))
	} else {
		if err := sqlDB.Close(); err != nil {
			logger.Log.Warn("Failed to close initial DB connection", zap.Error(err))
		}
	}

	// Reconnect with a Namer that qualifies all table names with the profile schema.
	profileDSN := dsn

	operationConnectProfile := func() (*gorm.DB, error) {
		namer := profileNamer{schemaName: schemaName}
		db, err := gorm.Open(postgres.Open(profileDSN), &gorm.Config{
			NamingStrategy: namer, // Use the custom namer
		})
		if err != nil {
			if isTransientError(err) {
				logger.Log.Warn("Failed to connect to profile schema (transient), retrying...", zap.String("schema", schemaName), zap.Error(err))
				return nil, err
			}
			return nil, backoff.Permanent(fmt.Errorf("failed to connect to postgres profile schema %s: %w", schemaName, err))
		}
		return db, nil
	}

	notifyProfile := func(err error, d time.Duration) {
		logger.Log.Warn("Retrying profile schema DB connection", zap.String("schema", schemaName), zap.Error(err), zap.Duration("after", d))
	}

	bProfile := backoff.NewExponentialBackOff()
	bProfile.InitialInterval = 1 * time.Second
	bProfile.MaxInterval = 15 * time.Second
	bProfile.MaxElapsedTime = 1 * time.Minute

	db, err := backoff.RetryNotifyWithData(operationConnectProfile, bProfile, notifyProfile)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres profile db %s after retries: %w", schemaName, err)
	}

	repo := &PostgresRepo{db: db}

	// --- Define DDL for the call_history table ---
	// Timestamp is nullable on purpose: entries without a parseable timestamp
	// must still be persisted and grouped under an "unknown" bucket downstream.
	callHistoryTableDDL := fmt.Sprintf(`
	CREATE TABLE %q.call_history (
		id BIGSERIAL PRIMARY KEY,
		phone_number TEXT NOT NULL,
		caller_name TEXT,
		call_status TEXT,
		direction TEXT,
		timestamp TIMESTAMPTZ,
		profile_id TEXT NOT NULL,
		last_metadata JSONB,
		created_at TIMESTAMPTZ
	);
	`, schemaName)

	if err := ensureTableExists(db, schemaName, "call_history", callHistoryTableDDL); err != nil {
		sqlDBClose, _ := db.DB()
		if sqlDBClose != nil {
			sqlDBClose.Close()
		}
		return nil, err // Propagate error if table creation fails
	}

	// Add indexes separately after ensuring table exists. AutoMigrate might handle this later,
	// but adding manually ensures they exist even if AutoMigrate is off or fails partially.
	indexes := map[string]string{
		"idx_call_history_profile_id":   fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_call_history_profile_id ON %q.call_history USING btree (profile_id);", schemaName),
		"idx_call_history_timestamp":    fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_call_history_timestamp ON %q.call_history USING btree (timestamp DESC NULLS LAST);", schemaName),
		"idx_call_history_phone_number": fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_call_history_phone_number ON %q.call_history USING btree (phone_number);", schemaName),
	}

	for indexName, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			// Log index creation errors but don't fail startup, AutoMigrate might fix it
			logger.Log.Warn("Failed to create index", zap.String("indexName", indexName), zap.Error(err))
		}
	}

	// --- Run AutoMigrate for the contacts table ---
	if autoMigrate {
		logger.Log.Info("Running auto-migration for schema", zap.String("schema", schemaName))
		err = db.AutoMigrate(
			&model.Contact{},
			&model.CallHistoryEntry{},
		)
		if err != nil {
			// Log migration errors but don't necessarily fail startup
			logger.Log.Error("Auto-migration failed or produced errors", zap.Error(err), zap.String("schema", schemaName))
		}
	} else {
		logger.Log.Info("Auto-migration disabled")
	}

	// ---> Verify crucial tables after AutoMigrate <---
	checkExistsSQL := `SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = ? AND table_name = ?)`

	var contactTableExists bool
	if err := db.Raw(checkExistsSQL, schemaName, "contacts").Scan(&contactTableExists).Error; err != nil {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("failed to check for 'contacts' table existence after migration in schema %s: %w", schemaName, err)
	}
	if !contactTableExists {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("'contacts' table still does not exist after auto-migration in schema %s", schemaName)
	}
	logger.Log.Debug("'contacts' table verified post-migration", zap.String("schema", schemaName))

	var callHistoryTableExists bool
	if err := db.Raw(checkExistsSQL, schemaName, "call_history").Scan(&callHistoryTableExists).Error; err != nil {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("failed to check for 'call_history' table existence after migration in schema %s: %w", schemaName, err)
	}
	if !callHistoryTableExists {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("'call_history' table still does not exist after auto-migration in schema %s", schemaName)
	}
	logger.Log.Debug("'call_history' table verified post-migration", zap.String("schema", schemaName))
	// ---> End verification <---

	// Create indexes for contacts table. The unique phone index backs the
	// duplicate-number guard on contact creation.
	contactsIndexes := map[string]string{
		"idx_contacts_phone":      fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_phone ON %q.contacts USING btree (phone_number);", schemaName),
		"idx_contacts_name_lower": fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_contacts_name_lower ON %q.contacts USING btree (lower(name));", schemaName),
	}
	for indexName, indexSQL := range contactsIndexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			logger.Log.Warn("Failed to create index", zap.String("indexName", indexName), zap.Error(err))
		}
	}

	return repo, nil
}

// Close closes the database connection
func (r *PostgresRepo) Close(ctx context.Context) error {
	// Attempt to get the underlying sql.DB connection
	sqlDB, err := r.db.DB()
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to get underlying SQL DB for closing", zap.Error(err))
		return nil
	}

	closeErr := sqlDB.Close()
	if closeErr != nil {
		logger.FromContext(ctx).Error("Failed to close database connection", zap.Error(closeErr))
		return fmt.Errorf("failed to close SQL DB: %w", closeErr)
	}

	logger.FromContext(ctx).Info("Database connection closed successfully")
	return nil
}

// checkConstraintViolation inspects database errors and maps them to standard apperrors.
func checkConstraintViolation(err error) error {
	if err == nil {
		return nil
	}

	// Check for specific GORM errors first
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
	}

	// Check for underlying pgconn errors
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		// Class 23: Integrity Constraint Violation
		case "23505": // unique_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrDuplicate, pgErr.ConstraintName, err)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)
		case "23502": // not_null_violation
			return fmt.Errorf("%w: null value in column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
		case "23514": // check_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)

		// Class 22: Data Exception
		case "22001": // string_data_right_truncation
			return fmt.Errorf("%w: value too long for column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
		case "22P02": // invalid_text_representation
			return fmt.Errorf("%w: invalid input syntax for type %s: %w", apperrors.ErrBadRequest, pgErr.DataTypeName, err)

		// Class 40: Transaction Rollback
		case "40001": // serialization_failure
			fallthrough // Treat same as deadlock for now
		case "40P01": // deadlock_detected
			// Map to ErrDatabase, handler can decide if retryable
			return fmt.Errorf("%w: transaction rollback (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)

		default:
			// Check error code prefixes for broader categories
			if strings.HasPrefix(pgErr.Code, "53") { // Class 53: Insufficient Resources
				return fmt.Errorf("%w: insufficient resources (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
			}
			if strings.HasPrefix(pgErr.Code, "08") { // Class 08: Connection Exception
				return fmt.Errorf("%w: connection error (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
			}
			// Wrap unhandled specific PgErrors as general database errors
			return fmt.Errorf("%w: unhandled pgcode %s: %w", apperrors.ErrDatabase, pgErr.Code, err)
		}
	}

	// Assume other GORM or generic errors are general database errors for now
	return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
}
