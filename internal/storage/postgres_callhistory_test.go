package storage

import (
	"testing"
	"time"

	apperrors "gitlab.com/voxline/api/voxline-call-directory/internal/apperrors"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/logger"
	"go.uber.org/zap/zaptest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"gitlab.com/voxline/api/voxline-call-directory/internal/model"
	"gitlab.com/voxline/api/voxline-call-directory/internal/profile"
)

func newTestCallHistoryRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	assert.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
		SkipDefaultTransaction: true,
	})
	assert.NoError(t, err)
	return &PostgresRepo{db: gormDB}, mock
}

func TestPostgresRepo_SaveCallEntry_Success(t *testing.T) {
	repo, mock := newTestCallHistoryRepo(t)
	ctx := contextWithProfile()
	now := time.Now()
	entry := model.CallHistoryEntry{
		PhoneNumber: "4155550123",
		CallerName:  "Ada Lovelace",
		CallStatus:  model.CallStatusMissed,
		Direction:   model.CallDirectionIncoming,
		Timestamp:   &now,
		ProfileID:   profile.Default,
	}
	insertQuery := `INSERT INTO "call_history" ("phone_number","caller_name","call_status","direction","timestamp","profile_id","last_metadata","created_at") VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING "id"`
	mock.ExpectQuery(insertQuery).
		WithArgs(entry.PhoneNumber, entry.CallerName, entry.CallStatus, entry.Direction, AnyTime{}, entry.ProfileID, AnyJSON{}, AnyTime{}).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	err := repo.SaveCallEntry(ctx, entry)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_SaveCallEntry_DefaultsProfile(t *testing.T) {
	repo, mock := newTestCallHistoryRepo(t)
	ctx := contextWithProfile()
	now := time.Now()
	entry := model.CallHistoryEntry{
		PhoneNumber: "4155550124",
		CallStatus:  model.CallStatusRejected,
		Direction:   model.CallDirectionOutgoing,
		Timestamp:   &now,
		// ProfileID intentionally empty, should fall back to the context profile
	}
	insertQuery := `INSERT INTO "call_history" ("phone_number","caller_name","call_status","direction","timestamp","profile_id","last_metadata","created_at") VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING "id"`
	mock.ExpectQuery(insertQuery).
		WithArgs(entry.PhoneNumber, entry.CallerName, entry.CallStatus, entry.Direction, AnyTime{}, profile.Default, AnyJSON{}, AnyTime{}).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))
	err := repo.SaveCallEntry(ctx, entry)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_SaveCallEntry_EmptyPhone(t *testing.T) {
	repo, mock := newTestCallHistoryRepo(t)
	ctx := contextWithProfile()
	err := repo.SaveCallEntry(ctx, model.CallHistoryEntry{CallerName: "no number"})
	assert.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_BulkInsertCallEntries_Success(t *testing.T) {
	repo, mock := newTestCallHistoryRepo(t)
	ctx := contextWithProfile()
	now := time.Now()
	earlier := now.Add(-time.Hour)
	entries := []model.CallHistoryEntry{
		{PhoneNumber: "4155550100", CallerName: "First", CallStatus: model.CallStatusMissed, Direction: model.CallDirectionIncoming, Timestamp: &earlier, ProfileID: profile.Default},
		{PhoneNumber: "4155550101", CallerName: "Second", CallStatus: model.CallStatusRejected, Direction: model.CallDirectionIncoming, Timestamp: &now, ProfileID: profile.Default},
	}
	mock.ExpectBegin()
	insertQuery := `INSERT INTO "call_history" ("phone_number","caller_name","call_status","direction","timestamp","profile_id","last_metadata","created_at") VALUES ($1,$2,$3,$4,$5,$6,$7,$8),($9,$10,$11,$12,$13,$14,$15,$16) RETURNING "id"`
	mock.ExpectQuery(insertQuery).
		WithArgs(
			entries[0].PhoneNumber, entries[0].CallerName, entries[0].CallStatus, entries[0].Direction, AnyTime{}, entries[0].ProfileID, AnyJSON{}, AnyTime{},
			entries[1].PhoneNumber, entries[1].CallerName, entries[1].CallStatus, entries[1].Direction, AnyTime{}, entries[1].ProfileID, AnyJSON{}, AnyTime{},
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))
	mock.ExpectCommit()
	err := repo.BulkInsertCallEntries(ctx, entries)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_BulkInsertCallEntries_EmptyList(t *testing.T) {
	repo, mock := newTestCallHistoryRepo(t)
	ctx := contextWithProfile()
	err := repo.BulkInsertCallEntries(ctx, nil)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_FetchCallHistory(t *testing.T) {
	repo, mock := newTestCallHistoryRepo(t)
	ctx := contextWithProfile()
	now := time.Now()
	earlier := now.Add(-time.Hour)
	cols := []string{"id", "phone_number", "caller_name", "call_status", "direction", "timestamp", "profile_id"}
	rows := sqlmock.NewRows(cols).
		AddRow(int64(2), "4155550101", "Second", "rejected", "incoming", now, profile.Default).
		AddRow(int64(1), "4155550100", "First", "missed", "incoming", earlier, profile.Default).
		AddRow(int64(3), "4155550102", "NoTime", "missed", "incoming", nil, profile.Default)
	selectQuery := `SELECT * FROM "call_history" WHERE profile_id = $1 ORDER BY timestamp DESC NULLS LAST`
	mock.ExpectQuery(selectQuery).WithArgs(profile.Default).WillReturnRows(rows)
	entries, err := repo.FetchCallHistory(ctx, profile.Default)
	assert.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, "4155550101", entries[0].PhoneNumber)
	assert.Nil(t, entries[2].Timestamp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_FetchCallHistory_EmptyProfileFallsBack(t *testing.T) {
	repo, mock := newTestCallHistoryRepo(t)
	ctx := contextWithProfile()
	cols := []string{"id", "phone_number", "caller_name", "call_status", "direction", "timestamp", "profile_id"}
	selectQuery := `SELECT * FROM "call_history" WHERE profile_id = $1 ORDER BY timestamp DESC NULLS LAST`
	mock.ExpectQuery(selectQuery).WithArgs(profile.Default).WillReturnRows(sqlmock.NewRows(cols))
	entries, err := repo.FetchCallHistory(ctx, "")
	assert.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_ClearCallHistory(t *testing.T) {
	repo, mock := newTestCallHistoryRepo(t)
	ctx := contextWithProfile()
	deleteQuery := `DELETE FROM "call_history" WHERE profile_id = $1`
	mock.ExpectExec(deleteQuery).WithArgs("work").WillReturnResult(sqlmock.NewResult(0, 5))
	err := repo.ClearCallHistory(ctx, "work")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_SaveCallEntry_FactoryData(t *testing.T) {
	repo, mock := newTestCallHistoryRepo(t)
	ctx := contextWithProfile()
	entry := model.NewFakeCallEntry(profile.Default)
	insertQuery := `INSERT INTO "call_history" ("phone_number","caller_name","call_status","direction","timestamp","profile_id","last_metadata","created_at") VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING "id"`
	mock.ExpectQuery(insertQuery).
		WithArgs(entry.PhoneNumber, entry.CallerName, entry.CallStatus, entry.Direction, AnyTime{}, entry.ProfileID, AnyJSON{}, AnyTime{}).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	err := repo.SaveCallEntry(ctx, entry)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
