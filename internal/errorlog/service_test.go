package errorlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gingernanny/portal-api/internal/models"
	"github.com/gingernanny/portal-api/internal/testutils/testdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecord(t *testing.T) {
	db := testdb.New(t)
	core, logs := observer.New(zapcore.DebugLevel)
	svc := NewService(db, zap.New(core))

	svc.Record(context.Background(), Entry{
		Code:    "SEND_VERIFICATION_EMAIL",
		Message: "failed to send verification email",
		Err:     errors.New("smtp down"),
		UserID:  "user-1",
		Context: map[string]interface{}{"path": "/auth/register"},
	})

	var row models.ErrorLog
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, "SEND_VERIFICATION_EMAIL", row.ErrorCode)
	assert.Equal(t, "failed to send verification email: smtp down", row.Message)
	assert.Equal(t, models.SeverityError, row.Severity, "severity defaults to ERROR")
	require.NotNil(t, row.UserID)
	assert.Equal(t, "user-1", *row.UserID)
	assert.NotEmpty(t, row.StackTrace)
	assert.JSONEq(t, `{"path":"/auth/register"}`, string(row.Context))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "user-1", fields["user_id"])
	assert.Equal(t, "SEND_VERIFICATION_EMAIL", fields["error_code"])
}

func TestRecordSurvivesCancelledContext(t *testing.T) {
	db := testdb.New(t)
	svc := NewService(db, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Record(ctx, Entry{Code: "UNHANDLED", Err: errors.New("boom"), Severity: models.SeverityCritical})

	var n int64
	db.Model(&models.ErrorLog{}).Count(&n)
	assert.Equal(t, int64(1), n)
}

func TestList(t *testing.T) {
	db := testdb.New(t)
	svc := NewService(db, zap.NewNop())
	ctx := context.Background()

	svc.Record(ctx, Entry{Code: "A", Message: "a", Severity: models.SeverityWarning, UserID: "u1"})
	svc.Record(ctx, Entry{Code: "B", Message: "b", Severity: models.SeverityCritical})
	svc.Record(ctx, Entry{Code: "C", Message: "c", UserID: "u1"})

	t.Run("Success - Severity filter", func(t *testing.T) {
		logs, err := svc.List(ctx, Filter{Severity: models.SeverityCritical})
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, "B", logs[0].ErrorCode)
	})

	t.Run("Success - User filter", func(t *testing.T) {
		logs, err := svc.List(ctx, Filter{UserID: "u1"})
		require.NoError(t, err)
		assert.Len(t, logs, 2)
	})

	t.Run("Success - Date window", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		logs, err := svc.List(ctx, Filter{From: &future})
		require.NoError(t, err)
		assert.Empty(t, logs)

		past := time.Now().Add(-time.Hour)
		logs, err = svc.List(ctx, Filter{From: &past, To: &future})
		require.NoError(t, err)
		assert.Len(t, logs, 3)
	})

	t.Run("Success - Limit", func(t *testing.T) {
		logs, err := svc.List(ctx, Filter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, logs, 2)
	})
}
