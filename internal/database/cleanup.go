package database

import (
	"context"
	"time"

	"github.com/gingernanny/portal-api/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CleanupResult struct {
	RefreshTokens  int64
	PasswordResets int64
	ResetRequests  int64
}

// Cleanup removes expired refresh tokens and reset records, and reset-request
// log rows older than requestWindow.
func Cleanup(ctx context.Context, db *gorm.DB, now time.Time, requestWindow time.Duration) (CleanupResult, error) {
	var res CleanupResult
	db = db.WithContext(ctx)

	result := db.Where("expires_at < ?", now).Delete(&models.RefreshToken{})
	if result.Error != nil {
		return res, result.Error
	}
	res.RefreshTokens = result.RowsAffected

	result = db.Where("expires_at < ?", now).Delete(&models.PasswordReset{})
	if result.Error != nil {
		return res, result.Error
	}
	res.PasswordResets = result.RowsAffected

	result = db.Where("created_at < ?", now.Add(-requestWindow)).Delete(&models.PasswordResetRequest{})
	if result.Error != nil {
		return res, result.Error
	}
	res.ResetRequests = result.RowsAffected

	return res, nil
}

// StartCleanup runs Cleanup every interval until ctx is cancelled.
func StartCleanup(ctx context.Context, db *gorm.DB, interval, requestWindow time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				res, err := Cleanup(ctx, db, time.Now(), requestWindow)
				if err != nil {
					log.Error("cleanup failed", zap.Error(err))
					continue
				}
				if res.RefreshTokens+res.PasswordResets+res.ResetRequests > 0 {
					log.Info("cleaned up expired records",
						zap.Int64("refresh_tokens", res.RefreshTokens),
						zap.Int64("password_resets", res.PasswordResets),
						zap.Int64("reset_requests", res.ResetRequests),
					)
				}
			}
		}
	}()
}
