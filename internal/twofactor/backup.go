package twofactor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gingernanny/portal-api/internal/models"
	"github.com/gingernanny/portal-api/internal/utils"

	"gorm.io/gorm"
)

var (
	ErrNoBackupCodes     = errors.New("no backup codes available")
	ErrInvalidBackupCode = errors.New("invalid or already used backup code")
	ErrBackupCodeFormat  = errors.New("backup code must be 20 alphanumeric characters")
	ErrInvalidCodeCount  = errors.New("backup code count must be positive")
)

// BackupManager issues and consumes single-use recovery codes.
type BackupManager struct {
	db    *gorm.DB
	count int
	now   func() time.Time
}

func NewBackupManager(db *gorm.DB, count int) *BackupManager {
	return &BackupManager{db: db, count: count, now: time.Now}
}

// Generate replaces every code of the account with a fresh batch and returns
// the plaintext codes. They cannot be recovered later.
func (m *BackupManager) Generate(ctx context.Context, userID string) ([]string, error) {
	if m.count <= 0 {
		return nil, ErrInvalidCodeCount
	}

	codes, err := utils.GenerateBackupCodes(m.count)
	if err != nil {
		return nil, err
	}

	rows := make([]models.BackupCode, 0, len(codes))
	for _, code := range codes {
		hash, err := utils.HashBackupCode(code)
		if err != nil {
			return nil, fmt.Errorf("hash backup code: %w", err)
		}
		rows = append(rows, models.BackupCode{UserID: userID, CodeHash: hash})
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.BackupCode{}).Error; err != nil {
			return err
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).
			Update("backup_codes_enabled", true).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store backup codes: %w", err)
	}

	return codes, nil
}

// Revoke is a full replacement: every earlier code stops working.
func (m *BackupManager) Revoke(ctx context.Context, userID string) ([]string, error) {
	return m.Generate(ctx, userID)
}

// VerifyAndConsume marks the first unused code matching raw as used. The
// update is conditional on used=false, so a code is accepted at most once
// even under concurrent calls.
func (m *BackupManager) VerifyAndConsume(ctx context.Context, userID, raw string) error {
	code := utils.NormalizeCode(raw)
	if !isBackupCode(code) {
		return ErrBackupCodeFormat
	}

	var unused []models.BackupCode
	err := m.db.WithContext(ctx).
		Where("user_id = ? AND used = ?", userID, false).
		Order("created_at ASC").
		Find(&unused).Error
	if err != nil {
		return fmt.Errorf("load backup codes: %w", err)
	}
	if len(unused) == 0 {
		var issued int64
		if err := m.db.WithContext(ctx).Model(&models.BackupCode{}).Where("user_id = ?", userID).Count(&issued).Error; err != nil {
			return fmt.Errorf("count backup codes: %w", err)
		}
		if issued == 0 {
			return ErrNoBackupCodes
		}
		return ErrInvalidBackupCode
	}

	var match *models.BackupCode
	for i := range unused {
		if utils.VerifyBackupCode(code, unused[i].CodeHash) {
			match = &unused[i]
			break
		}
	}
	if match == nil {
		return ErrInvalidBackupCode
	}

	now := m.now()
	res := m.db.WithContext(ctx).Model(&models.BackupCode{}).
		Where("id = ? AND used = ?", match.ID, false).
		Updates(map[string]interface{}{"used": true, "used_at": now})
	if res.Error != nil {
		return fmt.Errorf("consume backup code: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInvalidBackupCode
	}
	return nil
}

func (m *BackupManager) Remaining(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := m.db.WithContext(ctx).Model(&models.BackupCode{}).
		Where("user_id = ? AND used = ?", userID, false).
		Count(&n).Error
	return n, err
}

func isBackupCode(s string) bool {
	if len(s) != utils.BackupCodeLength {
		return false
	}
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
