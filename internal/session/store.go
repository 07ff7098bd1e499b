package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gingernanny/portal-api/internal/database"
	"github.com/gingernanny/portal-api/internal/models"

	"gorm.io/gorm"
)

var (
	ErrNotFound       = errors.New("refresh token not found")
	ErrDuplicateToken = errors.New("refresh token value already exists")
)

// Store persists refresh tokens. An account keeps at most one live token.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx binds the store to an open transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// Replace deletes every refresh token of the account and inserts rec, in one transaction.
func (s *Store) Replace(ctx context.Context, rec *models.RefreshToken) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", rec.UserID).Delete(&models.RefreshToken{}).Error; err != nil {
			return fmt.Errorf("delete refresh tokens: %w", err)
		}
		return create(tx, rec)
	})
}

func (s *Store) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var rec models.RefreshToken
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Rotate swaps oldToken for next atomically. ErrNotFound means oldToken was
// already consumed; ErrDuplicateToken means next.Token collided and the
// transaction was rolled back.
func (s *Store) Rotate(ctx context.Context, oldToken string, next *models.RefreshToken) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("token = ?", oldToken).Delete(&models.RefreshToken{})
		if res.Error != nil {
			return fmt.Errorf("delete refresh token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return create(tx, next)
	})
}

// DeleteByToken is idempotent.
func (s *Store) DeleteByToken(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Where("token = ?", token).Delete(&models.RefreshToken{}).Error
}

func (s *Store) DeleteForUser(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.RefreshToken{})
	return res.RowsAffected, res.Error
}

func create(tx *gorm.DB, rec *models.RefreshToken) error {
	if err := tx.Create(rec).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicateToken
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}
