package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PasswordReset is the single live reset token of an account.
type PasswordReset struct {
	ID        string    `gorm:"size:36;primaryKey"`
	UserID    string    `gorm:"size:36;not null;uniqueIndex"`
	Token     string    `gorm:"type:text;not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
}

func (p *PasswordReset) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// PasswordResetRequest is an append-only log used to cap reset requests.
type PasswordResetRequest struct {
	ID        string    `gorm:"size:36;primaryKey"`
	UserID    string    `gorm:"size:36;not null;index:idx_reset_requests_user_created"`
	IPAddress string    `gorm:"size:64"`
	CreatedAt time.Time `gorm:"index:idx_reset_requests_user_created"`
}

func (p *PasswordResetRequest) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

type RefreshToken struct {
	ID        string    `gorm:"size:36;primaryKey" json:"id"`
	Token     string    `gorm:"size:1024;not null;uniqueIndex" json:"-"`
	UserID    string    `gorm:"size:36;not null;index" json:"userId"`
	Role      Role      `gorm:"size:20;not null" json:"role"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

func (r *RefreshToken) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

type BackupCode struct {
	ID        string     `gorm:"size:36;primaryKey"`
	UserID    string     `gorm:"size:36;not null;index"`
	CodeHash  string     `gorm:"size:255;not null"`
	Used      bool       `gorm:"not null;default:false;index"`
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (b *BackupCode) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}
