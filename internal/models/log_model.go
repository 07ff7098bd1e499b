package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

type AuditAction string

const (
	AuditRegister           AuditAction = "REGISTER"
	AuditRogueAdminRegister AuditAction = "ROGUE_ADMIN_REGISTRATION"
	AuditAdminCreateUser    AuditAction = "ADMIN_CREATE_USER"
	AuditLogin              AuditAction = "LOGIN"
	AuditLogout             AuditAction = "LOGOUT"
	AuditPasswordReset      AuditAction = "PASSWORD_RESET"
	AuditPasswordChange     AuditAction = "PASSWORD_CHANGE"
	AuditTwoFactorEnable    AuditAction = "TWO_FACTOR_ENABLE"
	AuditTwoFactorReset     AuditAction = "TWO_FACTOR_RESET"
	AuditBackupCodes        AuditAction = "BACKUP_CODES_GENERATED"
	AuditAccountDelete      AuditAction = "ACCOUNT_DELETE"
	AuditEmailVerified      AuditAction = "EMAIL_VERIFIED"
)

type AuditLog struct {
	ID        string         `gorm:"size:36;primaryKey" json:"id"`
	Action    AuditAction    `gorm:"size:64;not null;index" json:"action"`
	UserID    *string        `gorm:"size:36;index" json:"userId,omitempty"`
	Entity    string         `gorm:"size:64" json:"entity"`
	EntityID  string         `gorm:"size:36" json:"entityId,omitempty"`
	IPAddress string         `gorm:"size:64" json:"ipAddress,omitempty"`
	Details   datatypes.JSON `json:"details,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"createdAt"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

type ErrorLog struct {
	ID         string         `gorm:"size:36;primaryKey" json:"id"`
	ErrorCode  string         `gorm:"size:64;not null;index" json:"errorCode"`
	Message    string         `gorm:"type:text;not null" json:"message"`
	StackTrace string         `gorm:"type:text" json:"stackTrace,omitempty"`
	UserID     *string        `gorm:"size:36;index" json:"userId,omitempty"`
	Severity   Severity       `gorm:"size:16;not null;index" json:"severity"`
	Context    datatypes.JSON `json:"context,omitempty"`
	CreatedAt  time.Time      `gorm:"index" json:"createdAt"`
}

func (e *ErrorLog) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// All lists every table owned by the service, in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Profile{},
		&RefreshToken{},
		&BackupCode{},
		&PasswordReset{},
		&PasswordResetRequest{},
		&AuditLog{},
		&ErrorLog{},
	}
}
