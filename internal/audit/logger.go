package audit

import (
	"context"
	"encoding/json"

	"github.com/gingernanny/portal-api/internal/models"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Entry struct {
	Action    models.AuditAction
	UserID    string
	Entity    string
	EntityID  string
	IPAddress string
	Details   map[string]interface{}
}

type Logger struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewLogger(db *gorm.DB, log *zap.Logger) *Logger {
	return &Logger{db: db, log: log}
}

// WithTx writes entries inside an open transaction.
func (l *Logger) WithTx(tx *gorm.DB) *Logger {
	return &Logger{db: tx, log: l.log}
}

func (l *Logger) Record(ctx context.Context, e Entry) error {
	row := models.AuditLog{
		Action:    e.Action,
		Entity:    e.Entity,
		EntityID:  e.EntityID,
		IPAddress: e.IPAddress,
	}
	if e.UserID != "" {
		uid := e.UserID
		row.UserID = &uid
	}
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return err
		}
		row.Details = datatypes.JSON(raw)
	}

	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}

	l.log.Info("audit",
		zap.String("action", string(e.Action)),
		zap.String("user_id", e.UserID),
		zap.String("entity", e.Entity),
		zap.String("ip", e.IPAddress),
	)
	return nil
}

// RecordBestEffort logs instead of returning a failure.
func (l *Logger) RecordBestEffort(ctx context.Context, e Entry) {
	if err := l.Record(ctx, e); err != nil {
		l.log.Warn("failed to write audit log", zap.Error(err), zap.String("action", string(e.Action)))
	}
}
