package errorlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gingernanny/portal-api/internal/logger"
	"github.com/gingernanny/portal-api/internal/models"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Entry struct {
	Code     string
	Message  string
	Err      error
	UserID   string
	Severity models.Severity
	Context  map[string]interface{}
}

type Filter struct {
	Severity models.Severity
	UserID   string
	From     *time.Time
	To       *time.Time
	Limit    int
}

// Service records server-side failures in the error_logs table and the
// process log. Recording never fails the caller.
type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(db *gorm.DB, log *zap.Logger) *Service {
	return &Service{db: db, log: log}
}

func (s *Service) Record(ctx context.Context, e Entry) {
	if e.Severity == "" {
		e.Severity = models.SeverityError
	}
	message := e.Message
	if e.Err != nil {
		if message == "" {
			message = e.Err.Error()
		} else {
			message += ": " + e.Err.Error()
		}
	}

	stack := zap.StackSkip("stack", 1)
	fields := []zap.Field{
		zap.String("error_code", e.Code),
		zap.String("severity", string(e.Severity)),
		stack,
	}
	if len(e.Context) > 0 {
		fields = append(fields, zap.Any("context", e.Context))
	}
	logger.WithUserID(s.log, e.UserID).Error(message, fields...)

	row := models.ErrorLog{
		ErrorCode:  e.Code,
		Message:    message,
		StackTrace: stack.String,
		Severity:   e.Severity,
	}
	if e.UserID != "" {
		uid := e.UserID
		row.UserID = &uid
	}
	if len(e.Context) > 0 {
		if raw, err := json.Marshal(e.Context); err == nil {
			row.Context = datatypes.JSON(raw)
		}
	}

	if err := s.db.WithContext(context.WithoutCancel(ctx)).Create(&row).Error; err != nil {
		s.log.Error("failed to persist error log", zap.Error(err), zap.String("error_code", e.Code))
	}
}

func (s *Service) List(ctx context.Context, f Filter) ([]models.ErrorLog, error) {
	q := s.db.WithContext(ctx).Model(&models.ErrorLog{})
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var logs []models.ErrorLog
	err := q.Order("created_at DESC").Limit(limit).Find(&logs).Error
	return logs, err
}
