package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gingernanny/portal-api/internal/audit"
	"github.com/gingernanny/portal-api/internal/errorlog"
	"github.com/gingernanny/portal-api/internal/mail"
	"github.com/gingernanny/portal-api/internal/metrics"
	"github.com/gingernanny/portal-api/internal/models"
	"github.com/gingernanny/portal-api/internal/session"
	"github.com/gingernanny/portal-api/internal/twofactor"
	"github.com/gingernanny/portal-api/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrTwoFactorRequired   = errors.New("2FA required")
	ErrNoRefreshToken      = errors.New("no refresh token")
	ErrSessionInvalid      = errors.New("refresh session invalid")
	ErrRotationExhausted   = errors.New("refresh token rotation exhausted retries")
	ErrAdminRegistration   = errors.New("self registration as admin is not allowed")
	ErrEmailTaken          = errors.New("email already registered")
	ErrResetLimit          = errors.New("password reset limit reached")
	ErrInvalidResetToken   = errors.New("invalid or expired reset token")
	ErrInvalidVerification = errors.New("invalid or expired verification token")
	ErrAlreadyVerified     = errors.New("email already verified")
	ErrEmailDelivery       = errors.New("email delivery failed")
	ErrWrongPassword       = errors.New("current password is incorrect")
	ErrUserNotFound        = errors.New("user not found")
	ErrProtectedAccount    = errors.New("account cannot be deleted")
)

// MaxRotationAttempts bounds how often a refresh exchange regenerates a
// token value that collided with an existing one.
const MaxRotationAttempts = 3

type Options struct {
	FrontendBaseURL    string
	APIBaseURL         string
	ProjectName        string
	ResetRequestLimit  int
	ResetRequestWindow time.Duration
	ResetTTL           time.Duration
	VerificationTTL    time.Duration
}

type Deps struct {
	DB        *gorm.DB
	Tokens    *utils.TokenManager
	Sessions  *session.Store
	TwoFactor *twofactor.Engine
	Mailer    mail.Mailer
	Audit     *audit.Logger
	ErrorLog  *errorlog.Service
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

type issueFunc func(userID string, role models.Role, userName string) (string, time.Time, error)

type Service struct {
	db        *gorm.DB
	tokens    *utils.TokenManager
	sessions  *session.Store
	twoFactor *twofactor.Engine
	mailer    mail.Mailer
	audit     *audit.Logger
	errlog    *errorlog.Service
	metrics   *metrics.Metrics
	log       *zap.Logger
	opts      Options

	now          func() time.Time
	issueRefresh issueFunc
}

func NewService(d Deps, opts Options) *Service {
	return &Service{
		db:           d.DB,
		tokens:       d.Tokens,
		sessions:     d.Sessions,
		twoFactor:    d.TwoFactor,
		mailer:       d.Mailer,
		audit:        d.Audit,
		errlog:       d.ErrorLog,
		metrics:      d.Metrics,
		log:          d.Log,
		opts:         opts,
		now:          time.Now,
		issueRefresh: d.Tokens.IssueRefreshToken,
	}
}

// Session is an established login: a bearer access token plus the refresh
// token that goes into the cookie.
type Session struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             *models.User
}

type LoginInput struct {
	UserName  string
	Password  string
	Token     string
	IPAddress string
}

// dummyHash keeps the unknown-user path as slow as a real password check.
var dummyHash = sync.OnceValue(func() string {
	h, _ := utils.HashPassword(uuid.NewString())
	return h
})

// Login re-validates credentials on every call. When the account has 2FA
// enabled and in.Token is blank it returns ErrTwoFactorRequired and issues
// nothing; the client repeats the whole call with the token.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	email := utils.NormalizeEmail(in.UserName)

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.CheckPasswordHash(in.Password, dummyHash())
		s.metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	if !utils.CheckPasswordHash(in.Password, user.Password) {
		s.metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}

	if user.TwoFactorEnabled {
		if utils.NormalizeCode(in.Token) == "" {
			s.metrics.LoginAttempts.WithLabelValues("2fa_required").Inc()
			return nil, ErrTwoFactorRequired
		}
		if err := s.checkSecondFactor(ctx, &user, in.Token); err != nil {
			s.metrics.LoginAttempts.WithLabelValues("2fa_failed").Inc()
			return nil, err
		}
	}

	sess, err := s.newSession(&user)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.sessions.WithTx(tx).Replace(ctx, sessionRecord(&user, sess)); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Record(ctx, audit.Entry{
			Action:    models.AuditLogin,
			UserID:    user.ID,
			Entity:    "User",
			EntityID:  user.ID,
			IPAddress: in.IPAddress,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("establish session: %w", err)
	}

	s.metrics.LoginAttempts.WithLabelValues("success").Inc()
	return sess, nil
}

func (s *Service) checkSecondFactor(ctx context.Context, user *models.User, token string) error {
	method := "totp"
	if len(utils.NormalizeCode(token)) == utils.BackupCodeLength {
		method = "backup"
	}

	err := s.twoFactor.VerifyLogin(ctx, user, token)
	switch {
	case err == nil:
		s.metrics.TwoFactorChecks.WithLabelValues(method, "success").Inc()
		if method == "backup" {
			s.metrics.BackupCodesUsed.Inc()
		}
		return nil
	case errors.Is(err, twofactor.ErrTokenFormat):
		s.metrics.TwoFactorChecks.WithLabelValues("none", "format").Inc()
	default:
		s.metrics.TwoFactorChecks.WithLabelValues(method, "failure").Inc()
	}
	return err
}

// Refresh exchanges a stored refresh token for a new pair. Any failure to
// verify the presented token deletes its stored record.
func (s *Service) Refresh(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		s.metrics.TokenRefreshes.WithLabelValues("missing").Inc()
		return nil, ErrNoRefreshToken
	}

	if _, err := s.sessions.FindByToken(ctx, token); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			s.metrics.TokenRefreshes.WithLabelValues("unknown").Inc()
			return nil, ErrSessionInvalid
		}
		return nil, err
	}

	claims, err := s.tokens.VerifyRefreshToken(token)
	if err != nil {
		s.revoke(ctx, token)
		s.metrics.TokenRefreshes.WithLabelValues("invalid").Inc()
		return nil, ErrSessionInvalid
	}

	var user models.User
	err = s.db.WithContext(ctx).Where("id = ?", claims.UserID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.revoke(ctx, token)
		s.metrics.TokenRefreshes.WithLabelValues("invalid").Inc()
		return nil, ErrSessionInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	sess, err := s.rotate(ctx, token, &user)
	if err != nil {
		return nil, err
	}

	s.metrics.TokenRefreshes.WithLabelValues("success").Inc()
	return sess, nil
}

func (s *Service) rotate(ctx context.Context, oldToken string, user *models.User) (*Session, error) {
	for attempt := 1; attempt <= MaxRotationAttempts; attempt++ {
		sess, err := s.newSession(user)
		if err != nil {
			return nil, err
		}

		err = s.sessions.Rotate(ctx, oldToken, sessionRecord(user, sess))
		switch {
		case err == nil:
			return sess, nil
		case errors.Is(err, session.ErrDuplicateToken):
			s.metrics.RotationCollisions.Inc()
			s.log.Warn("refresh token collision", zap.String("user_id", user.ID), zap.Int("attempt", attempt))
		case errors.Is(err, session.ErrNotFound):
			s.metrics.TokenRefreshes.WithLabelValues("reused").Inc()
			return nil, ErrSessionInvalid
		default:
			return nil, fmt.Errorf("rotate refresh token: %w", err)
		}
	}
	s.metrics.TokenRefreshes.WithLabelValues("exhausted").Inc()
	return nil, ErrRotationExhausted
}

func (s *Service) revoke(ctx context.Context, token string) {
	if err := s.sessions.DeleteByToken(ctx, token); err != nil {
		s.log.Error("failed to delete refresh token", zap.Error(err))
	}
}

// Logout deletes the stored refresh token. A missing or unknown token is not an error.
func (s *Service) Logout(ctx context.Context, token, ip string) error {
	if token == "" {
		return nil
	}

	rec, err := s.sessions.FindByToken(ctx, token)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.sessions.DeleteByToken(ctx, token); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}

	s.audit.RecordBestEffort(ctx, audit.Entry{
		Action:    models.AuditLogout,
		UserID:    rec.UserID,
		Entity:    "User",
		EntityID:  rec.UserID,
		IPAddress: ip,
	})
	return nil
}

func (s *Service) newSession(user *models.User) (*Session, error) {
	access, err := s.tokens.IssueAccessToken(user.ID, user.Role, user.Email)
	if err != nil {
		return nil, err
	}
	refresh, expiresAt, err := s.issueRefresh(user.ID, user.Role, user.Email)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:      access,
		RefreshToken:     refresh,
		RefreshExpiresAt: expiresAt,
		User:             user,
	}, nil
}

func sessionRecord(user *models.User, sess *Session) *models.RefreshToken {
	return &models.RefreshToken{
		Token:     sess.RefreshToken,
		UserID:    user.ID,
		Role:      user.Role,
		ExpiresAt: sess.RefreshExpiresAt,
	}
}

// ForgotPassword returns nil whether or not the email belongs to an account.
// ErrResetLimit is only reported for an existing account over its budget.
func (s *Service) ForgotPassword(ctx context.Context, email, ip string) error {
	email = utils.NormalizeEmail(email)
	if email == "" {
		return nil
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.metrics.PasswordResets.WithLabelValues("request", "unknown").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}

	var recent int64
	since := s.now().Add(-s.opts.ResetRequestWindow)
	err = s.db.WithContext(ctx).Model(&models.PasswordResetRequest{}).
		Where("user_id = ? AND created_at > ?", user.ID, since).
		Count(&recent).Error
	if err != nil {
		return fmt.Errorf("count reset requests: %w", err)
	}
	if recent >= int64(s.opts.ResetRequestLimit) {
		s.metrics.PasswordResets.WithLabelValues("request", "limited").Inc()
		return ErrResetLimit
	}

	token, expiresAt, err := s.tokens.IssueActionToken(user.ID, utils.PurposePasswordReset, s.opts.ResetTTL)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reset := models.PasswordReset{UserID: user.ID, Token: token, ExpiresAt: expiresAt}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"token", "expires_at", "created_at"}),
		}).Create(&reset).Error
		if err != nil {
			return fmt.Errorf("upsert password reset: %w", err)
		}
		return tx.Create(&models.PasswordResetRequest{UserID: user.ID, IPAddress: ip}).Error
	})
	if err != nil {
		return err
	}

	msg := mail.PasswordResetMessage(user.Email, user.DisplayName(), s.opts.FrontendBaseURL, token, s.opts.ProjectName)
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.errlog.Record(ctx, errorlog.Entry{
			Code:    "FORGOT_PASSWORD_EMAIL",
			Message: "failed to send password reset email",
			Err:     err,
			UserID:  user.ID,
		})
	}

	s.metrics.PasswordResets.WithLabelValues("request", "sent").Inc()
	return nil
}

// ResetPassword consumes a reset token. The persisted record must still hold
// the same token and be unexpired; it is deleted in the same transaction that
// stores the new password, and every refresh token of the account is revoked.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword, ip string) error {
	userID, err := s.tokens.VerifyActionToken(token, utils.PurposePasswordReset)
	if err != nil {
		s.metrics.PasswordResets.WithLabelValues("reset", "invalid").Inc()
		return ErrInvalidResetToken
	}

	hash, err := utils.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND token = ? AND expires_at > ?", userID, token, s.now()).
			Delete(&models.PasswordReset{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidResetToken
		}

		res = tx.Model(&models.User{}).Where("id = ?", userID).Update("password", hash)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}

		if err := s.sessions.WithTx(tx).DeleteForUser(ctx, userID); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Record(ctx, audit.Entry{
			Action:    models.AuditPasswordReset,
			UserID:    userID,
			Entity:    "User",
			EntityID:  userID,
			IPAddress: ip,
		})
	})
	if err != nil {
		if errors.Is(err, ErrInvalidResetToken) {
			s.metrics.PasswordResets.WithLabelValues("reset", "invalid").Inc()
		}
		return err
	}

	s.metrics.PasswordResets.WithLabelValues("reset", "success").Inc()
	return nil
}
