package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gingernanny/portal-api/internal/audit"
	"github.com/gingernanny/portal-api/internal/database"
	"github.com/gingernanny/portal-api/internal/errorlog"
	"github.com/gingernanny/portal-api/internal/mail"
	"github.com/gingernanny/portal-api/internal/models"
	"github.com/gingernanny/portal-api/internal/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrInvalidRole  = errors.New("invalid role")
	ErrWeakPassword = errors.New("password is too weak")
)

type GeneralInfo struct {
	FirstName   string `json:"firstName" validate:"required,max=100"`
	LastName    string `json:"lastName" validate:"required,max=100"`
	Title       string `json:"title" validate:"max=50"`
	PhoneNumber string `json:"fullNumber" validate:"omitempty,e164"`
	Street      string `json:"address1" validate:"max=255"`
	City        string `json:"city" validate:"max=100"`
	State       string `json:"region" validate:"max=100"`
	ZipCode     string `json:"zipCode" validate:"max=20"`
	Country     string `json:"country" validate:"max=100"`
	DateOfBirth string `json:"dob" validate:"omitempty,datetime=2006-01-02"`
	Gender      string `json:"gender" validate:"max=20"`
}

// RegisterInput is shared by self registration and admin account creation.
type RegisterInput struct {
	Email       string      `json:"email" validate:"required,email,max=255"`
	Password    string      `json:"password" validate:"required,strongpassword"`
	Role        string      `json:"role" validate:"required,oneof=ADMIN MODERATOR EMPLOYEE"`
	GeneralInfo GeneralInfo `json:"generalInfo"`
}

type Registration struct {
	Session   *Session
	EmailSent bool
}

// Register creates the account, its profile and its first refresh session in
// one transaction. The verification email is sent afterwards; a delivery
// failure is reported through EmailSent and does not undo the account.
func (s *Service) Register(ctx context.Context, in RegisterInput, ip string) (*Registration, error) {
	role, ok := models.ParseRole(in.Role)
	if !ok {
		return nil, ErrInvalidRole
	}
	if role == models.RoleAdmin {
		s.audit.RecordBestEffort(ctx, audit.Entry{
			Action:    models.AuditRogueAdminRegister,
			Entity:    "User",
			IPAddress: ip,
			Details:   map[string]interface{}{"email": utils.NormalizeEmail(in.Email)},
		})
		s.metrics.Registrations.WithLabelValues("rogue_admin").Inc()
		return nil, ErrAdminRegistration
	}

	user, err := s.newUser(ctx, in, role)
	if err != nil {
		return nil, err
	}

	sess, err := s.newSession(user)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		if err := s.sessions.WithTx(tx).Replace(ctx, sessionRecord(user, sess)); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Record(ctx, audit.Entry{
			Action:    models.AuditRegister,
			UserID:    user.ID,
			Entity:    "User",
			EntityID:  user.ID,
			IPAddress: ip,
			Details:   map[string]interface{}{"role": string(role)},
		})
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			s.metrics.Registrations.WithLabelValues("duplicate").Inc()
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.metrics.Registrations.WithLabelValues("success").Inc()
	return &Registration{
		Session:   sess,
		EmailSent: s.sendVerification(ctx, user) == nil,
	}, nil
}

// CreatedUser is an account opened by an admin. No session is issued for it.
type CreatedUser struct {
	User      *models.User
	EmailSent bool
}

// CreateUser registers an account of any role on behalf of an admin. As with
// Register, a failed verification email leaves the account in place.
func (s *Service) CreateUser(ctx context.Context, actorID string, in RegisterInput, ip string) (*CreatedUser, error) {
	role, ok := models.ParseRole(in.Role)
	if !ok {
		return nil, ErrInvalidRole
	}

	user, err := s.newUser(ctx, in, role)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		return s.audit.WithTx(tx).Record(ctx, audit.Entry{
			Action:    models.AuditAdminCreateUser,
			UserID:    actorID,
			Entity:    "User",
			EntityID:  user.ID,
			IPAddress: ip,
			Details:   map[string]interface{}{"role": string(role)},
		})
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	return &CreatedUser{
		User:      user,
		EmailSent: s.sendVerification(ctx, user) == nil,
	}, nil
}

func (s *Service) newUser(ctx context.Context, in RegisterInput, role models.Role) (*models.User, error) {
	email := utils.NormalizeEmail(in.Email)

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if existing > 0 {
		s.metrics.Registrations.WithLabelValues("duplicate").Inc()
		return nil, ErrEmailTaken
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	info := in.GeneralInfo
	profile := &models.Profile{
		PhoneNumber: utils.SanitizeText(info.PhoneNumber),
		Street:      utils.SanitizeText(info.Street),
		City:        utils.SanitizeText(info.City),
		State:       utils.SanitizeText(info.State),
		ZipCode:     utils.SanitizeText(info.ZipCode),
		Country:     utils.SanitizeText(info.Country),
		Gender:      utils.SanitizeText(info.Gender),
	}
	if info.DateOfBirth != "" {
		if dob, err := time.Parse("2006-01-02", info.DateOfBirth); err == nil {
			profile.DateOfBirth = &dob
		}
	}

	return &models.User{
		ID:        uuid.NewString(),
		Email:     email,
		Password:  hash,
		FirstName: utils.SanitizeText(info.FirstName),
		LastName:  utils.SanitizeText(info.LastName),
		Title:     utils.SanitizeText(info.Title),
		Role:      role,
		Profile:   profile,
	}, nil
}

func (s *Service) sendVerification(ctx context.Context, user *models.User) error {
	token, _, err := s.tokens.IssueActionToken(user.ID, utils.PurposeEmailVerification, s.opts.VerificationTTL)
	if err == nil {
		msg := mail.VerificationMessage(user.Email, user.DisplayName(), s.opts.APIBaseURL, token, s.opts.ProjectName)
		err = s.mailer.Send(ctx, msg)
	}
	if err != nil {
		s.errlog.Record(ctx, errorlog.Entry{
			Code:    "SEND_VERIFICATION_EMAIL",
			Message: "failed to send verification email",
			Err:     err,
			UserID:  user.ID,
		})
		return fmt.Errorf("%w: %v", ErrEmailDelivery, err)
	}
	return nil
}

func (s *Service) VerifyEmail(ctx context.Context, token, ip string) error {
	userID, err := s.tokens.VerifyActionToken(token, utils.PurposeEmailVerification)
	if err != nil {
		return ErrInvalidVerification
	}

	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("is_email_verified", true)
	if res.Error != nil {
		return fmt.Errorf("mark email verified: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}

	s.audit.RecordBestEffort(ctx, audit.Entry{
		Action:    models.AuditEmailVerified,
		UserID:    userID,
		Entity:    "User",
		EntityID:  userID,
		IPAddress: ip,
	})
	return nil
}

func (s *Service) ResendVerification(ctx context.Context, userID string) error {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return err
	}
	if user.IsEmailVerified {
		return ErrAlreadyVerified
	}
	return s.sendVerification(ctx, user)
}

// ChangePassword replaces the password after checking the current one and
// revokes every refresh token except keepToken.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next, keepToken, ip string) error {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}

	if !utils.CheckPasswordHash(current, user.Password) {
		return ErrWrongPassword
	}
	if !utils.IsStrongPassword(next) {
		return ErrWeakPassword
	}

	hash, err := utils.HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Update("password", hash).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ? AND token <> ?", userID, keepToken).Delete(&models.RefreshToken{}).Error; err != nil {
			return err
		}
		return s.audit.WithTx(tx).Record(ctx, audit.Entry{
			Action:    models.AuditPasswordChange,
			UserID:    userID,
			Entity:    "User",
			EntityID:  userID,
			IPAddress: ip,
		})
	})
}

// SoftDeleteUser is the admin removal of another account. Admin accounts are
// protected.
func (s *Service) SoftDeleteUser(ctx context.Context, actorID, targetID, ip string) error {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", targetID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if user.Role == models.RoleAdmin {
		return ErrProtectedAccount
	}
	return s.softDelete(ctx, &user, actorID, ip)
}

// DeleteAccount lets an employee remove their own account.
func (s *Service) DeleteAccount(ctx context.Context, userID, ip string) error {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if user.Role == models.RoleAdmin || user.Role == models.RoleModerator {
		return ErrProtectedAccount
	}
	return s.softDelete(ctx, &user, userID, ip)
}

func (s *Service) softDelete(ctx context.Context, user *models.User, actorID, ip string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(user).Error; err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if err := s.sessions.WithTx(tx).DeleteForUser(ctx, user.ID); err != nil {
			return fmt.Errorf("revoke sessions: %w", err)
		}
		return s.audit.WithTx(tx).Record(ctx, audit.Entry{
			Action:    models.AuditAccountDelete,
			UserID:    actorID,
			Entity:    "User",
			EntityID:  user.ID,
			IPAddress: ip,
		})
	})
}

func (s *Service) Profile(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("Profile").Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// EnsureAdmin creates the first admin account. It does nothing when an admin
// already exists.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	var admins int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&admins).Error; err != nil {
		return false, err
	}
	if admins > 0 {
		return false, nil
	}
	if !utils.IsStrongPassword(password) {
		return false, ErrWeakPassword
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return false, err
	}

	user := models.User{
		Email:           utils.NormalizeEmail(email),
		Password:        hash,
		FirstName:       "Portal",
		LastName:        "Admin",
		Role:            models.RoleAdmin,
		IsEmailVerified: true,
		Profile:         &models.Profile{},
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return false, ErrEmailTaken
		}
		return false, err
	}

	s.log.Info("bootstrap admin created")
	return true, nil
}
