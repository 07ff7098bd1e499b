package twofactor

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/gingernanny/portal-api/internal/models"
	"github.com/gingernanny/portal-api/internal/utils"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"
)

var (
	ErrNotInitiated   = errors.New("2FA not initiated")
	ErrAlreadyEnabled = errors.New("2FA is already enabled")
	ErrInvalidToken   = errors.New("invalid 2FA token")
	ErrTOTPFormat     = errors.New("token must be a 6-digit code")
	ErrTokenFormat    = errors.New("token must be exactly 6 characters (TOTP) or 20 characters (Backup Code)")
	ErrSecretCorrupt  = errors.New("stored 2FA secret cannot be decrypted")
	ErrUserNotFound   = errors.New("user not found")
)

const (
	totpDigits = 6
	qrSize     = 256
)

var validateOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

type State string

const (
	StateDisabled State = "DISABLED"
	StatePending  State = "PENDING"
	StateEnabled  State = "ENABLED"
)

func StateOf(u *models.User) State {
	switch {
	case u.TwoFactorEnabled:
		return StateEnabled
	case u.TwoFactorSecret != "":
		return StatePending
	default:
		return StateDisabled
	}
}

// Cipher protects TOTP seeds at rest.
type Cipher interface {
	Encrypt(plain string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type Setup struct {
	QRCode          string
	ProvisioningURL string
}

type Engine struct {
	db     *gorm.DB
	cipher Cipher
	backup *BackupManager
	issuer string
	now    func() time.Time
}

func NewEngine(db *gorm.DB, cipher Cipher, backup *BackupManager, issuer string) *Engine {
	return &Engine{db: db, cipher: cipher, backup: backup, issuer: issuer, now: time.Now}
}

// WithClock returns a copy of e that validates codes against now.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	cp := *e
	cp.now = now
	return &cp
}

// BeginSetup stores a fresh encrypted seed for the account, replacing any
// unconfirmed one, and returns the provisioning URL plus a PNG data URL of it.
func (e *Engine) BeginSetup(ctx context.Context, userID string) (*Setup, error) {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, ErrAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: user.DisplayName(),
		Period:      validateOpts.Period,
		SecretSize:  20,
		Digits:      validateOpts.Digits,
		Algorithm:   validateOpts.Algorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}

	encrypted, err := e.cipher.Encrypt(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("encrypt totp secret: %w", err)
	}

	err = e.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"two_factor_secret":  encrypted,
			"two_factor_enabled": false,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("store totp secret: %w", err)
	}

	qr, err := qrDataURL(key)
	if err != nil {
		return nil, err
	}

	return &Setup{QRCode: qr, ProvisioningURL: key.URL()}, nil
}

// ConfirmSetup enables 2FA once the user proves the authenticator works.
func (e *Engine) ConfirmSetup(ctx context.Context, userID, token string) error {
	code := utils.NormalizeCode(token)
	if !isTOTP(code) {
		return ErrTOTPFormat
	}

	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.TwoFactorSecret == "" {
		return ErrNotInitiated
	}

	if err := e.checkTOTP(user, code); err != nil {
		return err
	}

	return e.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Update("two_factor_enabled", true).Error
}

// Reset clears the seed and disables 2FA. No token is required.
func (e *Engine) Reset(ctx context.Context, userID string) error {
	res := e.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"two_factor_secret":  "",
			"two_factor_enabled": false,
		})
	if res.Error != nil {
		return fmt.Errorf("reset 2FA: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// VerifyLogin checks the second factor of a login. The normalized input is
// dispatched by shape: six digits go to TOTP, twenty alphanumerics to the
// backup codes, anything else is rejected without trying either.
func (e *Engine) VerifyLogin(ctx context.Context, user *models.User, raw string) error {
	code := utils.NormalizeCode(raw)

	switch {
	case isTOTP(code):
		return e.checkTOTP(user, code)
	case isBackupCode(code):
		return e.backup.VerifyAndConsume(ctx, user.ID, code)
	default:
		return ErrTokenFormat
	}
}

func (e *Engine) checkTOTP(user *models.User, code string) error {
	if user.TwoFactorSecret == "" {
		return ErrInvalidToken
	}

	secret, err := e.cipher.Decrypt(user.TwoFactorSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSecretCorrupt, err)
	}

	ok, err := totp.ValidateCustom(code, secret, e.now().UTC(), validateOpts)
	if err != nil || !ok {
		return ErrInvalidToken
	}
	return nil
}

func (e *Engine) loadUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := e.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return "", fmt.Errorf("render qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func isTOTP(s string) bool {
	if len(s) != totpDigits {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
