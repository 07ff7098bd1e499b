package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/gingernanny/portal-api/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

type TokenPurpose string

const (
	PurposePasswordReset     TokenPurpose = "password-reset"
	PurposeEmailVerification TokenPurpose = "email-verification"
)

// UserClaims is the identity carried by access and refresh tokens.
type UserClaims struct {
	UserID   string      `json:"userId"`
	Role     models.Role `json:"role"`
	UserName string      `json:"userName"`
	jwt.RegisteredClaims
}

type ActionClaims struct {
	UserID  string       `json:"userId"`
	Purpose TokenPurpose `json:"purpose"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	ActionSecret  string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// TokenManager signs and verifies every JWT the service hands out. Access,
// refresh and action tokens each use their own secret.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	actionSecret  []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenManager(cfg TokenConfig) *TokenManager {
	return &TokenManager{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		actionSecret:  []byte(cfg.ActionSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           time.Now,
	}
}

// WithClock returns a copy of m that reads time from now.
func (m *TokenManager) WithClock(now func() time.Time) *TokenManager {
	cp := *m
	cp.now = now
	return &cp
}

func (m *TokenManager) AccessTTL() time.Duration  { return m.accessTTL }
func (m *TokenManager) RefreshTTL() time.Duration { return m.refreshTTL }

func (m *TokenManager) IssueAccessToken(userID string, role models.Role, userName string) (string, error) {
	token, _, err := m.issueUser(m.accessSecret, m.accessTTL, userID, role, userName)
	return token, err
}

func (m *TokenManager) IssueRefreshToken(userID string, role models.Role, userName string) (string, time.Time, error) {
	return m.issueUser(m.refreshSecret, m.refreshTTL, userID, role, userName)
}

func (m *TokenManager) VerifyAccessToken(token string) (*UserClaims, error) {
	return m.verifyUser(token, m.accessSecret)
}

func (m *TokenManager) VerifyRefreshToken(token string) (*UserClaims, error) {
	return m.verifyUser(token, m.refreshSecret)
}

func (m *TokenManager) IssueActionToken(userID string, purpose TokenPurpose, ttl time.Duration) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(ttl)
	claims := ActionClaims{
		UserID:  userID,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.actionSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign action token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// VerifyActionToken returns the user id of a valid token issued for purpose.
func (m *TokenManager) VerifyActionToken(token string, purpose TokenPurpose) (string, error) {
	var claims ActionClaims
	if err := m.parse(token, m.actionSecret, &claims); err != nil {
		return "", err
	}
	if claims.Purpose != purpose || claims.UserID == "" {
		return "", ErrTokenInvalid
	}
	return claims.UserID, nil
}

func (m *TokenManager) issueUser(secret []byte, ttl time.Duration, userID string, role models.Role, userName string) (string, time.Time, error) {
	now := m.now()
	claims := UserClaims{
		UserID:   userID,
		Role:     role,
		UserName: userName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

func (m *TokenManager) verifyUser(token string, secret []byte) (*UserClaims, error) {
	var claims UserClaims
	if err := m.parse(token, secret, &claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" || !claims.Role.Valid() {
		return nil, ErrTokenInvalid
	}
	return &claims, nil
}

func (m *TokenManager) parse(token string, secret []byte, claims jwt.Claims) error {
	if token == "" {
		return ErrTokenInvalid
	}

	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return nil
}
