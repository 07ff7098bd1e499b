package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"

	minSecretLength = 32
)

type Config struct {
	Env             string
	ServerAddr      string
	LogLevel        string
	AllowedOrigins  []string
	FrontendBaseURL string
	APIBaseURL      string
	ProjectName     string

	DB     DBConfig
	Auth   AuthConfig
	Limits LimitsConfig
	SMTP   SMTPConfig
	Redis  RedisConfig
	Admin  AdminConfig

	CleanupInterval time.Duration
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type AuthConfig struct {
	AccessTokenSecret  string
	RefreshTokenSecret string
	ActionTokenSecret  string

	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	ResetTokenTTL        time.Duration
	VerificationTokenTTL time.Duration

	EncryptionKey  string
	EncryptionSalt string

	BackupCodeCount    int
	ResetRequestLimit  int
	ResetRequestWindow time.Duration
}

// Rule is a per-IP request budget over a window.
type Rule struct {
	Max    int
	Window time.Duration
}

type LimitsConfig struct {
	Login          Rule
	Register       Rule
	Refresh        Rule
	ForgotPassword Rule
	TwoFactor      Rule
	BackupCode     Rule
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type RedisConfig struct {
	URL    string
	Prefix string
}

type AdminConfig struct {
	Email    string
	Password string
}

func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Env:             getEnv("APP_ENV", EnvDevelopment),
		ServerAddr:      getEnv("SERVER_ADDR", ":8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		AllowedOrigins:  splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		FrontendBaseURL: strings.TrimRight(getEnv("FRONTEND_BASE_URL", "http://localhost:3000"), "/"),
		APIBaseURL:      strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8080"), "/"),
		ProjectName:     getEnv("PROJECT_NAME", "Ginger Nanny"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "portal"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Auth: AuthConfig{
			AccessTokenSecret:    getEnv("ACCESS_TOKEN_SECRET", ""),
			RefreshTokenSecret:   getEnv("REFRESH_TOKEN_SECRET", ""),
			ActionTokenSecret:    getEnv("ACTION_TOKEN_SECRET", ""),
			AccessTokenTTL:       getEnvDuration("ACCESS_TOKEN_EXPIRES", 15*time.Minute),
			RefreshTokenTTL:      getEnvDuration("REFRESH_TOKEN_EXPIRES", 7*24*time.Hour),
			ResetTokenTTL:        getEnvDuration("RESET_TOKEN_EXPIRES", 15*time.Minute),
			VerificationTokenTTL: getEnvDuration("VERIFICATION_TOKEN_EXPIRES", 24*time.Hour),
			EncryptionKey:        getEnv("ENCRYPTION_KEY", ""),
			EncryptionSalt:       getEnv("ENCRYPTION_SALT", "salt"),
			BackupCodeCount:      getEnvInt("BACKUP_CODE_COUNT", 5),
			ResetRequestLimit:    getEnvInt("RESET_REQUEST_LIMIT", 3),
			ResetRequestWindow:   getEnvDuration("RESET_REQUEST_WINDOW", 24*time.Hour),
		},
		Limits: LimitsConfig{
			Login:          getRule("RATE_LIMIT_LOGIN", 10, 2*time.Minute),
			Register:       getRule("RATE_LIMIT_REGISTER", 5, time.Minute),
			Refresh:        getRule("RATE_LIMIT_REFRESH", 30, 5*time.Minute),
			ForgotPassword: getRule("RATE_LIMIT_FORGOT_PASSWORD", 3, time.Hour),
			TwoFactor:      getRule("RATE_LIMIT_2FA", 10, 5*time.Minute),
			BackupCode:     getRule("RATE_LIMIT_BACKUP", 10, 5*time.Minute),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "no-reply@localhost"),
		},
		Redis: RedisConfig{
			URL:    getEnv("REDIS_URL", ""),
			Prefix: getEnv("REDIS_PREFIX", "portal:"),
		},
		Admin: AdminConfig{
			Email:    getEnv("ADMIN_EMAIL", ""),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", time.Hour),
	}

	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Validate checks the secrets needed before any token or cipher is built.
func (c *Config) Validate() error {
	var errs []error

	secrets := map[string]string{
		"ACCESS_TOKEN_SECRET":  c.Auth.AccessTokenSecret,
		"REFRESH_TOKEN_SECRET": c.Auth.RefreshTokenSecret,
		"ACTION_TOKEN_SECRET":  c.Auth.ActionTokenSecret,
		"ENCRYPTION_KEY":       c.Auth.EncryptionKey,
	}
	for _, key := range []string{"ACCESS_TOKEN_SECRET", "REFRESH_TOKEN_SECRET", "ACTION_TOKEN_SECRET", "ENCRYPTION_KEY"} {
		value := secrets[key]
		switch {
		case value == "":
			errs = append(errs, fmt.Errorf("%s is not set", key))
		case len(value) < minSecretLength:
			errs = append(errs, fmt.Errorf("%s must be at least %d characters", key, minSecretLength))
		}
	}

	if c.Auth.AccessTokenSecret != "" && c.Auth.AccessTokenSecret == c.Auth.RefreshTokenSecret {
		errs = append(errs, errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ"))
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.Auth.BackupCodeCount <= 0 {
		errs = append(errs, errors.New("BACKUP_CODE_COUNT must be positive"))
	}
	switch c.Env {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("APP_ENV %q is not one of development, staging, production", c.Env))
	}

	return errors.Join(errs...)
}

func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DB.Host, c.DB.User, c.DB.Password, c.DB.Name, c.DB.Port, c.DB.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// getRule reads KEY_MAX and KEY_WINDOW.
func getRule(prefix string, max int, window time.Duration) Rule {
	return Rule{
		Max:    getEnvInt(prefix+"_MAX", max),
		Window: getEnvDuration(prefix+"_WINDOW", window),
	}
}

// ParseDuration accepts everything time.ParseDuration does plus a whole-day
// suffix such as "7d".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
