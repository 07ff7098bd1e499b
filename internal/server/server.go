package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gingernanny/portal-api/internal/admin"
	"github.com/gingernanny/portal-api/internal/audit"
	"github.com/gingernanny/portal-api/internal/auth"
	"github.com/gingernanny/portal-api/internal/config"
	"github.com/gingernanny/portal-api/internal/errorlog"
	"github.com/gingernanny/portal-api/internal/mail"
	"github.com/gingernanny/portal-api/internal/metrics"
	"github.com/gingernanny/portal-api/internal/models"
	"github.com/gingernanny/portal-api/internal/response"
	"github.com/gingernanny/portal-api/internal/session"
	"github.com/gingernanny/portal-api/internal/twofactor"
	"github.com/gingernanny/portal-api/internal/user"
	"github.com/gingernanny/portal-api/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Deps struct {
	Config *config.Config
	DB     *gorm.DB
	Log    *zap.Logger
	Mailer mail.Mailer
	// Storage is shared by the rate limiters and CSRF tokens. Nil keeps them in memory.
	Storage          fiber.Storage
	DisableAccessLog bool
}

// Server is the wired application.
type Server struct {
	App      *fiber.App
	Auth     *auth.Service
	Tokens   *utils.TokenManager
	Metrics  *metrics.Metrics
	ErrorLog *errorlog.Service

	cfg     *config.Config
	db      *gorm.DB
	log     *zap.Logger
	storage fiber.Storage
	secure  bool
}

func New(d Deps) (*Server, error) {
	cfg := d.Config

	cipher, err := utils.NewSecretCipher(cfg.Auth.EncryptionKey, cfg.Auth.EncryptionSalt)
	if err != nil {
		return nil, fmt.Errorf("init secret cipher: %w", err)
	}

	tokens := utils.NewTokenManager(utils.TokenConfig{
		AccessSecret:  cfg.Auth.AccessTokenSecret,
		RefreshSecret: cfg.Auth.RefreshTokenSecret,
		ActionSecret:  cfg.Auth.ActionTokenSecret,
		AccessTTL:     cfg.Auth.AccessTokenTTL,
		RefreshTTL:    cfg.Auth.RefreshTokenTTL,
	})

	m := metrics.New()
	errlog := errorlog.NewService(d.DB, d.Log)
	auditLog := audit.NewLogger(d.DB, d.Log)
	sessions := session.NewStore(d.DB)
	backup := twofactor.NewBackupManager(d.DB, cfg.Auth.BackupCodeCount)
	engine := twofactor.NewEngine(d.DB, cipher, backup, cfg.ProjectName)

	accounts := auth.NewService(auth.Deps{
		DB:        d.DB,
		Tokens:    tokens,
		Sessions:  sessions,
		TwoFactor: engine,
		Mailer:    d.Mailer,
		Audit:     auditLog,
		ErrorLog:  errlog,
		Metrics:   m,
		Log:       d.Log,
	}, auth.Options{
		FrontendBaseURL:    cfg.FrontendBaseURL,
		APIBaseURL:         cfg.APIBaseURL,
		ProjectName:        cfg.ProjectName,
		ResetRequestLimit:  cfg.Auth.ResetRequestLimit,
		ResetRequestWindow: cfg.Auth.ResetRequestWindow,
		ResetTTL:           cfg.Auth.ResetTokenTTL,
		VerificationTTL:    cfg.Auth.VerificationTokenTTL,
	})

	s := &Server{
		Auth:     accounts,
		Tokens:   tokens,
		Metrics:  m,
		ErrorLog: errlog,
		cfg:      cfg,
		db:       d.DB,
		log:      d.Log,
		storage:  d.Storage,
		secure:   cfg.IsProduction(),
	}

	s.App = fiber.New(fiber.Config{
		AppName:      cfg.ProjectName,
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: s.errorHandler,
	})

	s.App.Use(recover.New(recover.Config{EnableStackTrace: !cfg.IsProduction()}))
	s.App.Use(helmet.New())
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-CSRF-Token",
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS, PATCH",
		AllowCredentials: true,
	}))
	if !d.DisableAccessLog {
		s.App.Use(logger.New())
	}

	s.routes(handlers{
		auth: auth.NewHandler(accounts, errlog, auth.HandlerConfig{SecureCookie: s.secure, FrontendBaseURL: cfg.FrontendBaseURL}),
		user: user.NewHandler(user.Deps{
			Accounts:     accounts,
			TwoFactor:    engine,
			Backup:       backup,
			Audit:        auditLog,
			ErrorLog:     errlog,
			Metrics:      m,
			SecureCookie: s.secure,
		}),
		admin: admin.NewHandler(accounts, errlog),
	})

	return s, nil
}

// errorHandler turns anything a handler did not answer itself into an
// envelope. Unexpected errors are recorded and reported as a generic 500.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
		return response.Error(c, fe.Code, fe.Message, nil)
	}

	var userID string
	if claims := auth.CurrentUser(c); claims != nil {
		userID = claims.UserID
	}
	s.ErrorLog.Record(c.UserContext(), errorlog.Entry{
		Code:     "UNHANDLED",
		Err:      err,
		UserID:   userID,
		Severity: models.SeverityCritical,
		Context:  map[string]interface{}{"method": c.Method(), "path": c.Path()},
	})
	return response.InternalError(c, "Internal server error.")
}
