package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gingernanny/portal-api/internal/config"
	"github.com/gingernanny/portal-api/internal/database"
	"github.com/gingernanny/portal-api/internal/logger"
	"github.com/gingernanny/portal-api/internal/mail"
	"github.com/gingernanny/portal-api/internal/server"
	"github.com/gingernanny/portal-api/internal/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfg *config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "portal-api",
	Short: "Portal API - authentication and account service",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		log = logger.New(cfg.Env, cfg.LogLevel)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func main() {
	rootCmd.AddCommand(serveCmd(), migrateCmd(), createAdminCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = log.Sync() }()

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			db, err := openDatabase()
			if err != nil {
				return err
			}

			var shared fiber.Storage
			if cfg.Redis.URL != "" {
				redisStore, err := storage.NewRedisStorage(cfg.Redis.URL, cfg.Redis.Prefix)
				if err != nil {
					return fmt.Errorf("connect redis: %w", err)
				}
				defer redisStore.Close()
				shared = redisStore
				log.Info("rate limits and csrf tokens stored in redis")
			}

			srv, err := server.New(server.Deps{
				Config:  cfg,
				DB:      db,
				Log:     log,
				Mailer:  mail.New(cfg.SMTP, logger.WithComponent(log, "mail")),
				Storage: shared,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Admin.Email != "" && cfg.Admin.Password != "" {
				if _, err := srv.Auth.EnsureAdmin(ctx, cfg.Admin.Email, cfg.Admin.Password); err != nil {
					log.Warn("bootstrap admin not created", zap.Error(err))
				}
			}

			database.StartCleanup(ctx, db, cfg.CleanupInterval, cfg.Auth.ResetRequestWindow, logger.WithComponent(log, "cleanup"))

			go func() {
				<-ctx.Done()
				log.Info("shutting down")
				if err := srv.App.ShutdownWithTimeout(10 * time.Second); err != nil {
					log.Error("shutdown failed", zap.Error(err))
				}
			}()

			log.Info("server starting", zap.String("addr", cfg.ServerAddr), zap.String("env", cfg.Env))
			return srv.App.Listen(cfg.ServerAddr)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and SQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}

			applied, err := database.GetAppliedMigrations(db)
			if err != nil {
				return err
			}
			for _, m := range applied {
				log.Info("migration applied", zap.String("version", m.Version), zap.Time("at", m.AppliedAt))
			}
			return nil
		},
	}
}

func createAdminCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create the first admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if email == "" {
				email = cfg.Admin.Email
			}
			if password == "" {
				password = cfg.Admin.Password
			}
			if email == "" || password == "" {
				return fmt.Errorf("admin email and password are required")
			}

			db, err := openDatabase()
			if err != nil {
				return err
			}

			srv, err := server.New(server.Deps{
				Config:           cfg,
				DB:               db,
				Log:              log,
				Mailer:           mail.NewLogMailer(log),
				DisableAccessLog: true,
			})
			if err != nil {
				return err
			}

			created, err := srv.Auth.EnsureAdmin(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if !created {
				fmt.Println("An admin account already exists; nothing to do.")
				return nil
			}
			fmt.Printf("Admin account %s created.\n", email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "admin email (defaults to ADMIN_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "admin password (defaults to ADMIN_PASSWORD)")
	return cmd
}

// openDatabase connects and brings the schema up to date.
func openDatabase() (*gorm.DB, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := database.MigrateAll(db, log); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return db, nil
}
