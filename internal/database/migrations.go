package database

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SQLMigrations holds the Postgres constraints AutoMigrate cannot express.
//
//go:embed migrations/*.sql
var SQLMigrations embed.FS

type Migration struct {
	ID        uint      `gorm:"primaryKey"`
	Version   string    `gorm:"uniqueIndex;size:255"`
	AppliedAt time.Time `gorm:"not null"`
}

func (Migration) TableName() string {
	return "schema_migrations"
}

// RunMigrations applies every *.sql file under dir in fsys that has not been
// recorded yet. Files run in lexical order, each in its own transaction.
func RunMigrations(db *gorm.DB, fsys fs.FS, dir string, log *zap.Logger) error {
	if err := db.AutoMigrate(&Migration{}); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	files, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}

	for _, file := range files {
		version := path.Base(file)

		var count int64
		if err := db.Model(&Migration{}).Where("version = ?", version).Count(&count).Error; err != nil {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if count > 0 {
			log.Debug("skipping applied migration", zap.String("version", version))
			continue
		}

		sqlContent, err := fs.ReadFile(fsys, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}

		err = db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(string(sqlContent)).Error; err != nil {
				return err
			}
			return tx.Create(&Migration{Version: version, AppliedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", version, err)
		}

		log.Info("applied migration", zap.String("version", version))
	}

	return nil
}

func GetAppliedMigrations(db *gorm.DB) ([]Migration, error) {
	var migrations []Migration
	if err := db.Order("version ASC").Find(&migrations).Error; err != nil {
		return nil, err
	}
	return migrations, nil
}

// MigrateAll runs AutoMigrate and, on Postgres, the embedded SQL migrations.
func MigrateAll(db *gorm.DB, log *zap.Logger) error {
	if err := Migrate(db, log); err != nil {
		return err
	}
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	return RunMigrations(db, SQLMigrations, "migrations", log)
}
