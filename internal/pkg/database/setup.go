package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/ClaimAgent/app/models"
)

const maxRetries = 5
const retryDelay = 2 * time.Second

// DB is the process-wide store handle set by SetupDatabase
var DB *gorm.DB

// DSN builds the SQLite connection string. WAL lets dashboard reads run next
// to pipeline writes; immediate transactions take the write lock up front so
// concurrent writers queue on the busy timeout instead of failing on upgrade.
func DSN(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate", path)
}

// Open opens the SQLite store at path and migrates the schema.
func Open(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(DSN(path)), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

// SetupDatabase opens the store with a few retries, since another agent
// process may briefly hold the file during its own migration.
func SetupDatabase(path string) (*gorm.DB, error) {
	var err error
	for i := 0; i < maxRetries; i++ {
		DB, err = Open(path)
		if err == nil {
			log.Infof("[Store] Opened %s", path)
			return DB, nil
		}

		log.Warnf("[Store] Failed to open store (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return nil, err
}

// GetDB returns the process-wide store handle
func GetDB() *gorm.DB {
	return DB
}

// Close releases the underlying connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
