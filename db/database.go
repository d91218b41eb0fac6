package db

import (
	"fmt"
	"log"
	"strings"

	"casefile_billing_go/config"
	"casefile_billing_go/models"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the case file database and returns the handle that
// every component receives explicitly. A Turso URL selects the remote
// libSQL driver; otherwise DBPath is a local SQLite file opened in WAL mode.
func Open(cfg *config.Config) (*gorm.DB, error) {
	// Determine log level based on environment
	logLevel := logger.Info
	if cfg.IsProduction() {
		logLevel = logger.Warn
	}
	switch cfg.DBLogLevel {
	case "silent":
		logLevel = logger.Silent
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	}

	var dialector gorm.Dialector
	if cfg.TursoDatabaseURL != "" {
		dialector = sqlite.New(sqlite.Config{
			DriverName: "libsql",
			DSN:        tursoDSN(cfg.TursoDatabaseURL, cfg.TursoAuthToken),
		})
	} else {
		dialector = sqlite.Open(localDSN(cfg.DBPath))
	}

	database, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if isMemory(cfg.DBPath) && cfg.TursoDatabaseURL == "" {
		// Every connection to ":memory:" is a separate database
		sqlDB, err := database.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database instance: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if cfg.TursoDatabaseURL != "" {
		log.Println("Database connection established (libSQL remote)")
	} else {
		log.Printf("Database connection established (%s)", cfg.DBPath)
	}
	return database, nil
}

// Migrate creates the four case file tables if they are missing
func Migrate(database *gorm.DB) error {
	if database == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := database.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("Database migrations completed")
	return nil
}

// Close closes the database connection
func Close(database *gorm.DB) error {
	if database == nil {
		return nil
	}

	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	return sqlDB.Close()
}

func localDSN(path string) string {
	if isMemory(path) {
		return path
	}
	// Enable WAL mode for better concurrency support
	if strings.Contains(path, "?") {
		return path + "&_journal_mode=WAL"
	}
	return path + "?_journal_mode=WAL"
}

func tursoDSN(url, token string) string {
	if token == "" || strings.Contains(url, "authToken=") {
		return url
	}
	if strings.Contains(url, "?") {
		return url + "&authToken=" + token
	}
	return url + "?authToken=" + token
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}
