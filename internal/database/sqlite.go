package database

import (
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/journal"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InMemoryDSN is used when no journal path is configured. Events then live only as
// long as the process.
const InMemoryDSN = "file:apsa-journal?mode=memory&cache=shared"

// OpenSQLite establishes a SQLite connection for the event journal and performs
// schema migrations. An empty path selects a shared in-memory database.
func OpenSQLite(path string, log *zap.Logger) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = InMemoryDSN
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&journal.Event{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, log); err != nil {
		return nil, err
	}

	if log != nil {
		log.Info("journal database initialized", zap.String("dsn", dsn))
	}

	return db, nil
}
