package db

import (
	"fmt"
	"os"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"klinewatch.magictradebot.com/config"
	"klinewatch.magictradebot.com/models"
)

// Open connects to the configured provider and verifies the connection.
func Open(cfg config.DatabaseSettings, log *logrus.Logger) (*gorm.DB, error) {
	provider := strings.ToLower(cfg.Provider)
	conn := cfg.ConnectionString

	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}

	var db *gorm.DB
	var err error

	switch provider {
	case "sqlite":
		if conn != ":memory:" {
			if _, statErr := os.Stat(conn); os.IsNotExist(statErr) {
				log.Warnf("⚠️  SQLite DB file '%s' does not exist. Will be created on first write.", conn)
			}
		}
		db, err = gorm.Open(sqlite.Open(conn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite DB: %w", err)
		}
		log.Infof("✅ SQLite connected: %s", conn)

	case "postgresql":
		db, err = gorm.Open(postgres.Open(conn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		log.Infof("✅ PostgreSQL connected")

	default:
		return nil, fmt.Errorf("unknown DB provider: %s", cfg.Provider)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to extract sql.DB: %w", err)
	}
	if provider == "sqlite" {
		// one writer; also keeps an in-memory database alive across queries
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("DB ping failed: %w", err)
	}

	return db, nil
}

// AutoMigrate creates missing tables and indexes. Existing data is kept.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Kline{},
		&models.Symbol{},
		&models.GlobalConfig{},
		&models.SymbolConfig{},
		&models.Alert{},
		&models.AlertDedup{},
	)
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func cleanSymbol(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
