package db

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"nvct-backend/internal/config"
	"nvct-backend/internal/metrics"
	"nvct-backend/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const queryStartKey = "nvct:query_start"

// Open connects to PostgreSQL, migrates the schema and runs pending data migrations
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	logrus.Infof("🔌 [DB] connecting to %s", redactDSN(cfg.DSN))

	database, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		TranslateError:                           true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	metrics.DBConnectionStatus.Set(1)
	logrus.Info("✅ [DB] connected")

	registerQueryMetrics(database)

	logrus.Info("🚀 [DB] starting schema migration with GORM AutoMigrate...")
	if err := database.AutoMigrate(
		&models.MultisigTransaction{},
		&models.MultisigConfirmation{},
		&models.Settlement{},
		&models.LedgerSubmission{},
		&models.AdminUser{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate failed: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := RunDataMigrations(sqlDB); err != nil {
		return nil, fmt.Errorf("data migration failed: %w", err)
	}

	logrus.Info("✅ [DB] schema migrated")
	return database, nil
}

// HealthCheck pings the database and updates the connection gauge
func HealthCheck(ctx context.Context, database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		metrics.DBConnectionStatus.Set(0)
		return err
	}
	metrics.DBConnectionStatus.Set(1)
	return nil
}

// registerQueryMetrics times every gorm operation into DBQueryDuration
func registerQueryMetrics(database *gorm.DB) {
	before := func(tx *gorm.DB) {
		tx.InstanceSet(queryStartKey, time.Now())
	}
	after := func(queryType string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			if v, ok := tx.InstanceGet(queryStartKey); ok {
				if start, ok := v.(time.Time); ok {
					metrics.DBQueryDuration.WithLabelValues(queryType).Observe(time.Since(start).Seconds())
				}
			}
		}
	}

	cb := database.Callback()
	cb.Create().Before("gorm:create").Register("metrics:before_create", before)
	cb.Create().After("gorm:create").Register("metrics:after_create", after("create"))
	cb.Query().Before("gorm:query").Register("metrics:before_query", before)
	cb.Query().After("gorm:query").Register("metrics:after_query", after("query"))
	cb.Update().Before("gorm:update").Register("metrics:before_update", before)
	cb.Update().After("gorm:update").Register("metrics:after_update", after("update"))
	cb.Delete().Before("gorm:delete").Register("metrics:before_delete", before)
	cb.Delete().After("gorm:delete").Register("metrics:after_delete", after("delete"))
}

var dsnPassword = regexp.MustCompile(`(password=)[^\s&]*`)

// redactDSN hides the password of a URL or key=value DSN for logging
func redactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		dsn = u.Redacted()
	}
	return dsnPassword.ReplaceAllString(dsn, "${1}xxxxx")
}
