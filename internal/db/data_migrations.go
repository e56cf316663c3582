package db

import (
	"database/sql"
	"strings"

	"github.com/sirupsen/logrus"
)

// DataMigration represents a data migration
type DataMigration struct {
	Version     string
	Description string
	Up          func(*sql.DB) error
	Down        func(*sql.DB) error
}

// GetDataMigrations return all data migrations
func GetDataMigrations() []DataMigration {
	return []DataMigration{
		{
			Version:     "data_001",
			Description: "Store empty settlement chain hashes as NULL",
			Up:          nullEmptySettlementHashes,
			Down:        noopMigration,
		},
		{
			Version:     "data_002",
			Description: "Count the first broadcast of settlements recorded before attempts were tracked",
			Up:          backfillSettlementAttempts,
			Down:        noopMigration,
		},
	}
}

// nullEmptySettlementHashes the unique index on chain_tx_hash only tolerates
// repeated NULLs, not repeated empty strings
func nullEmptySettlementHashes(db *sql.DB) error {
	result, err := db.Exec(`UPDATE settlements SET chain_tx_hash = NULL WHERE chain_tx_hash = ''`)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	logrus.Infof("✅ [DB] cleared %d empty settlement hashes", rows)
	return nil
}

func backfillSettlementAttempts(db *sql.DB) error {
	result, err := db.Exec(`UPDATE settlements SET attempts = 1 WHERE chain_tx_hash IS NOT NULL AND attempts = 0`)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	logrus.Infof("✅ [DB] backfilled attempts on %d settlements", rows)
	return nil
}

func noopMigration(*sql.DB) error { return nil }

// RunDataMigrations applies every migration not yet recorded in schema_migrations_log
func RunDataMigrations(db *sql.DB) error {
	for _, migration := range GetDataMigrations() {
		var count int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM schema_migrations_log WHERE version = $1",
			migration.Version,
		).Scan(&count)

		if err != nil {
			if !strings.Contains(err.Error(), "does not exist") {
				return err
			}
			logrus.Info("📋 [DB] creating schema_migrations_log table...")
			if _, err := db.Exec(`
				CREATE TABLE IF NOT EXISTS schema_migrations_log (
					id SERIAL PRIMARY KEY,
					version VARCHAR(50) NOT NULL UNIQUE,
					description TEXT,
					executed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
					status VARCHAR(20) DEFAULT 'completed'
				)
			`); err != nil {
				return err
			}
			count = 0
		}

		if count > 0 {
			logrus.Debugf("📋 [DB] data migration %s already applied", migration.Version)
			continue
		}

		logrus.Infof("🚀 [DB] running data migration %s: %s", migration.Version, migration.Description)
		if err := migration.Up(db); err != nil {
			return err
		}

		if _, err := db.Exec(
			"INSERT INTO schema_migrations_log (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			return err
		}
	}
	return nil
}
