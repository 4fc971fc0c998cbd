package database

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
)

// Migrate applies any pending schema migrations and closes the migration
// handle. The schema holds run_logs, override_records and incidents; run
// logs and override history are append-only tables, so no migration ever
// introduces an UPDATE path for them.
func Migrate(databaseURL, migrationsPath string, logger *logrus.Logger) error {
	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		return fmt.Errorf("opening migration source: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.WithFields(logrus.Fields{
				"source_err": srcErr,
				"db_err":     dbErr,
			}).Warn("Migration handle did not close cleanly")
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("Schema already current")
			return nil
		}
		return fmt.Errorf("applying migrations: %w", err)
	}

	if version, dirty, verr := m.Version(); verr == nil {
		logger.WithFields(logrus.Fields{
			"schema_version": version,
			"dirty":          dirty,
		}).Info("Schema migrated")
	}
	return nil
}
