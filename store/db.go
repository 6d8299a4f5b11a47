package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// InMemorySQLiteDSN is a special DSN to create an ephemeral in-memory SQLite database.
	InMemorySQLiteDSN = ":memory:"

	dbDirPermissions = 0o750
)

var schemaModels = []any{
	&Constitution{},
	&Agent{},
	&PromotionHistory{},
	&Tier{},
	&Promotion{},
	&PromotionNominee{},
	&PromotionVote{},
	&Proposal{},
	&GovernanceVote{},
}

// OpenFileDB opens (or creates) a file-backed SQLite store in dir and
// migrates the schema.
func OpenFileDB(dir, filename string, log logrus.FieldLogger) (*Store, error) {
	if err := os.MkdirAll(dir, dbDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory: %s", dir)
	}
	return openSQLite(filepath.Join(dir, filename), log)
}

// OpenInMemoryDB opens a non-persistent store, used by tests and dry runs.
func OpenInMemoryDB(log logrus.FieldLogger) (*Store, error) {
	return openSQLite(InMemorySQLiteDSN, log)
}

func openSQLite(dsn string, log logrus.FieldLogger) (*Store, error) {
	if dsn != InMemorySQLiteDSN && !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&mode=rwc"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open SQLite database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying sql.DB")
	}
	// one connection serializes writers, so a vote and the resolution it
	// triggers commit together; it also keeps :memory: a single database
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := db.AutoMigrate(schemaModels...); err != nil {
		return nil, errors.Wrap(err, "failed to auto-migrate database schema")
	}

	return New(db, log), nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to retrieve native sql.DB")
	}
	if err := sqlDB.Close(); err != nil {
		return errors.Wrap(err, "failed to close database connection")
	}
	return nil
}
