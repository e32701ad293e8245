package db

import (
	"database/sql"
	"net/url"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/logger"
)

// SQLiteBusyTimeoutMS is how long a writer waits on a locked ledger.
const SQLiteBusyTimeoutMS = 5000

// Open opens the SQLite run ledger at path. Connection pragmas travel in the
// DSN so every pooled connection gets them, not only the first.
// If log is provided, logs database operations; otherwise operates silently.
func Open(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	if log != nil {
		log.Debugw("Opening ledger", logger.FieldPath, path)
	}
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// WAL lets the CLI read run history while pulse workers write.
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to open ledger %s", path)
	}
	if mode != "wal" && mode != "memory" {
		db.Close()
		return nil, errors.Newf("ledger %s is in %s journal mode, want wal", path, mode)
	}

	if log != nil {
		log.Infow("Ledger opened",
			logger.FieldPath, path,
			"journal_mode", mode,
			"busy_timeout_ms", SQLiteBusyTimeoutMS,
		)
	}
	return db, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", strconv.Itoa(SQLiteBusyTimeoutMS))
	return path + "?" + q.Encode()
}

// OpenWithMigrations opens the ledger and applies pending migrations.
func OpenWithMigrations(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, log)
	if err != nil {
		return nil, errors.Wrapf(err, "open ledger %s", path)
	}
	if err := Migrate(db, log); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "migrate ledger %s", path)
	}
	return db, nil
}
