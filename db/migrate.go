package db

import (
	"database/sql"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/logger"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// Migration is one schema step of the run ledger, loaded from NNN_name.sql.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt string
}

// Migrate applies the pending ledger migrations in version order.
// Each migration runs in its own transaction together with its bookkeeping row.
func Migrate(db *sql.DB, log *zap.SugaredLogger) error {
	_, err := migrate(db, migrations, migrationsDir, log)
	return err
}

// Pending lists the embedded migrations not yet recorded in db.
func Pending(db *sql.DB) ([]Migration, error) {
	all, err := loadMigrations(migrations, migrationsDir)
	if err != nil {
		return nil, err
	}
	done, err := appliedVersions(db)
	if err != nil {
		return nil, err
	}
	var out []Migration
	for _, m := range all {
		if !done[m.Version] {
			out = append(out, m)
		}
	}
	return out, nil
}

// Applied returns the recorded migrations, oldest first.
func Applied(db *sql.DB) ([]AppliedMigration, error) {
	rows, err := db.Query("SELECT version, name, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, errors.Wrap(err, "query schema_migrations")
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var m AppliedMigration
		if err := rows.Scan(&m.Version, &m.Name, &m.AppliedAt); err != nil {
			return nil, errors.Wrap(err, "scan schema_migrations")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func migrate(db *sql.DB, src fs.FS, dir string, log *zap.SugaredLogger) ([]Migration, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	all, err := loadMigrations(src, dir)
	if err != nil {
		return nil, err
	}
	done, err := appliedVersions(db)
	if err != nil {
		return nil, err
	}

	var applied []Migration
	for _, m := range all {
		if done[m.Version] {
			log.Debugw("Ledger migration already applied", logger.FieldFile, m.Name)
			continue
		}
		if err := apply(db, m); err != nil {
			return applied, err
		}
		log.Infow("Ledger migration applied", logger.FieldFile, m.Name, "version", m.Version)
		applied = append(applied, m)
	}

	log.Infow("Ledger schema up to date", logger.FieldCount, len(all), "applied", len(applied))
	return applied, nil
}

func apply(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin %s", m.Name)
	}
	if _, err := tx.Exec(m.SQL); err != nil {
		tx.Rollback()
		return errors.WithDetailf(errors.Wrapf(err, "execute %s", m.Name), "Ledger migration %03d was rolled back", m.Version)
	}
	// 000 creates schema_migrations, so its own row goes in the same transaction.
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "record %s", m.Name)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", m.Name)
}

// appliedVersions is empty on a fresh ledger that has no schema_migrations yet.
func appliedVersions(db *sql.DB) (map[int]bool, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'").Scan(&n)
	if err != nil {
		return nil, errors.Wrap(err, "inspect ledger schema")
	}
	done := make(map[int]bool)
	if n == 0 {
		return done, nil
	}
	applied, err := Applied(db)
	if err != nil {
		return nil, err
	}
	for _, m := range applied {
		done[m.Version] = true
	}
	return done, nil
}

func loadMigrations(src fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(src, dir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}

	seen := make(map[int]string)
	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(entry.Name(), "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil {
			return nil, errors.WithHint(
				errors.Newf("migration %s has no numeric version prefix", entry.Name()),
				"name migrations NNN_description.sql",
			)
		}
		if other, dup := seen[version]; dup {
			return nil, errors.Newf("migrations %s and %s share version %d", other, entry.Name(), version)
		}
		seen[version] = entry.Name()

		body, err := fs.ReadFile(src, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", entry.Name())
		}
		out = append(out, Migration{Version: version, Name: entry.Name(), SQL: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })

	if len(out) == 0 || out[0].Version != 0 {
		return nil, errors.New("migration 000 (schema_migrations) is missing")
	}
	return out, nil
}
