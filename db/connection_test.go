package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/strata/errors"
)

func TestOpenLedgerPragmas(t *testing.T) {
	conn, err := Open(filepath.Join(t.TempDir(), "ledger.db"), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer conn.Close()

	// Hold two connections at once; both must carry the pragmas.
	ctx := context.Background()
	c1, err := conn.Conn(ctx)
	require.NoError(t, err)
	defer c1.Close()
	c2, err := conn.Conn(ctx)
	require.NoError(t, err)
	defer c2.Close()

	for _, pragma := range []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"foreign_keys", "1"},
		{"busy_timeout", fmt.Sprint(SQLiteBusyTimeoutMS)},
	} {
		var v1, v2 string
		require.NoError(t, c1.QueryRowContext(ctx, "PRAGMA "+pragma.name).Scan(&v1))
		require.NoError(t, c2.QueryRowContext(ctx, "PRAGMA "+pragma.name).Scan(&v2))
		assert.Equal(t, pragma.want, v1, pragma.name)
		assert.Equal(t, pragma.want, v2, pragma.name)
	}
}

func TestOpenCreatesLedgerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	conn, err := Open(path, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpenUnreachablePath(t *testing.T) {
	conn, err := Open("/nonexistent/strata/ledger.db", nil)
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.Contains(t, err.Error(), "/nonexistent/strata/ledger.db")
	assert.NotNil(t, errors.GetStack(err))
}

func TestOpenWithMigrationsWrapsPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")

	// A schema_migrations table without a name column cannot be read back.
	conn, err := Open(path, nil)
	require.NoError(t, err)
	_, err = conn.Exec("CREATE TABLE schema_migrations (version INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	conn.Close()

	conn, err = OpenWithMigrations(path, nil)
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.Contains(t, err.Error(), "migrate ledger "+path)
	assert.Contains(t, fmt.Sprintf("%+v", err), "connection.go")
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		closed   bool
		conflict bool
	}{
		{"nil", nil, false, false},
		{"sentinel", errors.Wrap(ErrDatabaseClosed, "claim run"), true, false},
		{"driver closed", errors.New("sql: database is closed"), true, false},
		{"duplicate run key", errors.New("UNIQUE constraint failed: runs.job, runs.run_key"), false, true},
		{"other", errors.New("disk I/O error"), false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.closed, IsDatabaseClosed(tc.err))
			assert.Equal(t, tc.conflict, IsUniqueViolation(tc.err))
		})
	}
}
