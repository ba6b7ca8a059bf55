package sqlstore_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/aretw0/conductor/pkg/adapters/sqlstore"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T, opts ...sqlstore.Option) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.Open(context.Background(), sqlstore.SQLite, filepath.Join(t.TempDir(), "db", "threads.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLStore_Contract(t *testing.T) {
	ports.RunStateStoreContract(t, openSQLite(t))
}

func TestSQLStore_Suspended(t *testing.T) {
	store := openSQLite(t, sqlstore.WithTable("threads_v2"))
	ctx := context.Background()

	idle := domain.NewState("idle", domain.DefaultLimits())
	waiting := domain.NewState("waiting", domain.DefaultLimits())
	waiting.Status = domain.StatusSuspended
	require.NoError(t, store.Save(ctx, "idle", idle))
	require.NoError(t, store.Save(ctx, "waiting", waiting))

	ids, err := store.Suspended(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"waiting"}, ids)

	waiting.Status = domain.StatusTerminated
	require.NoError(t, store.Save(ctx, "waiting", waiting))
	ids, err = store.Suspended(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSQLStore_NewKeepsCallerPool(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "shared.db"))
	require.NoError(t, err)
	defer db.Close()

	store, err := sqlstore.New(context.Background(), db, sqlstore.SQLite)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	assert.NoError(t, db.PingContext(context.Background()), "pool still open")
}

func TestSQLStore_RejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	_, err := sqlstore.Open(ctx, "oracle", "dsn")
	assert.Error(t, err)
	_, err = sqlstore.Open(ctx, sqlstore.SQLite, "")
	assert.Error(t, err)
	_, err = sqlstore.Open(ctx, sqlstore.SQLite, filepath.Join(t.TempDir(), "x.db"), sqlstore.WithTable("drop table;"))
	assert.Error(t, err)
}
