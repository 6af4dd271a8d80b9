package postgres_test

import (
	"context"
	"testing"

	"github.com/sagarc03/sitehost"
	"github.com/sagarc03/sitehost/database/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect(t *testing.T) {
	pool := getSharedTestDatabase(t)
	dsn := getDSN(pool)
	ctx := context.Background()

	tables := sitehost.Tables{Sites: "sites"}
	db, err := postgres.Connect(ctx, dsn, tables)
	require.NoError(t, err)
	assert.NotNil(t, db)
	defer func() { _ = db.Close() }()

	// Verify connection is actually usable
	err = db.Ping(ctx)
	assert.NoError(t, err, "ping should succeed after connect")
}

func TestDatabase_Migrate(t *testing.T) {
	pool := getSharedTestDatabase(t)
	dsn := getDSN(pool)
	ctx := context.Background()

	t.Run("success - creates tables", func(t *testing.T) {
		tableName := "migrate_test_" + getRandomString(t)
		tables := sitehost.Tables{Sites: tableName}
		db, err := postgres.Connect(ctx, dsn, tables)
		require.NoError(t, err)
		defer func() {
			_ = db.Close()
			_ = dropTable(ctx, pool, tableName)
		}()

		err = db.Migrate(ctx)
		assert.NoError(t, err, "migrate should succeed")

		// Verify table exists by trying to use the repo
		repo := db.GetRepo()
		_, err = repo.List(ctx, sitehost.ListQuery{Limit: 1})
		assert.NoError(t, err, "repo should work after migration")
	})

	t.Run("idempotent - can run multiple times", func(t *testing.T) {
		tableName := "migrate_idem_" + getRandomString(t)
		tables := sitehost.Tables{Sites: tableName}
		db, err := postgres.Connect(ctx, dsn, tables)
		require.NoError(t, err)
		defer func() {
			_ = db.Close()
			_ = dropTable(ctx, pool, tableName)
		}()

		err = db.Migrate(ctx)
		assert.NoError(t, err, "first migrate should succeed")

		err = db.Migrate(ctx)
		assert.NoError(t, err, "second migrate should succeed")
	})

	t.Run("drop tables", func(t *testing.T) {
		tables := sitehost.Tables{Sites: "drop_" + getRandomString(t)}

		require.NoError(t, postgres.Migrate(ctx, pool, tables))
		require.NoError(t, postgres.DropTables(ctx, pool, tables))

		assert.Error(t, postgres.ValidateSchema(ctx, pool, tables))
	})
}

func TestDatabase_Validate(t *testing.T) {
	pool := getSharedTestDatabase(t)
	dsn := getDSN(pool)
	ctx := context.Background()

	t.Run("success - valid schema after migrate", func(t *testing.T) {
		tableName := "validate_test_" + getRandomString(t)
		tables := sitehost.Tables{Sites: tableName}
		db, err := postgres.Connect(ctx, dsn, tables)
		require.NoError(t, err)
		defer func() {
			_ = db.Close()
			_ = dropTable(ctx, pool, tableName)
		}()

		err = db.Migrate(ctx)
		require.NoError(t, err)

		err = db.Validate(ctx)
		assert.NoError(t, err, "validate should succeed after migrate")
	})

	t.Run("error - table does not exist", func(t *testing.T) {
		tables := sitehost.Tables{Sites: "nonexistent_table"}
		db, err := postgres.Connect(ctx, dsn, tables)
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		// Don't migrate - table won't exist
		err = db.Validate(ctx)
		assert.Error(t, err)
	})

	t.Run("error - missing columns", func(t *testing.T) {
		tableName := "incomplete_" + getRandomString(t)
		tables := sitehost.Tables{Sites: tableName}

		// Create table with missing columns using the pool directly
		_, err := pool.Exec(ctx, `
			CREATE TABLE `+tableName+` (
				id UUID PRIMARY KEY,
				name TEXT NOT NULL
			)
		`)
		require.NoError(t, err)
		defer func() { _ = dropTable(ctx, pool, tableName) }()

		db, err := postgres.Connect(ctx, dsn, tables)
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		err = db.Validate(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing columns")
	})

	t.Run("error - wrong column type", func(t *testing.T) {
		tableName := "wrongtype_" + getRandomString(t)
		tables := sitehost.Tables{Sites: tableName}

		_, err := pool.Exec(ctx, `
			CREATE TABLE `+tableName+` (
				id UUID PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				root TEXT NOT NULL,
				auth_username TEXT,
				auth_hash TEXT,
				quota_bytes INTEGER NOT NULL,
				used_bytes BIGINT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)
		`)
		require.NoError(t, err)
		defer func() { _ = dropTable(ctx, pool, tableName) }()

		err = postgres.ValidateSchema(ctx, pool, tables)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "quota_bytes: expected bigint, got integer")
	})

	t.Run("error - credential half set", func(t *testing.T) {
		tableName := "halfauth_" + getRandomString(t)
		tables := sitehost.Tables{Sites: tableName}
		require.NoError(t, postgres.Migrate(ctx, pool, tables))
		defer func() { _ = dropTable(ctx, pool, tableName) }()

		_, err := pool.Exec(ctx, `INSERT INTO `+tableName+` (name, root, auth_username, quota_bytes) VALUES ('blog', '/srv/blog', 'bob', 100)`)
		require.NoError(t, err)

		err = postgres.ValidateSchema(ctx, pool, tables)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "auth_username and auth_hash not set together")
	})
}

func TestDatabase_Close(t *testing.T) {
	pool := getSharedTestDatabase(t)
	ctx := context.Background()

	db, err := postgres.Connect(ctx, getDSN(pool), sitehost.Tables{Sites: "close_test"})
	require.NoError(t, err)

	assert.NoError(t, db.Close())
	assert.Error(t, db.Ping(ctx), "ping should fail after close")
}

func TestNewRepo_InvalidTables(t *testing.T) {
	pool := getSharedTestDatabase(t)

	_, err := postgres.NewRepo(pool, sitehost.Tables{Sites: "bad-name"})
	assert.Error(t, err)
}
