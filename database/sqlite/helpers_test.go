package sqlite_test

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"testing"

	"github.com/sagarc03/sitehost"
	"github.com/sagarc03/sitehost/database/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getRandomString(t *testing.T) string {
	t.Helper()
	n, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	assert.NoError(t, err, "random string")
	return fmt.Sprintf("test%x", n.Int64())
}

// setupTestDB opens a fresh in-memory database with a unique table name.
func setupTestDB(t *testing.T) (*sqlite.DB, sitehost.Tables) {
	t.Helper()

	tables := sitehost.Tables{Sites: fmt.Sprintf("sites_%s", getRandomString(t))}

	db, err := sqlite.Connect(context.Background(), ":memory:", tables)
	require.NoError(t, err, "failed to connect")
	t.Cleanup(func() { _ = db.Close() })

	return db, tables
}

// setupTestRepo creates a migrated repo for test isolation.
func setupTestRepo(t *testing.T) sitehost.SiteRepo {
	t.Helper()

	db, _ := setupTestDB(t)
	require.NoError(t, db.Migrate(context.Background()), "failed to migrate")

	return db.GetRepo()
}
