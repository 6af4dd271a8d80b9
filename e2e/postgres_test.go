package e2e_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
)

var (
	testPool     *pgxpool.Pool
	testPoolOnce sync.Once
	testCleanup  func()
	testDSN      string
)

// getSharedPostgresDatabase returns a PostgreSQL DSN shared by every E2E
// test. The container is started once.
func getSharedPostgresDatabase(t *testing.T) string {
	t.Helper()

	testPoolOnce.Do(func() {
		ctx := context.Background()

		pgContainer, err := pgcontainer.Run(ctx,
			"postgres:18-alpine",
			pgcontainer.WithDatabase("sitehost"),
			pgcontainer.WithUsername("sitehost"),
			pgcontainer.WithPassword("sitehost"),
			pgcontainer.BasicWaitStrategies(),
		)
		if err != nil {
			t.Fatalf("failed to start postgres container: %v", err)
		}

		testCleanup = func() {
			if testPool != nil {
				testPool.Close()
			}
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %s", err)
			}
		}

		connectionStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			testCleanup()
			t.Fatalf("failed to get connection string: %v", err)
		}

		pool, err := pgxpool.New(ctx, connectionStr)
		if err != nil {
			testCleanup()
			t.Fatalf("could not connect to database: %v", err)
		}

		testPool = pool
		testDSN = connectionStr
	})

	return testDSN
}

// registryUsedBytes reads a site's persisted usage straight from the
// registry table.
func registryUsedBytes(t *testing.T, table, site string) int64 {
	t.Helper()

	var used int64
	query := fmt.Sprintf("SELECT used_bytes FROM %s WHERE name = $1", table)
	err := testPool.QueryRow(context.Background(), query, site).Scan(&used)
	require.NoError(t, err, "read used_bytes for %s", site)
	return used
}
