// Package testutil starts a Postgres testcontainer with the gofire schema
// applied, for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"testing"

	"github.com/RezaEskandarii/gofire/internal/db"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// TestDB is a migrated database and the DSN it was opened with. LISTEN
// connections and extra pools are opened from DSN.
type TestDB struct {
	*sql.DB
	DSN string
}

// NewTestDB starts a Postgres container, runs all migrations and returns a
// pool sized for maxConns. The container and pool are cleaned up via
// t.Cleanup.
func NewTestDB(t testing.TB, maxConns int) *TestDB {
	t.Helper()
	ctx := context.Background()

	pgCtr, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("gofire_test"),
		tcpostgres.WithUsername("gofire_test"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgCtr); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := pgCtr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	pool, err := db.Open(ctx, dsn, maxConns)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	if err := db.MigrateUp(ctx, pool); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	return &TestDB{DB: pool, DSN: dsn}
}
