package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/RezaEskandarii/gofire/internal/constants"
	"github.com/RezaEskandarii/gofire/internal/db/migrations"
	"github.com/RezaEskandarii/gofire/internal/lock"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

// Migrator applies the embedded schema to a database.
type Migrator func(ctx context.Context, db *sql.DB) error

// Open opens a lib/pq pool and verifies it with a ping.
func Open(ctx context.Context, postgresURL string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Init runs schema migrations. Only one process migrates at a time: the
// migration runs while holding the migration advisory lock on a dedicated
// session.
//
// The function performs the following steps:
//  1. Opens a lock session and blocks on the migration lock.
//  2. Runs migrate (pass nil to use the embedded golang-migrate source).
//  3. Releases the lock by closing the session.
func Init(ctx context.Context, db *sql.DB, sessions lock.SessionFactory, migrator Migrator, logger *slog.Logger) error {
	if migrator == nil {
		migrator = MigrateUp
	}
	if logger == nil {
		logger = slog.Default()
	}

	session, err := sessions.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to open lock session: %w", err)
	}
	defer func() {
		if err := session.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to close migration lock session", "error", err)
		}
	}()

	if err := session.Lock(ctx, lock.NamedKey(constants.MigrationLock)); err != nil {
		return err
	}

	logger.Info("running migrations")
	if err := migrator(ctx, db); err != nil {
		return err
	}
	logger.Info("migrations complete")
	return nil
}

// MigrateUp applies every pending embedded migration. It runs on a
// connection of its own that goes back to the pool when it returns; the
// pool itself stays open.
func MigrateUp(ctx context.Context, db *sql.DB) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("migration connection: %w", err)
	}

	driver, err := migratepg.WithConnection(ctx, conn, &migratepg.Config{MigrationsTable: "gofire_schema_migrations"})
	if err != nil {
		_ = conn.Close()
		_ = src.Close()
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = driver.Close()
		_ = src.Close()
		return fmt.Errorf("migrate init: %w", err)
	}
	// Closes the source and the pinned connection, not db.
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
