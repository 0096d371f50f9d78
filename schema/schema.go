// Package schema is an opt-in convenience for standing up the
// pgjobq.queues/pgjobq.messages tables in a scratch database (tests,
// local dev). It is never imported by the core Store/Queue types —
// schema ownership in a real deployment belongs to whatever migration
// tool already manages that database.
package schema

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var migrations embed.FS

// Migrate applies every pending migration against the database at dsn.
// It is idempotent: running it against an already-migrated database is
// a no-op.
func Migrate(dsn string) error {
	source, err := iofs.New(migrations, "sql")
	if err != nil {
		return fmt.Errorf("schema: load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("schema: open migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("schema: apply migrations: %w", err)
	}
	return nil
}

// Down reverts every applied migration. Intended for test teardown.
func Down(dsn string) error {
	source, err := iofs.New(migrations, "sql")
	if err != nil {
		return fmt.Errorf("schema: load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("schema: open migrator: %w", err)
	}
	defer m.Close()

	if err := m.Down(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("schema: revert migrations: %w", err)
	}
	return nil
}
